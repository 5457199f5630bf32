// ABOUTME: Tests for mDNS discovery
// ABOUTME: TXT record encoding and service entry parsing
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Buffer", Port: 1972, Version: 1})
	assert.NotNil(t, mgr)
	assert.NotNil(t, mgr.Servers())
	mgr.Stop()
}

func TestTXTRecords(t *testing.T) {
	assert.Equal(t, []string{"version=1"}, Config{Version: 1}.txtRecords())
	assert.Equal(t, []string{"version=1", "wsport=1973", "path=/buffer"}, Config{Version: 1, WebSocketPort: 1973}.txtRecords())
}

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry mdns.ServiceEntry
		want  ServerInfo
	}{
		{
			name: "ipv4 with bridge",
			entry: mdns.ServiceEntry{
				Name:       "lab." + ServiceType + ".local.",
				AddrV4:     net.ParseIP("192.168.1.20"),
				Port:       1972,
				InfoFields: []string{"version=1", "wsport=1973", "path=/buffer"},
			},
			want: ServerInfo{Name: "lab", Host: "192.168.1.20", Port: 1972, WebSocketPort: 1973, Version: 1},
		},
		{
			name: "host name only",
			entry: mdns.ServiceEntry{
				Name:       "bench." + ServiceType + ".local.",
				Host:       "bench.local.",
				Port:       2000,
				InfoFields: []string{"version=x", "junk"},
			},
			want: ServerInfo{Name: "bench", Host: "bench.local", Port: 2000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseEntry(&tt.entry))
		})
	}
}

func TestServerInfoAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:1972", ServerInfo{Host: "10.0.0.1", Port: 1972}.Addr())
}
