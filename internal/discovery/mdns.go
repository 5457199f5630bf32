// ABOUTME: mDNS advertisement and browsing of buffer servers
// ABOUTME: Servers announce _ftbuffer._tcp with the protocol version and bridge port in TXT records
package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ServiceType is the DNS-SD service type of buffer servers.
const ServiceType = "_ftbuffer._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName   string
	Port          int
	WebSocketPort int // 0 when the bridge is disabled
	Version       int
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan ServerInfo
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name          string
	Host          string
	Port          int
	WebSocketPort int
	Version       int
}

// Addr returns host:port of the TCP endpoint.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan ServerInfo, 10),
	}
}

// txtRecords encodes the advertised properties.
func (c Config) txtRecords() []string {
	txt := []string{"version=" + strconv.Itoa(c.Version)}
	if c.WebSocketPort > 0 {
		txt = append(txt, "wsport="+strconv.Itoa(c.WebSocketPort), "path=/buffer")
	}
	return txt
}

// Advertise announces this server until Stop.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return errors.Wrap(err, "get local IPs failed")
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.config.txtRecords(),
	)
	if err != nil {
		return errors.Wrap(err, "create service failed")
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return errors.Wrap(err, "create mdns server failed")
	}
	logger.WithFields(logrus.Fields{
		"name": m.config.ServiceName,
		"port": m.config.Port,
		"type": ServiceType,
	}).Info("advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse keeps searching for servers and delivers them on Servers until Stop.
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		found, err := Lookup(m.ctx, 3*time.Second)
		if err != nil {
			logger.WithError(err).Debug("mDNS query failed")
		}
		for _, s := range found {
			select {
			case m.servers <- s:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// Lookup runs one query and returns the servers that answered within timeout.
func Lookup(ctx context.Context, timeout time.Duration) ([]ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []ServerInfo
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			s := parseEntry(entry)
			logger.WithField("addr", s.Addr()).Debug("discovered server")
			found = append(found, s)
		}
	}()

	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return found, errors.Wrap(err, "mDNS query failed")
	}
	return found, nil
}

func parseEntry(entry *mdns.ServiceEntry) ServerInfo {
	s := ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Port: entry.Port,
	}
	switch {
	case entry.AddrV4 != nil:
		s.Host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		s.Host = entry.AddrV6.String()
	default:
		s.Host = strings.TrimSuffix(entry.Host, ".")
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "version":
			s.Version = n
		case "wsport":
			s.WebSocketPort = n
		}
	}
	return s
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan ServerInfo {
	return m.servers
}

// Stop stops advertising and browsing.
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
