// ABOUTME: Tests for the ftbuffer command-line tool
// ABOUTME: Flag merging, output formatting and the watch loop against a loopback server
package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

func TestServeConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftbuffer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 2000\nwebsocket: \":2001\"\nmdns:\n  name: lab\n"), 0o644))

	require.NoError(t, serveCmd.ParseFlags([]string{"--config", path, "--port", "3000", "--metrics-addr", ":9100"}))
	cfg, err := serveConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":2001", cfg.WebSocket)
	assert.Equal(t, ":9100", cfg.Metrics)
	assert.Equal(t, "lab", cfg.MDNS.Name)
	assert.Equal(t, "localhost", cfg.Host)
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	printHeader(&buf, protocol.Header{
		NumChannels: 2,
		SampleRate:  500,
		DataType:    array.Int16,
		NumSamples:  10,
		Chunks:      []protocol.Chunk{protocol.ChannelNamesChunk([]string{"left", "right"})},
	})
	out := buf.String()
	assert.Contains(t, out, "500 Hz")
	assert.Contains(t, out, "int16")
	assert.Contains(t, out, "left, right")
}

func TestPrintBlock(t *testing.T) {
	blk, err := array.FromSlice([]int16{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printBlock(&buf, 10, blk, 2))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"10", "1", "2"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"11", "3", "4"}, strings.Fields(lines[2]))
	assert.Contains(t, lines[3], "1 more")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, `"go"`, formatValue(protocol.StringValue("go")))
	assert.Equal(t, "2.5", formatValue(protocol.ScalarValue(2.5)))
}

func TestWatch(t *testing.T) {
	srv, err := ftbuffer.NewServer(ftbuffer.ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	writer, err := ftbuffer.Dial(ctx, srv.Addr().String())
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.PutHeader(ctx, protocol.Header{NumChannels: 1, SampleRate: 10, DataType: array.Double}))

	reader, err := ftbuffer.Dial(ctx, srv.Addr().String())
	require.NoError(t, err)
	defer reader.Close()

	var out safeBuffer
	wctx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- watch(wctx, reader, &out, 100*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, writer.PutEvents(ctx, protocol.Event{Type: "marker", Value: protocol.StringValue("A")}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "marker")
	}, 2*time.Second, 20*time.Millisecond)

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, out.String(), "samples=0 events=1")
}
