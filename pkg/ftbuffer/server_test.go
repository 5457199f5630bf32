// ABOUTME: Integration tests for the Server and Client APIs
// ABOUTME: Runs a real server on loopback and drives it through the typed client
package ftbuffer

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/ftbuffer/internal/config"
	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func dialServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	c, err := Dial(testContext(t), srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func floatHeader(channels int) protocol.Header {
	return protocol.Header{NumChannels: channels, SampleRate: 1000, DataType: array.Float}
}

func floatBlock(t *testing.T, channels, samples int, start float32) array.Array {
	t.Helper()
	v := make([]float32, channels*samples)
	for i := range v {
		v[i] = start + float32(i)
	}
	blk, err := array.FromSlice(v, channels, samples)
	require.NoError(t, err)
	return blk
}

func TestNewServerDefaults(t *testing.T) {
	srv, err := NewServer(ServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, "localhost:1972", srv.config.Addr)
	assert.Equal(t, "FieldTrip Buffer", srv.config.Name)
	assert.Equal(t, protocol.DefaultMaxPayload, srv.config.MaxPayload)
	assert.NotEmpty(t, srv.ID())
	assert.Nil(t, srv.Addr())
	assert.Nil(t, srv.WebSocketAddr())
	assert.Nil(t, srv.MetricsAddr())
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestNewServerRejectsConfig(t *testing.T) {
	_, err := NewServer(ServerConfig{GracePeriod: -time.Second})
	assert.Error(t, err)
}

func TestConfigFromFile(t *testing.T) {
	c := config.Default()
	c.Port = 2000
	c.WebSocket = ":2001"
	c.MDNS = config.MDNSConfig{Enabled: true, Name: "lab"}
	sc := ConfigFromFile(c)
	assert.Equal(t, "localhost:2000", sc.Addr)
	assert.Equal(t, ":2001", sc.WebSocketAddr)
	assert.Equal(t, "lab", sc.Name)
	assert.True(t, sc.EnableMDNS)
	assert.Equal(t, "ftbuffer", sc.NATSSubject)
}

func TestScenario(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	c := dialServer(t, srv)
	ctx := testContext(t)

	require.NoError(t, c.PutHeader(ctx, floatHeader(4)))
	blk := floatBlock(t, 4, 100, 0)
	require.NoError(t, c.PutData(ctx, blk))

	got, err := c.GetData(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 100}, got.Sizes)
	assert.Equal(t, array.Float, got.Type)
	assert.Len(t, got.Data, 1600)
	assert.Equal(t, blk.Data, got.Data)

	_, err = c.GetData(ctx, 50, 150)
	assert.True(t, errors.Is(err, protocol.ErrRange), "got %v", err)
	assert.True(t, IsServerError(err))
	assert.False(t, IsTransportError(err))

	require.NoError(t, c.FlushData(ctx))
	_, err = c.GetData(ctx, 0, 1)
	assert.True(t, errors.Is(err, protocol.ErrRange), "got %v", err)

	hdr, err := c.GetHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, hdr.NumChannels)
	assert.Equal(t, 0, hdr.NumSamples)
}

func TestClientRequestErrors(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	c := dialServer(t, srv)
	ctx := testContext(t)

	err := c.PutData(ctx, floatBlock(t, 2, 5, 0))
	assert.True(t, errors.Is(err, protocol.ErrNoHeader), "got %v", err)

	_, err = c.GetHeader(ctx)
	assert.True(t, errors.Is(err, protocol.ErrNoHeader), "got %v", err)

	require.NoError(t, c.PutHeader(ctx, floatHeader(2)))
	err = c.PutData(ctx, floatBlock(t, 3, 5, 0))
	assert.True(t, errors.Is(err, protocol.ErrTypeMismatch), "got %v", err)

	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, protocol.PutDat, se.Command)
	assert.Equal(t, protocol.ReasonTypeMismatch, se.Reason)

	// The connection survives request errors.
	counts, err := c.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Counts{}, counts)
}

func TestClientEvents(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	c := dialServer(t, srv)
	ctx := testContext(t)

	require.NoError(t, c.PutHeader(ctx, floatHeader(1)))
	require.NoError(t, c.PutEvents(ctx,
		protocol.Event{Type: "stimulus", Value: protocol.StringValue("left"), Sample: 3},
		protocol.Event{Type: "response", Value: protocol.ScalarValue(2), Sample: 9, Duration: 4},
	))

	all, err := c.GetAllEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "left", all[0].Value.Str)
	assert.Equal(t, 4, all[1].Duration)

	tail, err := c.GetEvents(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "response", tail[0].Type)

	require.NoError(t, c.FlushEvents(ctx))
	all, err = c.GetAllEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, c.FlushHeader(ctx))
	_, err = c.GetHeader(ctx)
	assert.True(t, errors.Is(err, protocol.ErrNoHeader), "got %v", err)
}

func TestClientWaitData(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	writer := dialServer(t, srv)
	reader := dialServer(t, srv)
	ctx := testContext(t)

	require.NoError(t, writer.PutHeader(ctx, floatHeader(1)))

	start := time.Now()
	counts, err := reader.WaitData(ctx, protocol.WaitRequest{Samples: 10, Timeout: 50 * time.Millisecond})
	require.NoError(t, err, "a timeout is not an error")
	assert.Equal(t, 0, counts.Samples)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	done := make(chan protocol.Counts, 1)
	go func() {
		c, err := reader.WaitData(ctx, protocol.WaitRequest{Samples: 10, Timeout: 5 * time.Second})
		if err == nil {
			done <- c
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, writer.PutData(ctx, floatBlock(t, 1, 10, 0)))

	select {
	case c, ok := <-done:
		require.True(t, ok)
		assert.Equal(t, 10, c.Samples)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not wake on new data")
	}
}

func TestConcurrentReadersSeeWholeBlocks(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	writer := dialServer(t, srv)
	ctx := testContext(t)
	require.NoError(t, writer.PutHeader(ctx, floatHeader(2)))

	const blocks, size = 20, 25
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		reader := dialServer(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				blk, err := reader.GetAllData(ctx)
				if errors.Is(err, protocol.ErrRange) {
					continue
				}
				if err != nil {
					errs <- err
					return
				}
				v, err := array.ToSlice[float32](blk)
				if err != nil {
					errs <- err
					return
				}
				for j, x := range v {
					if x != float32(j) {
						errs <- errors.Errorf("sample %d = %v", j, x)
						return
					}
				}
			}
		}()
	}

	for b := 0; b < blocks; b++ {
		require.NoError(t, writer.PutData(ctx, floatBlock(t, 2, size, float32(b*2*size))))
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	counts, err := writer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, blocks*size, counts.Samples)
}

func TestWebSocketClient(t *testing.T) {
	srv := startServer(t, ServerConfig{WebSocketAddr: "127.0.0.1:0"})
	require.NotNil(t, srv.WebSocketAddr())

	ctx := testContext(t)
	c, err := DialWebSocket(ctx, srv.WebSocketAddr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutHeader(ctx, floatHeader(3)))
	require.NoError(t, c.PutData(ctx, floatBlock(t, 3, 7, 1)))

	tcp := dialServer(t, srv)
	hdr, err := tcp.GetHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, hdr.NumSamples, "both transports share one store")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := startServer(t, ServerConfig{MetricsAddr: "127.0.0.1:0"})
	c := dialServer(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.PutHeader(ctx, floatHeader(1)))
	require.NoError(t, c.PutData(ctx, floatBlock(t, 1, 12, 0)))

	resp, err := http.Get("http://" + srv.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ftbuffer_store_samples 12")
	assert.Contains(t, string(body), "ftbuffer_session_requests_total")
}

func TestStartBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv, err := NewServer(ServerConfig{Addr: taken.Addr().String()})
	require.NoError(t, err)
	err = srv.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "listen"), "got %v", err)
	assert.Nil(t, srv.Addr())

	srv, err = NewServer(ServerConfig{Addr: "127.0.0.1:0", WebSocketAddr: taken.Addr().String()})
	require.NoError(t, err)
	require.Error(t, srv.Start())
	assert.Nil(t, srv.Addr())
}

func TestStopIsIdempotent(t *testing.T) {
	srv := startServer(t, ServerConfig{})
	addr := srv.Addr().String()
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Wait())

	_, err := Dial(testContext(t), addr)
	assert.True(t, IsTransportError(err), "got %v", err)
}

func TestSnapshot(t *testing.T) {
	srv := startServer(t, ServerConfig{Name: "lab", WebSocketAddr: "127.0.0.1:0"})
	c := dialServer(t, srv)
	ctx := testContext(t)
	require.NoError(t, c.PutHeader(ctx, floatHeader(2)))
	require.NoError(t, c.PutData(ctx, floatBlock(t, 2, 3, 0)))

	snap := srv.Snapshot()
	assert.Equal(t, "lab", snap.Name)
	assert.Equal(t, srv.Addr().String(), snap.Addr)
	assert.Equal(t, srv.WebSocketAddr().String(), snap.WebSocket)
	assert.Equal(t, store.Streaming, snap.Stats.State)
	assert.Equal(t, 3, snap.Stats.Samples)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "tcp", snap.Sessions[0].Transport)
	assert.NotNil(t, srv.Monitor())
}
