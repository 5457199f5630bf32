// ABOUTME: Tests for buffer metrics
// ABOUTME: Nil safety, request counters, store gauges and the HTTP endpoints
package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		m.SessionOpened("tcp")
		m.SessionClosed("tcp")
		m.Request(protocol.GetHdr, protocol.GetOK, time.Millisecond, 8, 8)
		m.ProtocolError()
	})
	RegisterStore(nil, nil)
}

func TestRequestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened("tcp")
	m.SessionOpened("websocket")
	m.SessionClosed("tcp")
	m.Request(protocol.PutDat, protocol.PutOK, time.Millisecond, 100, 8)
	m.Request(protocol.PutDat, protocol.PutErr, time.Millisecond, 100, 12)
	m.Request(protocol.GetHdr, protocol.GetOK, time.Millisecond, 8, 40)
	m.ProtocolError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("PUT_DAT", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("PUT_DAT", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("websocket")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("tcp"))+testutil.ToFloat64(m.sessionsTotal.WithLabelValues("websocket")))
	assert.Equal(t, 208.0, testutil.ToFloat64(m.bytesIn))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.bytesOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
}

func TestStoreGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterStore(reg, func() store.Stats {
		return store.Stats{State: store.Streaming, Samples: 100, Events: 3, DataBytes: 1600}
	})

	expected := `
# HELP ftbuffer_store_samples Samples in the buffer
# TYPE ftbuffer_store_samples gauge
ftbuffer_store_samples 100
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ftbuffer_store_samples"))
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestServerEndpoints(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.SessionOpened("tcp")

	srv := NewServer("127.0.0.1:0", reg)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	defer srv.Shutdown(context.Background())

	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "ftbuffer_session_active")
}
