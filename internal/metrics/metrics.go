// ABOUTME: Prometheus instrumentation for buffer sessions and the store
// ABOUTME: A nil *Metrics is valid and records nothing
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

const namespace = "ftbuffer"

// Metrics holds the session and request instruments.
type Metrics struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	sessions       *prometheus.GaugeVec
	sessionsTotal  *prometheus.CounterVec
	protocolErrors prometheus.Counter
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
}

// New creates and registers the instruments. A nil registerer yields nil metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests answered, by command and status",
		}, []string{"command", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Time from request decoded to response written",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"command"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently connected",
		}, []string{"transport"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "opened_total",
			Help:      "Sessions accepted since start",
		}, []string{"transport"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "protocol_errors_total",
			Help:      "Sessions terminated by a protocol error",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "received_bytes_total",
			Help:      "Message bytes received",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sent_bytes_total",
			Help:      "Message bytes sent",
		}),
	}

	reg.MustRegister(m.requests, m.latency, m.sessions, m.sessionsTotal,
		m.protocolErrors, m.bytesIn, m.bytesOut)
	return m
}

// SessionOpened counts a new session on transport ("tcp" or "websocket").
func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Inc()
	m.sessionsTotal.WithLabelValues(transport).Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed(transport string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(transport).Dec()
}

// Request records one answered request.
func (m *Metrics) Request(req protocol.Command, status protocol.Command, d time.Duration, in, out int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if status.IsErr() {
		outcome = "error"
	}
	m.requests.WithLabelValues(req.String(), outcome).Inc()
	m.latency.WithLabelValues(req.String()).Observe(d.Seconds())
	m.bytesIn.Add(float64(in))
	m.bytesOut.Add(float64(out))
}

// ProtocolError counts a session ended by a codec failure.
func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// StatsFunc reports the current state of a store.
type StatsFunc func() store.Stats

// RegisterStore exposes store gauges computed on scrape.
func RegisterStore(reg prometheus.Registerer, stats StatsFunc) {
	if reg == nil {
		return
	}
	gauge := func(name, help string, value func(store.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	reg.MustRegister(
		gauge("samples", "Samples in the buffer", func(s store.Stats) float64 { return float64(s.Samples) }),
		gauge("events", "Events in the buffer", func(s store.Stats) float64 { return float64(s.Events) }),
		gauge("data_bytes", "Bytes of sample data held", func(s store.Stats) float64 { return float64(s.DataBytes) }),
		gauge("channels", "Channels in the current header", func(s store.Stats) float64 { return float64(s.Header.NumChannels) }),
		gauge("state", "0 empty, 1 header set, 2 streaming", func(s store.Stats) float64 { return float64(s.State) }),
	)
}
