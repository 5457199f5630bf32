// ABOUTME: High-level Server API for the buffer
// ABOUTME: Wires the store, TCP listener, WebSocket bridge, metrics, mDNS and NATS relay together
package ftbuffer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/ftbuffer/internal/config"
	"github.com/Resonate-Protocol/ftbuffer/internal/discovery"
	"github.com/Resonate-Protocol/ftbuffer/internal/metrics"
	"github.com/Resonate-Protocol/ftbuffer/internal/notify"
	"github.com/Resonate-Protocol/ftbuffer/internal/server"
	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/internal/ui"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ServerConfig configures a buffer server
type ServerConfig struct {
	// Addr is the TCP listen address (default: localhost:1972)
	Addr string

	// Name of the server for identification and mDNS
	Name string

	// WebSocketAddr enables the WebSocket bridge when set
	WebSocketAddr string

	// MetricsAddr serves /metrics and /health when set
	MetricsAddr string

	// NATSURL enables the event relay when set
	NATSURL string

	// NATSSubject prefixes relayed subjects (default: ftbuffer)
	NATSSubject string

	// EnableMDNS advertises the server on the local network
	EnableMDNS bool

	// MaxPayload bounds request sizes (default: protocol.DefaultMaxPayload)
	MaxPayload int

	// GracePeriod is how long Stop lets sessions finish (default: 5s)
	GracePeriod time.Duration
}

// ConfigFromFile converts a loaded configuration.
func ConfigFromFile(c config.Config) ServerConfig {
	return ServerConfig{
		Addr:          c.Addr(),
		Name:          c.MDNS.Name,
		WebSocketAddr: c.WebSocket,
		MetricsAddr:   c.Metrics,
		NATSURL:       c.NATS.URL,
		NATSSubject:   c.NATS.Subject,
		EnableMDNS:    c.MDNS.Enabled,
		MaxPayload:    c.MaxPayload,
		GracePeriod:   c.GracePeriod,
	}
}

// Server is a buffer server
type Server struct {
	config   ServerConfig
	serverID string

	store    *store.Store
	listener *server.Listener
	bridge   *server.Bridge
	registry *prometheus.Registry
	metrics  *metrics.Server
	mdns     *discovery.Manager
	nc       *nats.Conn

	tcp     net.Listener
	started time.Time
	group   *errgroup.Group

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a server. Nothing is bound until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Addr == "" {
		config.Addr = net.JoinHostPort(configDefaults.Host, strconv.Itoa(configDefaults.Port))
	}
	if config.Name == "" {
		config.Name = "FieldTrip Buffer"
	}
	if config.MaxPayload == 0 {
		config.MaxPayload = protocol.DefaultMaxPayload
	}
	if config.GracePeriod == 0 {
		config.GracePeriod = server.DefaultGracePeriod
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		registry: metrics.NewRegistry(),
	}

	var storeCfgs []store.Cfg
	if config.NATSURL != "" {
		relay, nc, err := notify.Connect(config.NATSURL, config.NATSSubject)
		if err != nil {
			return nil, err
		}
		s.nc = nc
		storeCfgs = append(storeCfgs, store.WithEventSink(relay))
	}

	st, err := store.New(storeCfgs...)
	if err != nil {
		s.closeNATS()
		return nil, errors.Wrap(err, "create store failed")
	}
	s.store = st
	metrics.RegisterStore(s.registry, st.Stats)

	s.listener, err = server.NewListener(st,
		server.WithMetrics(metrics.New(s.registry)),
		server.WithMaxPayload(config.MaxPayload),
		server.WithGracePeriod(config.GracePeriod),
	)
	if err != nil {
		s.closeNATS()
		return nil, err
	}
	if config.WebSocketAddr != "" {
		s.bridge = server.NewBridge(s.listener)
	}
	if config.MetricsAddr != "" {
		s.metrics = metrics.NewServer(config.MetricsAddr, s.registry)
	}
	return s, nil
}

var configDefaults = config.Default()

// Start binds every configured endpoint and begins serving. A bind failure
// is returned and leaves nothing listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already started")
	}

	tcp, err := server.Listen(s.config.Addr)
	if err != nil {
		return err
	}
	if s.bridge != nil {
		if err := s.bridge.Listen(s.config.WebSocketAddr); err != nil {
			tcp.Close()
			return err
		}
	}
	if s.metrics != nil {
		if err := s.metrics.Listen(); err != nil {
			tcp.Close()
			if s.bridge != nil {
				s.bridge.Close()
			}
			return err
		}
	}

	s.tcp = tcp
	s.started = time.Now()
	s.running = true
	logger.WithFields(logrus.Fields{
		"name": s.config.Name,
		"id":   s.serverID,
		"addr": tcp.Addr().String(),
	}).Info("buffer server starting")

	s.group = new(errgroup.Group)
	s.group.Go(func() error {
		err := s.listener.Serve(tcp)
		if errors.Is(err, server.ErrListenerClosed) {
			return nil
		}
		return err
	})
	if s.bridge != nil {
		s.group.Go(s.bridge.Serve)
	}
	if s.metrics != nil {
		s.group.Go(s.metrics.Serve)
	}

	if s.config.EnableMDNS {
		s.advertise()
	}
	return nil
}

func (s *Server) advertise() {
	cfg := discovery.Config{
		ServiceName: s.config.Name,
		Port:        s.tcp.Addr().(*net.TCPAddr).Port,
		Version:     int(protocol.Version),
	}
	if addr := s.WebSocketAddr(); addr != nil {
		cfg.WebSocketPort = addr.(*net.TCPAddr).Port
	}
	s.mdns = discovery.NewManager(cfg)
	if err := s.mdns.Advertise(); err != nil {
		logger.WithError(err).Warn("mDNS advertisement failed")
	}
}

// Wait blocks until every endpoint has stopped and returns the first
// serving error.
func (s *Server) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop stops accepting connections, lets sessions finish within the grace
// period or until ctx is done, and releases every endpoint.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()

		if s.mdns != nil {
			s.mdns.Stop()
		}
		var errs []error
		if s.bridge != nil {
			errs = append(errs, s.bridge.Shutdown(ctx))
		}
		if running {
			errs = append(errs, s.listener.Shutdown(ctx))
		}
		if s.metrics != nil {
			errs = append(errs, s.metrics.Shutdown(ctx))
		}
		s.closeNATS()
		if running {
			errs = append(errs, s.Wait())
		}
		for _, err := range errs {
			if err != nil {
				s.stopErr = err
				break
			}
		}
		logger.WithField("name", s.config.Name).Info("buffer server stopped")
	})
	return s.stopErr
}

func (s *Server) closeNATS() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
	}
}

// Addr returns the bound TCP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// WebSocketAddr returns the bridge address, or nil when disabled.
func (s *Server) WebSocketAddr() net.Addr {
	if s.bridge == nil {
		return nil
	}
	return s.bridge.Addr()
}

// MetricsAddr returns the metrics address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Addr()
}

// ID returns the instance identifier.
func (s *Server) ID() string {
	return s.serverID
}

// Stats returns a summary of the buffer.
func (s *Server) Stats() store.Stats {
	return s.store.Stats()
}

// Sessions lists connected clients.
func (s *Server) Sessions() []server.SessionInfo {
	return s.listener.Sessions()
}

// Registry returns the metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Snapshot collects what the status monitor shows.
func (s *Server) Snapshot() ui.Snapshot {
	snap := ui.Snapshot{
		Name:     s.config.Name,
		Stats:    s.Stats(),
		Sessions: s.Sessions(),
	}
	if addr := s.Addr(); addr != nil {
		snap.Addr = addr.String()
	}
	if addr := s.WebSocketAddr(); addr != nil {
		snap.WebSocket = addr.String()
	}
	return snap
}

// Monitor returns a terminal status monitor for this server.
func (s *Server) Monitor() *ui.Monitor {
	return ui.NewMonitor(s.Snapshot)
}
