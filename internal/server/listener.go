// ABOUTME: TCP listener that starts an independent session per accepted connection
// ABOUTME: Shutdown stops accepting, lets sessions finish and force-closes them after a grace period
package server

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/internal/metrics"
	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultGracePeriod is how long Shutdown waits before closing sessions.
const DefaultGracePeriod = 5 * time.Second

// ErrListenerClosed is returned by Serve and ServeConn after Shutdown.
var ErrListenerClosed = errors.New("listener closed")

// Cfg configures a Listener.
type Cfg func(*Listener) error

// WithMetrics records session and request metrics.
func WithMetrics(m *metrics.Metrics) Cfg {
	return func(l *Listener) error {
		l.metrics = m
		return nil
	}
}

// WithMaxPayload bounds the bufsize of accepted requests.
func WithMaxPayload(n int) Cfg {
	return func(l *Listener) error {
		if n <= 0 {
			return errors.Errorf("max payload %d must be positive", n)
		}
		l.maxPayload = n
		return nil
	}
}

// WithGracePeriod sets how long Shutdown lets sessions finish.
func WithGracePeriod(d time.Duration) Cfg {
	return func(l *Listener) error {
		if d < 0 {
			return errors.Errorf("grace period %s is negative", d)
		}
		l.grace = d
		return nil
	}
}

// Listener accepts connections and serves them against one store.
type Listener struct {
	store      *store.Store
	metrics    *metrics.Metrics
	maxPayload int
	grace      time.Duration

	mu        sync.Mutex
	listeners []net.Listener
	sessions  map[*Session]struct{}
	shutdown  bool
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewListener returns a listener serving st.
func NewListener(st *store.Store, cfgs ...Cfg) (*Listener, error) {
	if st == nil {
		return nil, errors.New("nil store")
	}
	l := &Listener{
		store:      st,
		maxPayload: protocol.DefaultMaxPayload,
		grace:      DefaultGracePeriod,
		sessions:   make(map[*Session]struct{}),
		quit:       make(chan struct{}),
	}
	for _, cfg := range cfgs {
		if err := cfg(l); err != nil {
			return nil, errors.Wrap(err, "configure listener failed")
		}
	}
	return l, nil
}

// Listen binds addr. Bind failures are returned to the caller.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s failed", addr)
	}
	return ln, nil
}

// ListenAndServe binds addr and serves until Shutdown.
func (l *Listener) ListenAndServe(addr string) error {
	ln, err := Listen(addr)
	if err != nil {
		return err
	}
	return l.Serve(ln)
}

// Serve accepts connections on ln until Shutdown, starting one session per
// connection. Accept errors on a single connection never stop the loop.
// It returns nil after Shutdown.
func (l *Listener) Serve(ln net.Listener) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		ln.Close()
		return ErrListenerClosed
	}
	l.listeners = append(l.listeners, ln)
	l.mu.Unlock()

	logger.WithField("addr", ln.Addr().String()).Info("buffer listening")

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return nil
			default:
			}
			if !retryableAccept(err) {
				return errors.Wrap(err, "accept failed")
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			logger.WithError(err).Warnf("accept failed, retrying in %s", delay)
			select {
			case <-l.quit:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		if err := l.ServeConn(conn, conn.RemoteAddr().String(), "tcp", false); err != nil {
			conn.Close()
		}
	}
}

// retryableAccept reports whether an accept error leaves the listener usable:
// timeouts, descriptor exhaustion and connections aborted before accept.
func retryableAccept(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET)
}

// ServeConn starts a session on rw. With wait set it blocks until the
// session ends; otherwise the session runs in its own goroutine.
func (l *Listener) ServeConn(rw io.ReadWriteCloser, remote, transport string, wait bool) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return ErrListenerClosed
	}
	s := newSession(rw, remote, transport, l)
	l.sessions[s] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	run := func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.sessions, s)
			l.mu.Unlock()
		}()
		s.run(context.Background())
	}
	if wait {
		run()
		return nil
	}
	go run()
	return nil
}

// Addr returns the address of the first listener, or nil.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.listeners) == 0 {
		return nil
	}
	return l.listeners[0].Addr()
}

// Sessions lists the connected sessions.
func (l *Listener) Sessions() []SessionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SessionInfo, 0, len(l.sessions))
	for s := range l.sessions {
		out = append(out, s.info())
	}
	return out
}

// Shutdown stops accepting connections and waits for sessions to finish.
// Idle sessions end at once, a pending WAIT_DAT answers with the current
// counts. Sessions still running after the grace period, or when ctx is
// done, are closed.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil
	}
	l.shutdown = true
	close(l.quit)
	var errs []error
	for _, ln := range l.listeners {
		if err := ln.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(l.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		l.closeSessions()
		<-done
	case <-ctx.Done():
		l.closeSessions()
		<-done
	}

	logger.Info("buffer listener stopped")
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "close listener failed")
	}
	return nil
}

func (l *Listener) closeSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.sessions {
		s.log.Warn("closing session after grace period")
		s.rw.Close()
	}
}
