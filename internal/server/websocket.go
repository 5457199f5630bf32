// ABOUTME: WebSocket bridge that carries buffer protocol messages in binary frames
// ABOUTME: Each upgraded connection runs the same session code as a TCP connection
package server

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

// Bridge serves the buffer protocol over WebSocket at protocol.WebSocketPath.
type Bridge struct {
	listener *Listener
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewBridge returns a bridge whose sessions belong to l.
func NewBridge(l *Listener) *Bridge {
	return &Bridge{
		listener: l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin != "" {
					logger.WithField("origin", origin).Debug("accepting websocket origin")
				}
				return true
			},
		},
	}
}

// Handler returns the HTTP handler for the bridge endpoint.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.WebSocketPath, b.handleWebSocket)
	return mux
}

func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(int64(b.listener.maxPayload) + protocol.HeaderSize)

	stream := protocol.NewWebSocketStream(ws)
	if err := b.listener.ServeConn(stream, r.RemoteAddr, "websocket", true); err != nil {
		logger.WithError(err).Debug("rejecting websocket during shutdown")
		stream.Close()
	}
}

// Listen binds addr for the bridge.
func (b *Bridge) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen websocket on %s failed", addr)
	}
	b.mu.Lock()
	b.ln = ln
	b.server = &http.Server{Handler: b.Handler()}
	b.mu.Unlock()
	return nil
}

// Serve blocks until Shutdown. It returns nil after a clean shutdown.
func (b *Bridge) Serve() error {
	b.mu.Lock()
	srv, ln := b.server, b.ln
	b.mu.Unlock()
	if srv == nil {
		return errors.New("websocket bridge not listening")
	}
	logger.WithField("addr", ln.Addr().String()).Info("websocket bridge listening")
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "serve websocket failed")
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Shutdown stops the HTTP server. Upgraded connections are hijacked and
// end with the listener's sessions.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	srv := b.server
	b.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Close releases the bound address of a bridge that never served.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Close()
}
