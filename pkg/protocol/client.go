// ABOUTME: Low-level request/response connection to a buffer server
// ABOUTME: Works over TCP or a WebSocket bridge, one request in flight at a time
package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketPath is the endpoint of the WebSocket bridge.
const WebSocketPath = "/buffer"

// TransportError reports a failure of the connection itself rather than a
// status returned by the server. The connection is unusable afterwards.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is an _ERR status returned by the server.
type StatusError struct {
	Command Command
	Reason  Reason
	Detail  string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Command, e.Reason, e.Detail)
}

// Unwrap maps the reason to its sentinel so callers can use errors.Is.
func (e *StatusError) Unwrap() error { return e.Reason.Err() }

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Conn exchanges messages with a server. It is safe for concurrent use;
// requests are serialized.
type Conn struct {
	rw         io.ReadWriteCloser
	mu         sync.Mutex
	maxPayload int
	broken     error
}

// NewConn wraps an established stream.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw, maxPayload: DefaultMaxPayload}
}

// Dial connects to a server over TCP.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConn(nc), nil
}

// DialWebSocket connects to the WebSocket bridge of a server. addr is a
// host:port; the path is WebSocketPath.
func DialWebSocket(ctx context.Context, addr string) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: WebSocketPath}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "dial " + u.String(), Err: err}
	}
	return NewConn(NewWebSocketStream(ws)), nil
}

// SetMaxPayload bounds the size of responses the connection accepts.
func (c *Conn) SetMaxPayload(n int) { c.maxPayload = n }

// RoundTrip sends one request and returns the server's response. Status
// errors are returned as the response message, not as an error; only
// transport and codec failures produce an error.
func (c *Conn) RoundTrip(ctx context.Context, cmd Command, payload []byte) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return Message{}, c.broken
	}

	if d, ok := c.rw.(deadliner); ok {
		if dl, has := ctx.Deadline(); has {
			_ = d.SetDeadline(dl)
		}
		expired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			defer close(expired)
			_ = d.SetDeadline(time.Unix(1, 0))
		})
		defer func() {
			if !stop() {
				<-expired
			}
			_ = d.SetDeadline(time.Time{})
		}()
	}

	if err := WriteMessage(c.rw, NewMessage(cmd, payload)); err != nil {
		return Message{}, c.fail("write "+cmd.String(), ctx, err)
	}
	resp, err := ReadMessage(c.rw, c.maxPayload)
	if err != nil {
		return Message{}, c.fail("read "+cmd.OK().String(), ctx, err)
	}
	return resp, nil
}

func (c *Conn) fail(op string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		err = errors.Wrap(ctx.Err(), err.Error())
	}
	c.broken = &TransportError{Op: op, Err: err}
	c.rw.Close()
	return c.broken
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rw.Close()
}

// CheckStatus turns a response into an error when it is not the success
// status of req's family.
func CheckStatus(req Command, resp Message) error {
	switch resp.Command {
	case req.OK():
		return nil
	case req.Err():
		reason, detail := DecodeError(resp.Payload)
		return &StatusError{Command: req, Reason: reason, Detail: detail}
	default:
		return errors.Wrapf(ErrUnknownCommand, "%s answered with %s", req, resp.Command)
	}
}

// wsStream presents a WebSocket as a byte stream. Each Write sends one
// binary frame; reads run across frame boundaries.
type wsStream struct {
	ws  *websocket.Conn
	cur io.Reader
	wmu sync.Mutex
}

// NewWebSocketStream adapts ws to io.ReadWriteCloser.
func NewWebSocketStream(ws *websocket.Conn) io.ReadWriteCloser {
	return &wsStream{ws: ws}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			kind, r, err := s.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			s.cur = r
		}
		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) SetDeadline(t time.Time) error {
	if err := s.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return s.ws.SetWriteDeadline(t)
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.ws.Close()
}
