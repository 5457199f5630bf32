// ABOUTME: Typed client for a buffer server
// ABOUTME: One method per request; server rejections and transport failures are distinct error types
package ftbuffer

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

// ServerError is returned when the server rejected a request. errors.Is
// matches it against protocol.ErrNoHeader, ErrTypeMismatch, ErrRange and
// ErrInvalid.
type ServerError = protocol.StatusError

// TransportError is returned when the server could not be reached or the
// connection failed. The client is unusable afterwards.
type TransportError = protocol.TransportError

// IsServerError reports whether err is a rejection by the server.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsTransportError reports whether err is a connection failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client issues requests on one connection. It is safe for concurrent use;
// requests are serialized.
type Client struct {
	conn *protocol.Conn
}

// Dial connects to a server over TCP.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := protocol.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// DialWebSocket connects to the WebSocket bridge at addr.
func DialWebSocket(ctx context.Context, addr string) (*Client, error) {
	conn, err := protocol.DialWebSocket(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// NewClient uses an established stream.
func NewClient(rw io.ReadWriteCloser) *Client {
	return &Client{conn: protocol.NewConn(rw)}
}

// Do opens a connection to addr, runs fn and closes the connection.
func Do(ctx context.Context, addr string, fn func(*Client) error) error {
	c, err := Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, cmd protocol.Command, payload []byte) ([]byte, error) {
	resp, err := c.conn.RoundTrip(ctx, cmd, payload)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckStatus(cmd, resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// PutHeader replaces the header. This discards all samples and events.
func (c *Client) PutHeader(ctx context.Context, h protocol.Header) error {
	if err := h.Validate(); err != nil {
		return err
	}
	_, err := c.call(ctx, protocol.PutHdr, protocol.EncodeHeader(h))
	return err
}

// PutData appends a channels x samples block.
func (c *Client) PutData(ctx context.Context, block array.Array) error {
	p, err := protocol.EncodeData(block)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, protocol.PutDat, p)
	return err
}

// PutEvents appends events, all or none.
func (c *Client) PutEvents(ctx context.Context, events ...protocol.Event) error {
	p, err := protocol.EncodeEvents(events)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, protocol.PutEvt, p)
	return err
}

// GetHeader returns the header with the current sample and event counts.
func (c *Client) GetHeader(ctx context.Context) (protocol.Header, error) {
	p, err := c.call(ctx, protocol.GetHdr, nil)
	if err != nil {
		return protocol.Header{}, err
	}
	h, err := protocol.DecodeHeader(p)
	return h, errors.Wrap(err, "decode GET_HDR response failed")
}

// GetData returns samples [begin, end).
func (c *Client) GetData(ctx context.Context, begin, end int) (array.Array, error) {
	return c.getData(ctx, protocol.EncodeRange(protocol.Range{Begin: begin, End: end}))
}

// GetAllData returns every sample in the buffer.
func (c *Client) GetAllData(ctx context.Context) (array.Array, error) {
	return c.getData(ctx, nil)
}

func (c *Client) getData(ctx context.Context, rng []byte) (array.Array, error) {
	p, err := c.call(ctx, protocol.GetDat, rng)
	if err != nil {
		return array.Array{}, err
	}
	block, err := protocol.DecodeData(p)
	return block, errors.Wrap(err, "decode GET_DAT response failed")
}

// GetEvents returns events [begin, end).
func (c *Client) GetEvents(ctx context.Context, begin, end int) ([]protocol.Event, error) {
	return c.getEvents(ctx, protocol.EncodeRange(protocol.Range{Begin: begin, End: end}))
}

// GetAllEvents returns every event in the buffer.
func (c *Client) GetAllEvents(ctx context.Context) ([]protocol.Event, error) {
	return c.getEvents(ctx, nil)
}

func (c *Client) getEvents(ctx context.Context, rng []byte) ([]protocol.Event, error) {
	p, err := c.call(ctx, protocol.GetEvt, rng)
	if err != nil {
		return nil, err
	}
	events, err := protocol.DecodeEvents(p)
	return events, errors.Wrap(err, "decode GET_EVT response failed")
}

// WaitData blocks until the buffer holds w.Samples samples, or w.Events
// events when that is non-zero, or until w.Timeout passes. Either way it
// returns the counts at that moment; a timeout is not an error.
func (c *Client) WaitData(ctx context.Context, w protocol.WaitRequest) (protocol.Counts, error) {
	p, err := c.call(ctx, protocol.WaitDat, protocol.EncodeWait(w))
	if err != nil {
		return protocol.Counts{}, err
	}
	counts, err := protocol.DecodeCounts(p)
	return counts, errors.Wrap(err, "decode WAIT_OK response failed")
}

// Poll returns the current counts without waiting.
func (c *Client) Poll(ctx context.Context) (protocol.Counts, error) {
	return c.WaitData(ctx, protocol.WaitRequest{})
}

// FlushHeader clears the header, samples and events.
func (c *Client) FlushHeader(ctx context.Context) error {
	_, err := c.call(ctx, protocol.FlushHdr, nil)
	return err
}

// FlushData clears the samples and keeps the header.
func (c *Client) FlushData(ctx context.Context) error {
	_, err := c.call(ctx, protocol.FlushDat, nil)
	return err
}

// FlushEvents clears the events.
func (c *Client) FlushEvents(ctx context.Context) error {
	_, err := c.call(ctx, protocol.FlushEvt, nil)
	return err
}
