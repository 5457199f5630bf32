// ABOUTME: Per-connection session: decode a request, run it against the store, write one response
// ABOUTME: Codec errors answer with an _ERR status and end the session
package server

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/internal/metrics"
	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

// errPeerGone ends a session whose peer closed while a request was pending.
var errPeerGone = errors.New("peer closed connection")

type handlerFunc func(s *Session, ctx context.Context, payload []byte) ([]byte, error)

// handlers is the dispatch table. Every request command has an entry.
var handlers = map[protocol.Command]handlerFunc{
	protocol.PutHdr:   (*Session).putHeader,
	protocol.PutDat:   (*Session).putData,
	protocol.PutEvt:   (*Session).putEvents,
	protocol.GetHdr:   (*Session).getHeader,
	protocol.GetDat:   (*Session).getData,
	protocol.GetEvt:   (*Session).getEvents,
	protocol.FlushHdr: (*Session).flushHeader,
	protocol.FlushDat: (*Session).flushData,
	protocol.FlushEvt: (*Session).flushEvents,
	protocol.WaitDat:  (*Session).waitData,
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ID        string
	Remote    string
	Transport string
	Connected time.Time
	Requests  int64
}

// Session serves one connection.
type Session struct {
	id         uuid.UUID
	rw         io.ReadWriteCloser
	remote     string
	transport  string
	connected  time.Time
	store      *store.Store
	metrics    *metrics.Metrics
	maxPayload int
	quit       <-chan struct{}
	log        logrus.FieldLogger

	requests atomic.Int64
}

type request struct {
	msg  protocol.Message
	size int
	err  error
}

func newSession(rw io.ReadWriteCloser, remote, transport string, l *Listener) *Session {
	id := uuid.New()
	return &Session{
		id:         id,
		rw:         rw,
		remote:     remote,
		transport:  transport,
		connected:  time.Now(),
		store:      l.store,
		metrics:    l.metrics,
		maxPayload: l.maxPayload,
		quit:       l.quit,
		log: logger.WithFields(logrus.Fields{
			"session":   id.String(),
			"remote":    remote,
			"transport": transport,
		}),
	}
}

// run serves requests until the peer closes, a protocol error occurs or the
// listener shuts down. The stream is closed on return.
func (s *Session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.rw.Close()

	s.metrics.SessionOpened(s.transport)
	defer s.metrics.SessionClosed(s.transport)
	s.log.Info("session started")

	reqs := make(chan request)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(cancel, done, reqs)

	for {
		// Finish the request in hand before honouring shutdown.
		select {
		case <-s.quit:
			s.log.Debug("session closed by shutdown")
			return
		default:
		}

		var r request
		select {
		case <-s.quit:
			s.log.Debug("session closed by shutdown")
			return
		case r = <-reqs:
		}

		if r.err != nil {
			s.readFailed(r)
			return
		}
		if err := s.serve(ctx, r); err != nil {
			if errors.Is(err, errPeerGone) {
				s.log.Info("session ended by peer")
			} else {
				s.log.WithError(err).Warn("session ended")
			}
			return
		}
	}
}

// readLoop decodes requests ahead of the handler. A read failure cancels
// ctx so a pending wait is released when the peer goes away.
func (s *Session) readLoop(cancel context.CancelFunc, done <-chan struct{}, reqs chan<- request) {
	for {
		msg, err := protocol.ReadMessage(s.rw, s.maxPayload)
		if err != nil {
			cancel()
		}
		select {
		case reqs <- request{msg: msg, size: protocol.HeaderSize + len(msg.Payload), err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) readFailed(r request) {
	switch {
	case r.err == io.EOF:
		s.log.Info("session ended by peer")
	case protocol.IsCodecError(r.err):
		s.metrics.ProtocolError()
		s.log.WithError(r.err).Warn("protocol error")
		s.reply(r.msg.Command.Err(), protocol.EncodeError(protocol.ReasonProtocol, r.err.Error()))
	default:
		s.log.WithError(r.err).Debug("read failed")
	}
}

// serve handles one decoded request and writes its response.
func (s *Session) serve(ctx context.Context, r request) error {
	start := time.Now()
	cmd := r.msg.Command
	log := s.log.WithField("command", cmd)
	s.requests.Add(1)

	h, ok := handlers[cmd]
	if !ok {
		err := errors.Wrapf(protocol.ErrUnknownCommand, "command %s", cmd)
		s.metrics.ProtocolError()
		log.WithError(err).Warn("protocol error")
		s.reply(cmd.Err(), protocol.EncodeError(protocol.ReasonProtocol, err.Error()))
		return err
	}

	payload, err := h(s, ctx, r.msg.Payload)
	if errors.Is(err, errPeerGone) {
		return err
	}

	status, body := cmd.OK(), payload
	if err != nil {
		reason := protocol.ReasonFor(err)
		status, body = cmd.Err(), protocol.EncodeError(reason, err.Error())
		log.WithError(err).WithField("reason", reason).Debug("request rejected")
	} else {
		log.Trace("request served")
	}

	n, werr := s.reply(status, body)
	s.metrics.Request(cmd, status, time.Since(start), r.size, n)
	if werr != nil {
		return werr
	}
	if protocol.IsCodecError(err) {
		s.metrics.ProtocolError()
		return err
	}
	return nil
}

func (s *Session) reply(cmd protocol.Command, payload []byte) (int, error) {
	msg := protocol.NewMessage(cmd, payload)
	if err := protocol.WriteMessage(s.rw, msg); err != nil {
		return 0, err
	}
	return protocol.HeaderSize + len(payload), nil
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:        s.id.String(),
		Remote:    s.remote,
		Transport: s.transport,
		Connected: s.connected,
		Requests:  s.requests.Load(),
	}
}

func (s *Session) putHeader(_ context.Context, p []byte) ([]byte, error) {
	h, err := protocol.DecodeHeader(p)
	if err != nil {
		return nil, err
	}
	return nil, s.store.PutHeader(h)
}

func (s *Session) putData(_ context.Context, p []byte) ([]byte, error) {
	block, err := protocol.DecodeData(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.PutData(block); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Session) putEvents(_ context.Context, p []byte) ([]byte, error) {
	events, err := protocol.DecodeEvents(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.PutEvents(events); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Session) getHeader(_ context.Context, _ []byte) ([]byte, error) {
	h, err := s.store.GetHeader()
	if err != nil {
		return nil, err
	}
	return protocol.EncodeHeader(h), nil
}

func (s *Session) getData(_ context.Context, p []byte) ([]byte, error) {
	r, ok, err := protocol.DecodeRange(p)
	if err != nil {
		return nil, err
	}
	block, err := s.store.GetData(r, !ok)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeData(block)
}

func (s *Session) getEvents(_ context.Context, p []byte) ([]byte, error) {
	r, ok, err := protocol.DecodeRange(p)
	if err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(r, !ok)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeEvents(events)
}

func (s *Session) flushHeader(_ context.Context, _ []byte) ([]byte, error) {
	s.store.FlushHeader()
	return nil, nil
}

func (s *Session) flushData(_ context.Context, _ []byte) ([]byte, error) {
	s.store.FlushData()
	return nil, nil
}

func (s *Session) flushEvents(_ context.Context, _ []byte) ([]byte, error) {
	s.store.FlushEvents()
	return nil, nil
}

// waitData blocks this session only. Shutdown answers with the current
// counts; a vanished peer gets no answer.
func (s *Session) waitData(ctx context.Context, p []byte) ([]byte, error) {
	w, err := protocol.DecodeWait(p)
	if err != nil {
		return nil, err
	}

	wctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.quit:
			stop()
		case <-wctx.Done():
		}
	}()

	counts, err := s.store.WaitForData(wctx, w)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errPeerGone
		}
		if wctx.Err() == nil {
			return nil, err
		}
	}
	return protocol.EncodeCounts(counts), nil
}
