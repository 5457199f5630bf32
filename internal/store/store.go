// ABOUTME: Shared in-memory buffer of one header, an append-only sample stream and events
// ABOUTME: Writers serialize on a mutex, readers copy published ranges, waiters sleep on a notify channel
package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// State is the lifecycle state of the buffer.
type State int

const (
	// Empty means no header is set.
	Empty State = iota
	// HeaderSet means a header is set and no samples have arrived since.
	HeaderSet
	// Streaming means samples have been appended under the current header.
	Streaming
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case HeaderSet:
		return "header_set"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Flush names what a flush cleared.
type Flush string

const (
	FlushHeader Flush = "header"
	FlushData   Flush = "data"
	FlushEvents Flush = "events"
)

// EventSink is told about accepted events and flushes. It is called
// without the store lock held.
type EventSink interface {
	EventsAdded(hdr protocol.Header, events []protocol.Event)
	Flushed(what Flush)
}

// Stats is a point-in-time summary of the buffer.
type Stats struct {
	State     State
	Header    protocol.Header
	Samples   int
	Events    int
	DataBytes int
	Updated   time.Time
}

// Cfg configures a Store.
type Cfg func(*Store) error

// WithEventSink registers a sink for accepted events and flushes.
func WithEventSink(sink EventSink) Cfg {
	return func(s *Store) error {
		if sink == nil {
			return errors.New("nil event sink")
		}
		s.sinks = append(s.sinks, sink)
		return nil
	}
}

// WithClock replaces time.Now for the Updated stamp.
func WithClock(now func() time.Time) Cfg {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// Store is the buffer shared by all sessions.
//
// Sample bytes are only ever appended. A flush or a new header replaces the
// backing slice instead of truncating it, so a reader that copied the slice
// header under the read lock may finish its copy after releasing the lock.
type Store struct {
	mu      sync.RWMutex
	header  *protocol.Header
	frame   int // bytes per sample across all channels
	data    []byte
	samples int
	events  []protocol.Event
	updated time.Time

	// notify is closed and replaced whenever counts or the header change.
	notify chan struct{}

	sinks []EventSink
	now   func() time.Time
}

// New returns an empty store.
func New(cfgs ...Cfg) (*Store, error) {
	s := &Store{
		notify: make(chan struct{}),
		now:    time.Now,
	}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "configure store failed")
		}
	}
	s.updated = s.now()
	return s, nil
}

// changed wakes waiters. Callers hold the write lock.
func (s *Store) changed() {
	close(s.notify)
	s.notify = make(chan struct{})
	s.updated = s.now()
}

// PutHeader installs h and discards every sample and event stored so far.
// This is a destructive reset of the buffer.
func (s *Store) PutHeader(h protocol.Header) error {
	if err := h.Validate(); err != nil {
		return err
	}
	h.NumSamples, h.NumEvents = 0, 0
	h.Chunks = append([]protocol.Chunk(nil), h.Chunks...)

	s.mu.Lock()
	s.header = &h
	s.frame = h.NumChannels * h.DataType.Size()
	s.data = nil
	s.samples = 0
	s.events = nil
	s.changed()
	s.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"channels": h.NumChannels,
		"rate":     h.SampleRate,
		"type":     h.DataType,
	}).Debug("header set")
	return nil
}

// GetHeader returns the header with the current sample and event counts.
func (s *Store) GetHeader() (protocol.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.header == nil {
		return protocol.Header{}, errors.Wrap(protocol.ErrNoHeader, "get header")
	}
	h := *s.header
	h.NumSamples = s.samples
	h.NumEvents = len(s.events)
	return h, nil
}

// PutData appends a channels x samples block. The block's element type and
// channel count must match the header. The block is applied entirely or not at all.
func (s *Store) PutData(block array.Array) (protocol.Counts, error) {
	if block.NumDims() != 2 {
		return protocol.Counts{}, errors.Wrapf(protocol.ErrInvalid, "sample block %s is not 2-d", block.Descriptor)
	}
	if block.Imaginary {
		return protocol.Counts{}, errors.Wrap(protocol.ErrTypeMismatch, "sample block has an imaginary part")
	}
	c, err := block.Contiguous()
	if err != nil {
		return protocol.Counts{}, errors.Wrapf(protocol.ErrInvalid, "sample block: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header == nil {
		return protocol.Counts{}, errors.Wrap(protocol.ErrNoHeader, "put data")
	}
	if c.Type != s.header.DataType || c.Sizes[0] != s.header.NumChannels {
		return protocol.Counts{}, errors.Wrapf(protocol.ErrTypeMismatch,
			"block %s, header %d channels of %s", c.Descriptor, s.header.NumChannels, s.header.DataType)
	}
	n := c.Sizes[1]
	if n == 0 {
		return s.countsLocked(), nil
	}
	s.data = append(s.data, c.Data[:n*s.frame]...)
	s.samples += n
	s.changed()
	return s.countsLocked(), nil
}

// GetData returns a contiguous copy of samples [r.Begin, r.End). With all
// set, the range is the whole stream.
func (s *Store) GetData(r protocol.Range, all bool) (array.Array, error) {
	s.mu.RLock()
	if s.header == nil {
		s.mu.RUnlock()
		return array.Array{}, errors.Wrap(protocol.ErrNoHeader, "get data")
	}
	hdr := *s.header
	frame := s.frame
	data := s.data
	count := s.samples
	s.mu.RUnlock()

	if all {
		r = protocol.Range{Begin: 0, End: count}
	}
	if err := checkRange(r, count); err != nil {
		return array.Array{}, errors.Wrap(err, "get data")
	}

	d, err := array.Describe(hdr.DataType, hdr.NumChannels, r.End-r.Begin)
	if err != nil {
		return array.Array{}, errors.Wrap(err, "describe sample block failed")
	}
	out := make([]byte, d.ByteSize())
	copy(out, data[r.Begin*frame:r.End*frame])
	return array.Array{Descriptor: d, Data: out}, nil
}

// PutEvents appends events. Either all of them are stored or none.
func (s *Store) PutEvents(events []protocol.Event) (protocol.Counts, error) {
	for i, e := range events {
		if !e.Value.IsString() {
			if err := e.Value.Array.Validate(); err != nil {
				return protocol.Counts{}, errors.Wrapf(protocol.ErrInvalid, "event %d value: %v", i, err)
			}
		}
	}

	s.mu.Lock()
	if s.header == nil {
		s.mu.Unlock()
		return protocol.Counts{}, errors.Wrap(protocol.ErrNoHeader, "put events")
	}
	hdr := *s.header
	if len(events) > 0 {
		s.events = append(s.events, events...)
		s.changed()
	}
	counts := s.countsLocked()
	s.mu.Unlock()

	if len(events) > 0 {
		for _, sink := range s.sinks {
			sink.EventsAdded(hdr, events)
		}
	}
	return counts, nil
}

// GetEvents returns events [r.Begin, r.End), or all events.
func (s *Store) GetEvents(r protocol.Range, all bool) ([]protocol.Event, error) {
	s.mu.RLock()
	if s.header == nil {
		s.mu.RUnlock()
		return nil, errors.Wrap(protocol.ErrNoHeader, "get events")
	}
	events := s.events
	s.mu.RUnlock()

	if all {
		r = protocol.Range{Begin: 0, End: len(events)}
	}
	if err := checkRange(r, len(events)); err != nil {
		return nil, errors.Wrap(err, "get events")
	}
	return append([]protocol.Event(nil), events[r.Begin:r.End]...), nil
}

func checkRange(r protocol.Range, count int) error {
	if r.Begin < 0 || r.Begin > r.End {
		return errors.Wrapf(protocol.ErrRange, "begin %d > end %d", r.Begin, r.End)
	}
	if r.End > count {
		return errors.Wrapf(protocol.ErrRange, "end %d > count %d", r.End, count)
	}
	return nil
}

// FlushHeader clears the header, samples and events.
func (s *Store) FlushHeader() {
	s.mu.Lock()
	s.header = nil
	s.frame = 0
	s.data = nil
	s.samples = 0
	s.events = nil
	s.changed()
	s.mu.Unlock()
	s.flushed(FlushHeader)
}

// FlushData resets the sample count to zero and keeps the header.
func (s *Store) FlushData() {
	s.mu.Lock()
	s.data = nil
	s.samples = 0
	s.changed()
	s.mu.Unlock()
	s.flushed(FlushData)
}

// FlushEvents removes all events and keeps header and samples.
func (s *Store) FlushEvents() {
	s.mu.Lock()
	s.events = nil
	s.changed()
	s.mu.Unlock()
	s.flushed(FlushEvents)
}

func (s *Store) flushed(what Flush) {
	logger.WithField("what", what).Debug("buffer flushed")
	for _, sink := range s.sinks {
		sink.Flushed(what)
	}
}

// WaitForData blocks until the wait condition holds, the timeout elapses or
// ctx is done. Reaching the timeout is not an error: the current counts are
// returned. A cancelled ctx returns the counts together with ctx.Err().
func (s *Store) WaitForData(ctx context.Context, w protocol.WaitRequest) (protocol.Counts, error) {
	s.mu.RLock()
	if s.header == nil {
		s.mu.RUnlock()
		return protocol.Counts{}, errors.Wrap(protocol.ErrNoHeader, "wait for data")
	}
	counts, ch := s.countsLocked(), s.notify
	s.mu.RUnlock()

	if w.Satisfied(counts) || w.Timeout <= 0 {
		return counts, nil
	}

	timer := time.NewTimer(w.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ch:
		case <-timer.C:
			return s.Counts(), nil
		case <-ctx.Done():
			return s.Counts(), ctx.Err()
		}

		s.mu.RLock()
		counts, ch = s.countsLocked(), s.notify
		s.mu.RUnlock()
		if w.Satisfied(counts) {
			return counts, nil
		}
	}
}

// Counts returns the number of samples and events.
func (s *Store) Counts() protocol.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

func (s *Store) countsLocked() protocol.Counts {
	return protocol.Counts{Samples: s.samples, Events: len(s.events)}
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Store) stateLocked() State {
	switch {
	case s.header == nil:
		return Empty
	case s.samples == 0:
		return HeaderSet
	default:
		return Streaming
	}
}

// Stats returns a summary of the buffer.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		State:     s.stateLocked(),
		Samples:   s.samples,
		Events:    len(s.events),
		DataBytes: len(s.data),
		Updated:   s.updated,
	}
	if s.header != nil {
		st.Header = *s.header
		st.Header.NumSamples = s.samples
		st.Header.NumEvents = len(s.events)
	}
	return st
}
