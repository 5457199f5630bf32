// ABOUTME: NATS relay that republishes accepted buffer events and flushes
// ABOUTME: Events go to <subject>.event.<type>, flushes to <subject>.flush, both as JSON
package notify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/internal/store"
	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultSubject prefixes every published subject.
const DefaultSubject = "ftbuffer"

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// EventMessage is the JSON form of a relayed event.
type EventMessage struct {
	Type       string      `json:"type"`
	Value      interface{} `json:"value"`
	Sample     int         `json:"sample"`
	Offset     int         `json:"offset"`
	Duration   int         `json:"duration"`
	SampleRate float64     `json:"sample_rate"`
}

// ArrayMessage is the JSON form of a numeric event value.
type ArrayMessage struct {
	ElementType string    `json:"element_type"`
	Sizes       []int     `json:"sizes"`
	Values      []float64 `json:"values"`
}

// FlushMessage is published when part of the buffer is cleared.
type FlushMessage struct {
	What string    `json:"what"`
	Time time.Time `json:"time"`
}

// Relay implements store.EventSink on top of a Publisher.
type Relay struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

var _ store.EventSink = (*Relay)(nil)

// NewRelay publishes under subject, or DefaultSubject when empty.
func NewRelay(pub Publisher, subject string) *Relay {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Relay{pub: pub, subject: subject, now: time.Now}
}

// Connect dials a NATS server and returns a relay using it plus the
// connection for closing.
func Connect(url, subject string) (*Relay, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("ftbuffer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connect to NATS at %s failed", url)
	}
	return NewRelay(nc, subject), nc, nil
}

// EventsAdded publishes each event. Publish failures are logged and never
// reach the store.
func (r *Relay) EventsAdded(hdr protocol.Header, events []protocol.Event) {
	for _, e := range events {
		msg := EventMessage{
			Type:       e.Type,
			Sample:     e.Sample,
			Offset:     e.Offset,
			Duration:   e.Duration,
			SampleRate: hdr.SampleRate,
		}
		if e.Value.IsString() {
			msg.Value = e.Value.Str
		} else {
			v, err := arrayMessage(*e.Value.Array)
			if err != nil {
				logger.WithError(err).WithField("type", e.Type).Warn("cannot relay event value")
				continue
			}
			msg.Value = v
		}
		r.publish(r.subject+".event."+subjectToken(e.Type), msg)
	}
}

// Flushed publishes a flush notice.
func (r *Relay) Flushed(what store.Flush) {
	r.publish(r.subject+".flush", FlushMessage{What: string(what), Time: r.now().UTC()})
}

func (r *Relay) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).WithField("subject", subject).Warn("encode relay message failed")
		return
	}
	if err := r.pub.Publish(subject, data); err != nil {
		logger.WithError(err).WithField("subject", subject).Warn("publish failed")
	}
}

// subjectToken makes an event type safe for use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

func arrayMessage(a array.Array) (ArrayMessage, error) {
	values, err := toFloat64(a)
	if err != nil {
		return ArrayMessage{}, err
	}
	return ArrayMessage{ElementType: a.Type.String(), Sizes: a.Sizes, Values: values}, nil
}

func toFloat64(a array.Array) ([]float64, error) {
	switch a.Type {
	case array.Double:
		return array.ToSlice[float64](a)
	case array.Float:
		return convert(array.ToSlice[float32](a))
	case array.Int8:
		return convert(array.ToSlice[int8](a))
	case array.Uint8:
		return convert(array.ToSlice[uint8](a))
	case array.Int16:
		return convert(array.ToSlice[int16](a))
	case array.Uint16:
		return convert(array.ToSlice[uint16](a))
	case array.Int32:
		return convert(array.ToSlice[int32](a))
	case array.Uint32:
		return convert(array.ToSlice[uint32](a))
	case array.Int64:
		return convert(array.ToSlice[int64](a))
	case array.Uint64:
		return convert(array.ToSlice[uint64](a))
	default:
		c, err := a.Contiguous()
		if err != nil {
			return nil, err
		}
		out := make([]float64, c.NumElements())
		for i := range out {
			out[i] = float64(c.Data[i])
		}
		return out, nil
	}
}

func convert[T array.Numeric](v []T, err error) ([]float64, error) {
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out, nil
}
