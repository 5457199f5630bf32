// ABOUTME: Producer that pumps a sample source into a buffer server
// ABOUTME: Sends the header once, then PUT_DAT blocks paced at the source's sample rate
package ftbuffer

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Resonate-Protocol/ftbuffer/internal/acquire"
	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

// Source provides sample blocks for a Producer.
type Source interface {
	// Read returns up to n samples for all channels, and io.EOF at the end.
	Read(n int) (array.Array, error)
	SampleRate() float64
	Channels() int
	DataType() array.ElementType
	// Labels names the channels.
	Labels() []string
	Close() error
}

// SineSource returns a generator of sine waves, channel c at frequency*(c+1).
// dataType is array.Float or array.Double.
func SineSource(channels int, sampleRate, frequency float64, dataType array.ElementType) (Source, error) {
	src, err := acquire.NewSineSource(channels, sampleRate, frequency, dataType)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// FileSource decodes an MP3 or FLAC file, or streams MP3 from an http(s) URL.
func FileSource(pathOrURL string, loop bool) (Source, error) {
	return acquire.Open(pathOrURL, loop)
}

// ProducerConfig configures a producer
type ProducerConfig struct {
	// BlockSize is the number of samples per PUT_DAT (default: a tenth of a second)
	BlockSize int

	// Unpaced sends blocks as fast as the server accepts them
	Unpaced bool

	// KeepHeader appends to the server's current header instead of replacing it
	KeepHeader bool
}

// Producer streams a Source into a server.
type Producer struct {
	client *Client
	source Source
	config ProducerConfig
	sent   atomic.Int64
	log    logrus.FieldLogger
}

// NewProducer creates a producer writing to c.
func NewProducer(c *Client, src Source, config ProducerConfig) (*Producer, error) {
	if c == nil || src == nil {
		return nil, errors.New("producer needs a client and a source")
	}
	if !config.Unpaced && !(src.SampleRate() > 0) {
		return nil, errors.Errorf("cannot pace a source at %g Hz", src.SampleRate())
	}
	if config.BlockSize < 0 {
		return nil, errors.Errorf("block size %d is negative", config.BlockSize)
	}
	if config.BlockSize == 0 {
		config.BlockSize = int(src.SampleRate() / 10)
		if config.BlockSize < 1 {
			config.BlockSize = 1
		}
	}
	return &Producer{
		client: c,
		source: src,
		config: config,
		log: logger.WithFields(logrus.Fields{
			"channels": src.Channels(),
			"rate":     src.SampleRate(),
			"type":     src.DataType(),
		}),
	}, nil
}

// Header is the header the producer installs.
func (p *Producer) Header() protocol.Header {
	h := protocol.Header{
		NumChannels: p.source.Channels(),
		SampleRate:  p.source.SampleRate(),
		DataType:    p.source.DataType(),
	}
	if labels := p.source.Labels(); len(labels) > 0 {
		h.Chunks = []protocol.Chunk{protocol.ChannelNamesChunk(labels)}
	}
	return h
}

// Run sends until the source ends or ctx is done. Reaching the end of the
// source or cancelling ctx is a clean stop.
func (p *Producer) Run(ctx context.Context) error {
	if !p.config.KeepHeader {
		if err := p.client.PutHeader(ctx, p.Header()); err != nil {
			return errors.Wrap(err, "put header failed")
		}
	}

	var limiter *rate.Limiter
	if !p.config.Unpaced {
		limiter = rate.NewLimiter(rate.Limit(p.source.SampleRate()), p.config.BlockSize)
	}

	p.log.WithField("block", p.config.BlockSize).Info("producer started")
	for {
		if limiter != nil {
			if err := limiter.WaitN(ctx, p.config.BlockSize); err != nil {
				// The next block is not due before the deadline.
				if _, ok := ctx.Deadline(); ok {
					<-ctx.Done()
				}
				return p.stopped(ctx, errors.Wrap(err, "pace producer failed"))
			}
		}

		block, readErr := p.source.Read(p.config.BlockSize)
		if readErr != nil && readErr != io.EOF {
			return errors.Wrap(readErr, "read source failed")
		}
		if block.NumDims() == 2 && block.Sizes[1] > 0 {
			if err := p.client.PutData(ctx, block); err != nil {
				return p.stopped(ctx, errors.Wrap(err, "put data failed"))
			}
			p.sent.Add(int64(block.Sizes[1]))
		}
		if readErr == io.EOF {
			p.log.WithField("samples", p.sent.Load()).Info("source finished")
			return nil
		}
	}
}

func (p *Producer) stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		p.log.WithField("samples", p.sent.Load()).Info("producer stopped")
		return nil
	}
	return err
}

// Samples returns the number of samples sent so far.
func (p *Producer) Samples() int64 {
	return p.sent.Load()
}
