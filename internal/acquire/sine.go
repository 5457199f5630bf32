// ABOUTME: Sine wave generator for demos and load tests
// ABOUTME: Channel c oscillates at (c+1) times the base frequency
package acquire

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
)

// SineSource generates an endless multi-channel sine wave.
type SineSource struct {
	channels  int
	rate      float64
	frequency float64
	amplitude float64
	dataType  array.ElementType

	mu          sync.Mutex
	sampleIndex uint64
}

// NewSineSource returns a generator. dataType must be Float or Double.
func NewSineSource(channels int, rate, frequency float64, dataType array.ElementType) (*SineSource, error) {
	if channels <= 0 {
		return nil, errors.Errorf("sine source needs at least one channel, got %d", channels)
	}
	if rate <= 0 {
		return nil, errors.Errorf("sine source rate %v must be positive", rate)
	}
	if dataType != array.Float && dataType != array.Double {
		return nil, errors.Wrapf(array.ErrUnknownType, "sine source cannot produce %s", dataType)
	}
	return &SineSource{
		channels:  channels,
		rate:      rate,
		frequency: frequency,
		amplitude: 1,
		dataType:  dataType,
	}, nil
}

// Read generates the next n samples.
func (s *SineSource) Read(n int) (array.Array, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]float64, n*s.channels)
	for i := 0; i < n; i++ {
		t := float64(s.sampleIndex+uint64(i)) / s.rate
		for c := 0; c < s.channels; c++ {
			v[i*s.channels+c] = s.amplitude * math.Sin(2*math.Pi*s.frequency*float64(c+1)*t)
		}
	}
	s.sampleIndex += uint64(n)

	if s.dataType == array.Double {
		return array.FromSlice(v, s.channels, n)
	}
	f := make([]float32, len(v))
	for i, x := range v {
		f[i] = float32(x)
	}
	return array.FromSlice(f, s.channels, n)
}

func (s *SineSource) SampleRate() float64         { return s.rate }
func (s *SineSource) Channels() int               { return s.channels }
func (s *SineSource) DataType() array.ElementType { return s.dataType }
func (s *SineSource) Labels() []string            { return channelLabels(s.channels) }
func (s *SineSource) Close() error                { return nil }

