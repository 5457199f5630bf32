// ABOUTME: Audio file sources decoding MP3 and FLAC into sample blocks
// ABOUTME: MP3 yields 16-bit stereo, FLAC keeps its channel count and bit depth
package acquire

import (
	"io"
	"net/http"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
)

// MP3Source decodes an MP3 file. The decoder always produces interleaved
// little-endian int16 stereo, which is already the wire layout of a block.
type MP3Source struct {
	file       *os.File
	body       io.ReadCloser
	decoder    *mp3.Decoder
	sampleRate int
	loop       bool
	title      string
}

// NewMP3Source opens an MP3 file. With loop set the file restarts at its end.
func NewMP3Source(filePath string, loop bool) (*MP3Source, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "open MP3 file failed")
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "decode MP3 failed")
	}

	s := &MP3Source{
		file:       f,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
		loop:       loop,
		title:      fileTitle(filePath),
	}
	logger.WithFields(logrus.Fields{"title": s.title, "rate": s.sampleRate}).Info("loaded MP3")
	return s, nil
}

// NewHTTPMP3Source streams MP3 from an HTTP URL. It never loops.
func NewHTTPMP3Source(url string) (*MP3Source, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "fetch HTTP stream failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("HTTP error: %s", resp.Status)
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, errors.Wrap(err, "decode MP3 stream failed")
	}

	logger.WithFields(logrus.Fields{"url": url, "rate": decoder.SampleRate()}).Info("streaming MP3")
	return &MP3Source{
		body:       resp.Body,
		decoder:    decoder,
		sampleRate: decoder.SampleRate(),
		title:      url,
	}, nil
}

const mp3FrameBytes = 2 * 2

func (s *MP3Source) Read(n int) (array.Array, error) {
	buf := make([]byte, n*mp3FrameBytes)
	got := 0
	var readErr error
	for got < len(buf) {
		m, err := io.ReadFull(s.decoder, buf[got:])
		got += m
		if err == nil {
			break
		}
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			return array.Array{}, errors.Wrap(err, "read MP3 failed")
		}
		if !s.loop || s.file == nil {
			readErr = io.EOF
			break
		}
		if err := s.rewind(); err != nil {
			return array.Array{}, err
		}
	}

	frames := got / mp3FrameBytes
	d, err := array.Describe(array.Int16, 2, frames)
	if err != nil {
		return array.Array{}, err
	}
	return array.Array{Descriptor: d, Data: buf[:frames*mp3FrameBytes]}, readErr
}

func (s *MP3Source) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek to start failed")
	}
	decoder, err := mp3.NewDecoder(s.file)
	if err != nil {
		return errors.Wrap(err, "create new decoder failed")
	}
	s.decoder = decoder
	return nil
}

func (s *MP3Source) SampleRate() float64         { return float64(s.sampleRate) }
func (s *MP3Source) Channels() int               { return 2 }
func (s *MP3Source) DataType() array.ElementType { return array.Int16 }
func (s *MP3Source) Labels() []string            { return channelLabels(2) }

// Title returns the file name without extension, or the URL.
func (s *MP3Source) Title() string { return s.title }

func (s *MP3Source) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return s.file.Close()
}

// FLACSource decodes a FLAC file. Streams of up to 16 bits produce Int16
// blocks, deeper streams Int32 blocks.
type FLACSource struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int
	loop       bool
	title      string

	// pending holds decoded interleaved samples not yet returned.
	pending []int32
}

// NewFLACSource opens a FLAC file. With loop set the file restarts at its end.
func NewFLACSource(filePath string, loop bool) (*FLACSource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "open FLAC file failed")
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "decode FLAC failed")
	}

	info := stream.Info
	s := &FLACSource{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
		loop:       loop,
		title:      fileTitle(filePath),
	}
	logger.WithFields(logrus.Fields{
		"title":    s.title,
		"rate":     s.sampleRate,
		"channels": s.channels,
		"bits":     s.bitDepth,
	}).Info("loaded FLAC")
	return s, nil
}

func (s *FLACSource) Read(n int) (array.Array, error) {
	want := n * s.channels
	var readErr error
	for len(s.pending) < want {
		frame, err := s.stream.ParseNext()
		if err == io.EOF {
			if !s.loop {
				readErr = io.EOF
				break
			}
			if err := s.rewind(); err != nil {
				return array.Array{}, err
			}
			continue
		}
		if err != nil {
			return array.Array{}, errors.Wrap(err, "parse FLAC frame failed")
		}
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < s.channels; ch++ {
				s.pending = append(s.pending, frame.Subframes[ch].Samples[i])
			}
		}
	}

	take := want
	if len(s.pending) < take {
		take = len(s.pending) - len(s.pending)%s.channels
	}
	out := s.pending[:take]
	s.pending = append([]int32(nil), s.pending[take:]...)

	blk, err := s.block(out)
	if err != nil {
		return array.Array{}, err
	}
	return blk, readErr
}

func (s *FLACSource) block(samples []int32) (array.Array, error) {
	frames := len(samples) / s.channels
	if s.bitDepth > 16 {
		return array.FromSlice(samples, s.channels, frames)
	}
	v := make([]int16, len(samples))
	for i, x := range samples {
		v[i] = int16(x)
	}
	return array.FromSlice(v, s.channels, frames)
}

func (s *FLACSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek to start failed")
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return errors.Wrap(err, "create new stream failed")
	}
	s.stream = stream
	return nil
}

func (s *FLACSource) SampleRate() float64 { return float64(s.sampleRate) }
func (s *FLACSource) Channels() int       { return s.channels }
func (s *FLACSource) DataType() array.ElementType {
	if s.bitDepth > 16 {
		return array.Int32
	}
	return array.Int16
}
func (s *FLACSource) Labels() []string { return channelLabels(s.channels) }

// Title returns the file name without extension.
func (s *FLACSource) Title() string { return s.title }

func (s *FLACSource) Close() error {
	return s.file.Close()
}
