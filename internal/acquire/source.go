// ABOUTME: Sample sources that feed a buffer producer
// ABOUTME: A source yields channels x samples blocks ready for PUT_DAT
package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ErrUnsupportedFormat is returned for a file type no source can decode.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Source produces sample blocks.
type Source interface {
	// Read returns a block of at most n samples for all channels. At the end
	// of a finite source it returns io.EOF, possibly with a final short block.
	Read(n int) (array.Array, error)
	// SampleRate returns samples per second.
	SampleRate() float64
	// Channels returns the number of channels.
	Channels() int
	// DataType returns the element type of produced blocks.
	DataType() array.ElementType
	// Labels returns channel names.
	Labels() []string
	// Close releases the source.
	Close() error
}

// Open returns a file source chosen by extension, or an HTTP MP3 stream for
// http(s) URLs.
func Open(pathOrURL string, loop bool) (Source, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return NewHTTPMP3Source(pathOrURL)
	}
	if _, err := os.Stat(pathOrURL); err != nil {
		return nil, errors.Wrap(err, "open source failed")
	}

	switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
	case ".mp3":
		return NewMP3Source(pathOrURL, loop)
	case ".flac":
		return NewFLACSource(pathOrURL, loop)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q (supported: .mp3, .flac)", ext)
	}
}

// channelLabels names the channels of decoded audio.
func channelLabels(n int) []string {
	if n == 2 {
		return []string{"left", "right"}
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("ch%d", i+1)
	}
	return labels
}

// fileTitle derives a display title from a file name.
func fileTitle(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
