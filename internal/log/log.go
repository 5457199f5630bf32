// ABOUTME: Logging setup shared by the server and the CLI
// ABOUTME: Configures the logrus standard logger's level and text or JSON formatter
package log

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Formats accepted by SetLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// SetLogger sets the default logger's level and output format. Unknown
// levels fall back to info; an unknown format is an error.
func SetLogger(level, format string) error {
	logrus.SetLevel(ParseLevel(level))

	switch strings.ToLower(format) {
	case "", FormatText:
		f := new(logrus.TextFormatter)
		f.TimestampFormat = time.RFC3339
		f.FullTimestamp = true
		logrus.SetFormatter(f)
	case FormatJSON:
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}

// ParseLevel maps a level name to a logrus level.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard silences the standard logger, for the status monitor which owns the terminal.
func Discard() {
	logrus.SetOutput(io.Discard)
}
