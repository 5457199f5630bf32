// ABOUTME: Error vocabulary shared by the buffer server and its clients
// ABOUTME: Codec errors are connection-fatal, request errors travel as reasons in _ERR payloads
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Codec errors. Any of these ends the connection.
var (
	// ErrTruncatedMessage is returned when a stream ends inside a message.
	ErrTruncatedMessage = errors.New("truncated message")
	// ErrPayloadMismatch is returned when fewer payload bytes than the declared
	// bufsize could be read. It is a kind of ErrTruncatedMessage.
	ErrPayloadMismatch = errors.Wrap(ErrTruncatedMessage, "payload shorter than bufsize")
	// ErrUnsupportedVersion is returned for an envelope version other than Version.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrUnknownCommand is returned for a code that is not a request.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrPayloadTooLarge is returned when bufsize exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrMalformedPayload is returned when a payload does not parse as the
	// record its command requires.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Request errors. The server answers with an _ERR status and keeps the connection.
var (
	ErrNoHeader     = errors.New("no header")
	ErrTypeMismatch = errors.New("data does not match header")
	ErrRange        = errors.New("range outside buffer")
	ErrInvalid      = errors.New("invalid request")
)

// Reason is carried in the payload of an _ERR status.
type Reason uint32

// Error reasons.
const (
	ReasonProtocol     Reason = 1
	ReasonNoHeader     Reason = 2
	ReasonTypeMismatch Reason = 3
	ReasonRange        Reason = 4
	ReasonInvalid      Reason = 5
)

var reasonNames = map[Reason]string{
	ReasonProtocol:     "protocol",
	ReasonNoHeader:     "no_header",
	ReasonTypeMismatch: "type_mismatch",
	ReasonRange:        "range",
	ReasonInvalid:      "invalid",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", uint32(r))
}

// Err returns the sentinel error for r.
func (r Reason) Err() error {
	switch r {
	case ReasonProtocol:
		return ErrMalformedPayload
	case ReasonNoHeader:
		return ErrNoHeader
	case ReasonTypeMismatch:
		return ErrTypeMismatch
	case ReasonRange:
		return ErrRange
	default:
		return ErrInvalid
	}
}

// IsCodecError reports whether err ends the connection.
func IsCodecError(err error) bool {
	return errors.Is(err, ErrTruncatedMessage) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrMalformedPayload)
}

// ReasonFor classifies err for an _ERR payload.
func ReasonFor(err error) Reason {
	switch {
	case IsCodecError(err):
		return ReasonProtocol
	case errors.Is(err, ErrNoHeader):
		return ReasonNoHeader
	case errors.Is(err, ErrTypeMismatch):
		return ReasonTypeMismatch
	case errors.Is(err, ErrRange):
		return ReasonRange
	default:
		return ReasonInvalid
	}
}

// EncodeError builds an _ERR payload.
func EncodeError(reason Reason, detail string) []byte {
	p := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(detail)), uint32(reason))
	return append(p, detail...)
}

// DecodeError parses an _ERR payload. An empty payload yields ReasonInvalid.
func DecodeError(p []byte) (Reason, string) {
	if len(p) < 4 {
		return ReasonInvalid, ""
	}
	return Reason(binary.LittleEndian.Uint32(p)), string(p[4:])
}
