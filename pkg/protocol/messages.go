// ABOUTME: Message envelope of the buffer protocol
// ABOUTME: Fixed 8-byte little-endian header (version, command, bufsize) followed by the payload
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// Version is the only envelope version this package speaks.
	Version uint16 = 1

	// HeaderSize is the size of the envelope header in bytes.
	HeaderSize = 2 + 2 + 4

	// DefaultMaxPayload bounds the bufsize a reader accepts.
	DefaultMaxPayload = 256 << 20
)

// Message is one unit of exchange. Requests and responses share it.
//
// Wire format (little-endian):
//
//	uint16 version
//	uint16 command
//	uint32 bufsize
//	bufsize bytes of payload
type Message struct {
	Version uint16
	Command Command
	Payload []byte
}

// NewMessage returns a message of the current Version.
func NewMessage(cmd Command, payload []byte) Message {
	return Message{Version: Version, Command: cmd, Payload: payload}
}

// Bufsize returns the payload length as declared on the wire.
func (m Message) Bufsize() uint32 { return uint32(len(m.Payload)) }

// Encode serializes the message.
func (m Message) Encode() []byte {
	b := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint16(b[0:2], m.Version)
	binary.LittleEndian.PutUint16(b[2:4], uint16(m.Command))
	binary.LittleEndian.PutUint32(b[4:8], m.Bufsize())
	copy(b[HeaderSize:], m.Payload)
	return b
}

// EncodeMessage serializes cmd and payload with the current Version.
func EncodeMessage(cmd Command, payload []byte) []byte {
	return NewMessage(cmd, payload).Encode()
}

// DecodeMessage parses exactly one message from b. The length of b must
// match the declared bufsize.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, errors.Wrapf(ErrTruncatedMessage, "%d header bytes", len(b))
	}
	m, size, err := parseHeader(b[:HeaderSize])
	if err != nil {
		return Message{}, err
	}
	body := b[HeaderSize:]
	if uint64(len(body)) != uint64(size) {
		if uint64(len(body)) < uint64(size) {
			return Message{}, errors.Wrapf(ErrPayloadMismatch, "bufsize %d, %d bytes", size, len(body))
		}
		return Message{}, errors.Wrapf(ErrMalformedPayload, "bufsize %d, %d bytes", size, len(body))
	}
	m.Payload = append([]byte(nil), body...)
	return m, nil
}

func parseHeader(hdr []byte) (Message, uint32, error) {
	m := Message{
		Version: binary.LittleEndian.Uint16(hdr[0:2]),
		Command: Command(binary.LittleEndian.Uint16(hdr[2:4])),
	}
	if m.Version != Version {
		return Message{}, 0, errors.Wrapf(ErrUnsupportedVersion, "version %d", m.Version)
	}
	return m, binary.LittleEndian.Uint32(hdr[4:8]), nil
}

// ReadMessage reads one message from r. It returns io.EOF when r ends
// cleanly between messages. A stream ending inside a message yields
// ErrTruncatedMessage (ErrPayloadMismatch inside the payload). Other
// errors from r are returned wrapped. When the envelope parsed but its
// payload could not be read, the returned message carries the command
// without a payload, so the caller can answer in the command's family.
func ReadMessage(r io.Reader, maxPayload int) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		switch err {
		case io.EOF:
			return Message{}, io.EOF
		case io.ErrUnexpectedEOF:
			return Message{}, errors.Wrap(ErrTruncatedMessage, "read header")
		default:
			return Message{}, errors.Wrap(err, "read header failed")
		}
	}
	m, size, err := parseHeader(hdr[:])
	if err != nil {
		return Message{}, err
	}
	if maxPayload > 0 && uint64(size) > uint64(maxPayload) {
		return m, errors.Wrapf(ErrPayloadTooLarge, "%s bufsize %d exceeds %d", m.Command, size, maxPayload)
	}
	if size == 0 {
		return m, nil
	}
	m.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		m.Payload = nil
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return m, errors.Wrapf(ErrPayloadMismatch, "%s bufsize %d", m.Command, size)
		}
		return m, errors.Wrap(err, "read payload failed")
	}
	return m, nil
}

// WriteMessage writes m to w with a single Write call, so transports that
// frame writes see one frame per message.
func WriteMessage(w io.Writer, m Message) error {
	if _, err := w.Write(m.Encode()); err != nil {
		return errors.Wrapf(err, "write %s failed", m.Command)
	}
	return nil
}
