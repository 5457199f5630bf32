// ABOUTME: Command codes of the buffer protocol
// ABOUTME: Request codes, their _OK/_ERR status codes and names for diagnostics
package protocol

import "fmt"

// Command identifies a request or a response status on the wire.
// The high byte is the command family, the low byte the member.
type Command uint16

// Request and status codes.
const (
	PutHdr Command = 0x0101
	PutDat Command = 0x0102
	PutEvt Command = 0x0103
	PutOK  Command = 0x0104
	PutErr Command = 0x0105

	GetHdr Command = 0x0201
	GetDat Command = 0x0202
	GetEvt Command = 0x0203
	GetOK  Command = 0x0204
	GetErr Command = 0x0205

	FlushHdr Command = 0x0301
	FlushDat Command = 0x0302
	FlushEvt Command = 0x0303
	FlushOK  Command = 0x0304
	FlushErr Command = 0x0305

	WaitDat Command = 0x0402
	WaitOK  Command = 0x0404
	WaitErr Command = 0x0405
)

const (
	statusOK  = 0x04
	statusErr = 0x05
)

// CommandNames maps command codes to their protocol names for logging.
var CommandNames = map[Command]string{
	PutHdr:   "PUT_HDR",
	PutDat:   "PUT_DAT",
	PutEvt:   "PUT_EVT",
	PutOK:    "PUT_OK",
	PutErr:   "PUT_ERR",
	GetHdr:   "GET_HDR",
	GetDat:   "GET_DAT",
	GetEvt:   "GET_EVT",
	GetOK:    "GET_OK",
	GetErr:   "GET_ERR",
	FlushHdr: "FLUSH_HDR",
	FlushDat: "FLUSH_DAT",
	FlushEvt: "FLUSH_EVT",
	FlushOK:  "FLUSH_OK",
	FlushErr: "FLUSH_ERR",
	WaitDat:  "WAIT_DAT",
	WaitOK:   "WAIT_OK",
	WaitErr:  "WAIT_ERR",
}

// Requests lists every request a server must answer.
var Requests = []Command{
	PutHdr, PutDat, PutEvt,
	GetHdr, GetDat, GetEvt,
	FlushHdr, FlushDat, FlushEvt,
	WaitDat,
}

func (c Command) String() string {
	if name, ok := CommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(c))
}

// IsRequest reports whether c is one of Requests.
func (c Command) IsRequest() bool {
	for _, r := range Requests {
		if r == c {
			return true
		}
	}
	return false
}

func (c Command) family() Command {
	switch c & 0xff00 {
	case 0x0100, 0x0200, 0x0300, 0x0400:
		return c & 0xff00
	default:
		return 0x0200
	}
}

// OK returns the success status for the family of c.
func (c Command) OK() Command { return c.family() | statusOK }

// Err returns the error status for the family of c. Codes outside the known
// families answer with GET_ERR.
func (c Command) Err() Command { return c.family() | statusErr }

// IsOK reports whether c is a success status.
func (c Command) IsOK() bool { return c&0xff == statusOK }

// IsErr reports whether c is an error status.
func (c Command) IsErr() bool { return c&0xff == statusErr }
