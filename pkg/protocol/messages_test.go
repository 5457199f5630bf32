// ABOUTME: Tests for the message envelope and command codes
// ABOUTME: Covers encoding layout, truncation, version checks and status mapping
package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	b := EncodeMessage(GetHdr, nil)
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x02, 0x00, 0x00, 0x00, 0x00}, b)

	b = EncodeMessage(PutDat, []byte{9, 8, 7})
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x01, 0x03, 0x00, 0x00, 0x00, 9, 8, 7}, b)
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, cmd := range append(Requests, PutOK, GetErr, WaitOK) {
		payload := []byte(cmd.String())
		m, err := DecodeMessage(EncodeMessage(cmd, payload))
		require.NoError(t, err, cmd)
		assert.Equal(t, Version, m.Version)
		assert.Equal(t, cmd, m.Command)
		assert.Equal(t, payload, m.Payload)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	good := EncodeMessage(PutDat, make([]byte, 10))
	badVersion := append([]byte(nil), good...)
	badVersion[0] = 2

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "short header", input: good[:5], wantErr: ErrTruncatedMessage},
		{name: "short payload", input: good[:HeaderSize+5], wantErr: ErrPayloadMismatch},
		{name: "short payload is truncation", input: good[:HeaderSize+5], wantErr: ErrTruncatedMessage},
		{name: "trailing bytes", input: append(append([]byte(nil), good...), 0), wantErr: ErrMalformedPayload},
		{name: "version 2", input: badVersion, wantErr: ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, IsCodecError(err))
		})
	}
}

func TestReadMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, NewMessage(PutHdr, []byte{1, 2, 3})))
	require.NoError(t, WriteMessage(&buf, NewMessage(GetHdr, nil)))

	m, err := ReadMessage(&buf, DefaultMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, PutHdr, m.Command)
	assert.Equal(t, []byte{1, 2, 3}, m.Payload)

	m, err = ReadMessage(&buf, DefaultMaxPayload)
	require.NoError(t, err)
	assert.Equal(t, GetHdr, m.Command)
	assert.Empty(t, m.Payload)

	_, err = ReadMessage(&buf, DefaultMaxPayload)
	assert.Equal(t, io.EOF, err)
}

func TestReadMessageTruncated(t *testing.T) {
	full := EncodeMessage(PutDat, make([]byte, 10))

	m, err := ReadMessage(bytes.NewReader(full[:HeaderSize+5]), DefaultMaxPayload)
	assert.True(t, errors.Is(err, ErrTruncatedMessage), "got %v", err)
	assert.Equal(t, PutDat, m.Command)
	assert.Nil(t, m.Payload)

	_, err = ReadMessage(bytes.NewReader(full[:3]), DefaultMaxPayload)
	assert.True(t, errors.Is(err, ErrTruncatedMessage), "got %v", err)
}

func TestReadMessageTooLarge(t *testing.T) {
	full := EncodeMessage(PutDat, make([]byte, 64))
	m, err := ReadMessage(bytes.NewReader(full), 32)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge), "got %v", err)
	assert.Equal(t, PutErr, m.Command.Err())
}

func TestCommandStatus(t *testing.T) {
	tests := []struct {
		cmd     Command
		wantOK  Command
		wantErr Command
	}{
		{PutHdr, PutOK, PutErr},
		{PutEvt, PutOK, PutErr},
		{GetDat, GetOK, GetErr},
		{FlushEvt, FlushOK, FlushErr},
		{WaitDat, WaitOK, WaitErr},
		{Command(0x0999), GetOK, GetErr},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantOK, tt.cmd.OK(), tt.cmd)
		assert.Equal(t, tt.wantErr, tt.cmd.Err(), tt.cmd)
	}

	assert.True(t, PutOK.IsOK())
	assert.True(t, WaitErr.IsErr())
	assert.True(t, WaitDat.IsRequest())
	assert.False(t, GetOK.IsRequest())
	assert.Equal(t, "0x0999", Command(0x0999).String())
}

func TestErrorPayload(t *testing.T) {
	reason, detail := DecodeError(EncodeError(ReasonRange, "end 12 > 10"))
	assert.Equal(t, ReasonRange, reason)
	assert.Equal(t, "end 12 > 10", detail)

	reason, _ = DecodeError(nil)
	assert.Equal(t, ReasonInvalid, reason)
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonNoHeader, ReasonFor(errors.Wrap(ErrNoHeader, "get data")))
	assert.Equal(t, ReasonTypeMismatch, ReasonFor(ErrTypeMismatch))
	assert.Equal(t, ReasonRange, ReasonFor(ErrRange))
	assert.Equal(t, ReasonProtocol, ReasonFor(ErrMalformedPayload))
	assert.Equal(t, ReasonInvalid, ReasonFor(errors.New("something else")))
}

func TestCheckStatus(t *testing.T) {
	assert.NoError(t, CheckStatus(GetHdr, NewMessage(GetOK, nil)))

	err := CheckStatus(GetDat, NewMessage(GetErr, EncodeError(ReasonNoHeader, "")))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonNoHeader, se.Reason)
	assert.True(t, errors.Is(err, ErrNoHeader))

	err = CheckStatus(GetDat, NewMessage(PutOK, nil))
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}
