// ABOUTME: Payload records of the buffer protocol (header, arrays, events, ranges, waits)
// ABOUTME: Version 1 encodings, little-endian, validated before any data copy
package protocol

import (
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
)

// MaxDims bounds the number of dimensions accepted in an array record.
const MaxDims = 32

// ChunkType identifies an extensible metadata block attached to a header.
type ChunkType uint32

// Chunk types understood by the tools in this module. Other types are carried opaquely.
const (
	ChunkUnspecified  ChunkType = 0
	ChunkChannelNames ChunkType = 1
	ChunkChannelFlags ChunkType = 2
	ChunkResolutions  ChunkType = 3
	ChunkKeyValue     ChunkType = 4
)

// Chunk is an extensible metadata block.
type Chunk struct {
	Type ChunkType
	Data []byte
}

// Header describes the channel layout and rate of the sample stream.
// NumSamples and NumEvents are ignored on PUT_HDR and filled by the server on GET_HDR.
type Header struct {
	NumChannels int
	NumSamples  int
	NumEvents   int
	SampleRate  float64
	DataType    array.ElementType
	Chunks      []Chunk
}

// Validate checks the fields a producer controls.
func (h Header) Validate() error {
	if h.NumChannels <= 0 {
		return errors.Wrapf(ErrInvalid, "header with %d channels", h.NumChannels)
	}
	if !h.DataType.Valid() {
		return errors.Wrapf(ErrInvalid, "header data type %d", uint32(h.DataType))
	}
	if math.IsNaN(h.SampleRate) || math.IsInf(h.SampleRate, 0) || h.SampleRate < 0 {
		return errors.Wrapf(ErrInvalid, "header sample rate %v", h.SampleRate)
	}
	return nil
}

// ChannelNamesChunk builds a chunk of NUL-terminated channel names.
func ChannelNamesChunk(names []string) Chunk {
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(0)
	}
	return Chunk{Type: ChunkChannelNames, Data: []byte(b.String())}
}

// ChannelNames returns the names stored in a channel names chunk, or nil.
func (h Header) ChannelNames() []string {
	for _, c := range h.Chunks {
		if c.Type != ChunkChannelNames {
			continue
		}
		names := strings.Split(strings.TrimSuffix(string(c.Data), "\x00"), "\x00")
		if len(names) == 1 && names[0] == "" {
			return nil
		}
		return names
	}
	return nil
}

// EncodeHeader serializes a header record.
func EncodeHeader(h Header) []byte {
	p := make([]byte, 0, 32)
	p = binary.LittleEndian.AppendUint32(p, uint32(h.NumChannels))
	p = binary.LittleEndian.AppendUint32(p, uint32(h.NumSamples))
	p = binary.LittleEndian.AppendUint32(p, uint32(h.NumEvents))
	p = binary.LittleEndian.AppendUint64(p, math.Float64bits(h.SampleRate))
	p = binary.LittleEndian.AppendUint32(p, uint32(h.DataType))
	p = binary.LittleEndian.AppendUint32(p, uint32(len(h.Chunks)))
	for _, c := range h.Chunks {
		p = binary.LittleEndian.AppendUint32(p, uint32(c.Type))
		p = binary.LittleEndian.AppendUint32(p, uint32(len(c.Data)))
		p = append(p, c.Data...)
	}
	return p
}

// DecodeHeader parses a header record.
func DecodeHeader(p []byte) (Header, error) {
	r := cursor{b: p}
	h := Header{
		NumChannels: int(r.u32()),
		NumSamples:  int(r.u32()),
		NumEvents:   int(r.u32()),
		SampleRate:  math.Float64frombits(r.u64()),
		DataType:    array.ElementType(r.u32()),
	}
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		typ := ChunkType(r.u32())
		size := r.u32()
		h.Chunks = append(h.Chunks, Chunk{Type: typ, Data: append([]byte(nil), r.bytes(size)...)})
	}
	if err := r.done("header"); err != nil {
		return Header{}, err
	}
	return h, nil
}

// EncodeArray serializes an array record, materializing strided views.
func EncodeArray(p []byte, a array.Array) ([]byte, error) {
	c, err := a.Contiguous()
	if err != nil {
		return nil, errors.Wrap(err, "materialize array failed")
	}
	var flags uint32
	if c.Imaginary {
		flags |= 1
	}
	p = binary.LittleEndian.AppendUint32(p, uint32(c.NumDims()))
	p = binary.LittleEndian.AppendUint32(p, uint32(c.Type))
	p = binary.LittleEndian.AppendUint32(p, flags)
	for _, n := range c.Sizes {
		p = binary.LittleEndian.AppendUint32(p, uint32(n))
	}
	return append(p, c.Data...), nil
}

// DecodeArray parses a single array record occupying all of p.
func DecodeArray(p []byte) (array.Array, error) {
	r := cursor{b: p}
	a := r.array()
	if err := r.done("array"); err != nil {
		return array.Array{}, err
	}
	return a, nil
}

// EncodeData serializes a channels x samples block.
func EncodeData(a array.Array) ([]byte, error) {
	if a.NumDims() != 2 {
		return nil, errors.Wrapf(ErrInvalid, "sample block must be 2-d, got %s", a.Descriptor)
	}
	return EncodeArray(make([]byte, 0, 12+8+a.ByteSize()), a)
}

// DecodeData parses a channels x samples block.
func DecodeData(p []byte) (array.Array, error) {
	a, err := DecodeArray(p)
	if err != nil {
		return array.Array{}, err
	}
	if a.NumDims() != 2 {
		return array.Array{}, errors.Wrapf(ErrMalformedPayload, "sample block must be 2-d, got %s", a.Descriptor)
	}
	return a, nil
}

// Value is the value of an event: a string or a numeric array.
// A scalar is a 1x1 array.
type Value struct {
	Str   string
	Array *array.Array
}

// StringValue returns a string event value.
func StringValue(s string) Value { return Value{Str: s} }

// ArrayValue returns an array event value.
func ArrayValue(a array.Array) Value { return Value{Array: &a} }

// ScalarValue returns a 1x1 double event value.
func ScalarValue(x float64) Value {
	a, _ := array.FromSlice([]float64{x}, 1, 1)
	return ArrayValue(a)
}

// IsString reports whether v holds a string.
func (v Value) IsString() bool { return v.Array == nil }

const (
	valueString uint32 = 0
	valueArray  uint32 = 1
)

// Event is a discrete, timestamped annotation of the sample stream.
type Event struct {
	Type     string
	Value    Value
	Sample   int
	Offset   int
	Duration int
}

// EncodeEvents serializes events as concatenated records.
func EncodeEvents(events []Event) ([]byte, error) {
	var p []byte
	for i, e := range events {
		p = appendString(p, e.Type)
		if e.Value.IsString() {
			p = binary.LittleEndian.AppendUint32(p, valueString)
			p = appendString(p, e.Value.Str)
		} else {
			p = binary.LittleEndian.AppendUint32(p, valueArray)
			var err error
			if p, err = EncodeArray(p, *e.Value.Array); err != nil {
				return nil, errors.Wrapf(err, "encode event %d value failed", i)
			}
		}
		p = binary.LittleEndian.AppendUint32(p, uint32(int32(e.Sample)))
		p = binary.LittleEndian.AppendUint32(p, uint32(int32(e.Offset)))
		p = binary.LittleEndian.AppendUint32(p, uint32(int32(e.Duration)))
	}
	return p, nil
}

// DecodeEvents parses concatenated event records.
func DecodeEvents(p []byte) ([]Event, error) {
	r := cursor{b: p}
	var events []Event
	for r.err == nil && r.off < len(r.b) {
		e := Event{Type: string(r.bytes(r.u32()))}
		switch kind := r.u32(); kind {
		case valueString:
			e.Value = StringValue(string(r.bytes(r.u32())))
		case valueArray:
			a := r.array()
			e.Value = ArrayValue(a)
		default:
			r.fail(errors.Wrapf(ErrMalformedPayload, "event value kind %d", kind))
		}
		e.Sample = int(int32(r.u32()))
		e.Offset = int(int32(r.u32()))
		e.Duration = int(int32(r.u32()))
		events = append(events, e)
	}
	if err := r.done("events"); err != nil {
		return nil, err
	}
	return events, nil
}

// Range selects [Begin, End) samples or events.
type Range struct {
	Begin int
	End   int
}

// EncodeRange serializes a selection.
func EncodeRange(r Range) []byte {
	p := binary.LittleEndian.AppendUint32(make([]byte, 0, 8), uint32(r.Begin))
	return binary.LittleEndian.AppendUint32(p, uint32(r.End))
}

// DecodeRange parses a selection. An empty payload selects everything and
// returns ok == false.
func DecodeRange(p []byte) (rng Range, ok bool, err error) {
	if len(p) == 0 {
		return Range{}, false, nil
	}
	r := cursor{b: p}
	rng = Range{Begin: int(r.u32()), End: int(r.u32())}
	if err := r.done("range"); err != nil {
		return Range{}, false, err
	}
	return rng, true, nil
}

// Counts reports the number of samples and events in the buffer.
type Counts struct {
	Samples int
	Events  int
}

// EncodeCounts serializes counts.
func EncodeCounts(c Counts) []byte {
	p := binary.LittleEndian.AppendUint32(make([]byte, 0, 8), uint32(c.Samples))
	return binary.LittleEndian.AppendUint32(p, uint32(c.Events))
}

// DecodeCounts parses counts.
func DecodeCounts(p []byte) (Counts, error) {
	r := cursor{b: p}
	c := Counts{Samples: int(r.u32()), Events: int(r.u32())}
	if err := r.done("counts"); err != nil {
		return Counts{}, err
	}
	return c, nil
}

// WaitRequest asks the server to block until a threshold is reached.
// A zero threshold does not take part in the condition; the condition holds
// when any non-zero threshold is reached. With both thresholds zero it holds
// at once, which turns the request into a poll of the counts.
type WaitRequest struct {
	Samples int
	Events  int
	Timeout time.Duration
}

// Satisfied reports whether c meets the thresholds of w.
func (w WaitRequest) Satisfied(c Counts) bool {
	if w.Samples == 0 && w.Events == 0 {
		return true
	}
	if w.Samples > 0 && c.Samples >= w.Samples {
		return true
	}
	return w.Events > 0 && c.Events >= w.Events
}

// EncodeWait serializes a wait request. The timeout has millisecond resolution.
func EncodeWait(w WaitRequest) []byte {
	p := binary.LittleEndian.AppendUint32(make([]byte, 0, 12), uint32(w.Samples))
	p = binary.LittleEndian.AppendUint32(p, uint32(w.Events))
	return binary.LittleEndian.AppendUint32(p, uint32(w.Timeout/time.Millisecond))
}

// DecodeWait parses a wait request.
func DecodeWait(p []byte) (WaitRequest, error) {
	r := cursor{b: p}
	w := WaitRequest{
		Samples: int(r.u32()),
		Events:  int(r.u32()),
		Timeout: time.Duration(r.u32()) * time.Millisecond,
	}
	if err := r.done("wait"); err != nil {
		return WaitRequest{}, err
	}
	return w, nil
}

func appendString(p []byte, s string) []byte {
	p = binary.LittleEndian.AppendUint32(p, uint32(len(s)))
	return append(p, s...)
}

// cursor reads little-endian fields from a payload and records the first error.
type cursor struct {
	b   []byte
	off int
	err error
}

func (r *cursor) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *cursor) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b)-r.off {
		r.fail(errors.Wrapf(ErrMalformedPayload, "need %d bytes at offset %d of %d", n, r.off, len(r.b)))
		return nil
	}
	s := r.b[r.off : r.off+n]
	r.off += n
	return s
}

func (r *cursor) u32() uint32 {
	if s := r.take(4); s != nil {
		return binary.LittleEndian.Uint32(s)
	}
	return 0
}

func (r *cursor) u64() uint64 {
	if s := r.take(8); s != nil {
		return binary.LittleEndian.Uint64(s)
	}
	return 0
}

func (r *cursor) bytes(n uint32) []byte {
	if uint64(n) > uint64(len(r.b)) {
		r.fail(errors.Wrapf(ErrMalformedPayload, "length %d exceeds payload", n))
		return nil
	}
	return r.take(int(n))
}

// array reads an array record. The byte length is derived from the
// descriptor, which is validated before any data is sliced.
func (r *cursor) array() array.Array {
	nd := r.u32()
	typ := array.ElementType(r.u32())
	flags := r.u32()
	if r.err != nil {
		return array.Array{}
	}
	if nd == 0 || nd > MaxDims {
		r.fail(errors.Wrapf(ErrMalformedPayload, "array with %d dimensions", nd))
		return array.Array{}
	}
	if !typ.Valid() {
		r.fail(errors.Wrapf(ErrMalformedPayload, "array element type %d", uint32(typ)))
		return array.Array{}
	}
	remaining := uint64(len(r.b) - r.off)
	sizes := make([]int, nd)
	count := uint64(1)
	for i := range sizes {
		n := uint64(r.u32())
		sizes[i] = int(n)
		if n != 0 && count > remaining/n {
			// More elements than bytes left; keep reading sizes only to report the shape.
			count = remaining + 1
			continue
		}
		count *= n
	}
	if r.err != nil {
		return array.Array{}
	}
	d, err := array.Describe(typ, sizes...)
	if err != nil {
		r.fail(errors.Wrap(ErrMalformedPayload, err.Error()))
		return array.Array{}
	}
	if flags&1 != 0 {
		d = d.WithImaginary()
	}
	parts := uint64(1)
	if d.Imaginary {
		parts = 2
	}
	need := count * uint64(typ.Size()) * parts
	if count > remaining || need > uint64(len(r.b)-r.off) {
		r.fail(errors.Wrapf(ErrMalformedPayload, "%s needs more bytes than the %d left", d, len(r.b)-r.off))
		return array.Array{}
	}
	return array.Array{Descriptor: d, Data: r.take(int(need))}
}

func (r *cursor) done(what string) error {
	if r.err != nil {
		return errors.Wrapf(r.err, "decode %s", what)
	}
	if r.off != len(r.b) {
		return errors.Wrapf(ErrMalformedPayload, "decode %s: %d trailing bytes", what, len(r.b)-r.off)
	}
	return nil
}
