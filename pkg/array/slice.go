// ABOUTME: Conversions between Go slices and little-endian arrays
// ABOUTME: Used by clients that hand native numeric data to the buffer
package array

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Numeric is the set of Go types with a direct element type tag.
type Numeric interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// TypeOf returns the element type tag for T.
func TypeOf[T Numeric]() ElementType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case uint32:
		return Uint32
	case int64:
		return Int64
	case uint64:
		return Uint64
	case float32:
		return Float
	default:
		return Double
	}
}

// FromSlice packs values (column-major) into an array of the given sizes.
func FromSlice[T Numeric](values []T, sizes ...int) (Array, error) {
	d, err := Describe(TypeOf[T](), sizes...)
	if err != nil {
		return Array{}, err
	}
	if len(values) != d.NumElements() {
		return Array{}, errors.Wrapf(ErrInvalidShape, "%d values for %s", len(values), d)
	}
	var buf bytes.Buffer
	buf.Grow(d.ByteSize())
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return Array{}, errors.Wrap(err, "encode values failed")
	}
	return Array{Descriptor: d, Data: buf.Bytes()}, nil
}

// ToSlice unpacks the real part of a into a column-major slice of T.
// The element type of a must match T.
func ToSlice[T Numeric](a Array) ([]T, error) {
	if a.Type != TypeOf[T]() {
		return nil, errors.Errorf("array holds %s, not %s", a.Type, TypeOf[T]())
	}
	c, err := a.Contiguous()
	if err != nil {
		return nil, err
	}
	out := make([]T, c.NumElements())
	realPart := c.Data[:c.NumElements()*c.Type.Size()]
	if err := binary.Read(bytes.NewReader(realPart), binary.LittleEndian, out); err != nil {
		return nil, errors.Wrap(err, "decode values failed")
	}
	return out, nil
}
