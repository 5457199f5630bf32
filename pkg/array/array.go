// ABOUTME: Array value (descriptor plus raw little-endian bytes) and strided copies
// ABOUTME: CopyInto materializes any valid view into contiguous column-major bytes
package array

import (
	"github.com/pkg/errors"
)

// Array pairs a descriptor with the raw element bytes it describes.
// With an imaginary part, Data holds the real block followed by the
// imaginary block, each Span() elements long.
type Array struct {
	Descriptor
	Data []byte
}

// New validates d against data and returns the array.
func New(d Descriptor, data []byte) (Array, error) {
	if err := d.Validate(); err != nil {
		return Array{}, err
	}
	if len(data) < d.SpanBytes() {
		return Array{}, errors.Wrapf(ErrShortBuffer, "%s needs %d bytes, got %d", d, d.SpanBytes(), len(data))
	}
	return Array{Descriptor: d, Data: data}, nil
}

// Contiguous returns a contiguous copy of a when a is a strided view,
// and a itself (trimmed to its byte size) otherwise.
func (a Array) Contiguous() (Array, error) {
	if a.IsContiguous() {
		if len(a.Data) < a.ByteSize() {
			return Array{}, errors.Wrapf(ErrShortBuffer, "%s needs %d bytes, got %d", a.Descriptor, a.ByteSize(), len(a.Data))
		}
		return Array{Descriptor: a.Descriptor, Data: a.Data[:a.ByteSize()]}, nil
	}
	dst := make([]byte, a.ByteSize())
	if err := CopyInto(a.Descriptor, a.Data, dst); err != nil {
		return Array{}, err
	}
	return Array{Descriptor: a.Descriptor.Contiguous(), Data: dst}, nil
}

// CopyInto copies the elements addressed by d from src into dst in contiguous
// column-major order. src must hold d.SpanBytes() bytes and dst d.ByteSize().
func CopyInto(d Descriptor, src, dst []byte) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if len(src) < d.SpanBytes() {
		return errors.Wrapf(ErrShortBuffer, "source needs %d bytes, got %d", d.SpanBytes(), len(src))
	}
	if len(dst) < d.ByteSize() {
		return errors.Wrapf(ErrShortBuffer, "destination needs %d bytes, got %d", d.ByteSize(), len(dst))
	}
	n := d.NumElements()
	if n == 0 {
		return nil
	}
	if d.IsContiguous() {
		copy(dst, src[:d.ByteSize()])
		return nil
	}

	es := d.Type.Size()
	span := d.Span()

	// Copy runs along dimension 0 when its elements are adjacent.
	run := 1
	first := 0
	if d.Strides[0] == 1 {
		run = d.Sizes[0]
		first = 1
	}

	idx := make([]int, len(d.Sizes))
	for k := 0; k < n; k += run {
		off := 0
		for i := first; i < len(d.Sizes); i++ {
			off += idx[i] * d.Strides[i]
		}
		copy(dst[k*es:(k+run)*es], src[off*es:(off+run)*es])
		if d.Imaginary {
			copy(dst[(n+k)*es:(n+k+run)*es], src[(span+off)*es:(span+off+run)*es])
		}
		for i := first; i < len(d.Sizes); i++ {
			idx[i]++
			if idx[i] < d.Sizes[i] {
				break
			}
			idx[i] = 0
		}
	}
	return nil
}
