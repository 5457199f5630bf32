// ABOUTME: Shape, stride and element type description of a numeric array
// ABOUTME: Column-major (first index fastest) layout, independent of transport
package array

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Descriptor describes the layout of a numeric array without holding its data.
//
// Strides are counted in elements and use column-major order: for a contiguous
// array Strides[i] is the product of Sizes[0..i-1]. Strides has one entry more
// than Sizes; the last entry is the number of elements spanned by the underlying
// storage, which equals the element count for contiguous arrays and for
// permuted views such as a transpose.
//
// A Descriptor is immutable once constructed; methods never modify the receiver.
type Descriptor struct {
	Type      ElementType
	Sizes     []int
	Strides   []int
	Imaginary bool
}

// Describe builds a contiguous column-major descriptor for the given sizes.
func Describe(t ElementType, sizes ...int) (Descriptor, error) {
	if !t.Valid() {
		return Descriptor{}, errors.Wrapf(ErrUnknownType, "tag %d", uint32(t))
	}
	if len(sizes) == 0 {
		return Descriptor{}, errors.Wrap(ErrInvalidShape, "no dimensions")
	}
	strides := make([]int, len(sizes)+1)
	strides[0] = 1
	for i, n := range sizes {
		if n < 0 {
			return Descriptor{}, errors.Wrapf(ErrInvalidShape, "size %d of dimension %d is negative", n, i)
		}
		strides[i+1] = strides[i] * n
	}
	return Descriptor{
		Type:    t,
		Sizes:   append([]int(nil), sizes...),
		Strides: strides,
	}, nil
}

// NewStrided builds a descriptor with explicit strides, e.g. a view into a
// larger or differently ordered buffer.
func NewStrided(t ElementType, sizes, strides []int) (Descriptor, error) {
	d := Descriptor{
		Type:    t,
		Sizes:   append([]int(nil), sizes...),
		Strides: append([]int(nil), strides...),
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// WithImaginary returns a copy of d that carries an imaginary part.
func (d Descriptor) WithImaginary() Descriptor {
	d.Sizes = append([]int(nil), d.Sizes...)
	d.Strides = append([]int(nil), d.Strides...)
	d.Imaginary = true
	return d
}

// Validate checks the element type, the dimensions and that every addressed
// element lies inside the span recorded in the last stride.
func (d Descriptor) Validate() error {
	if !d.Type.Valid() {
		return errors.Wrapf(ErrUnknownType, "tag %d", uint32(d.Type))
	}
	nd := len(d.Sizes)
	if nd == 0 {
		return errors.Wrap(ErrInvalidShape, "no dimensions")
	}
	if len(d.Strides) != nd+1 {
		return errors.Wrapf(ErrInvalidShape, "%d strides for %d dimensions", len(d.Strides), nd)
	}
	last := 0
	empty := false
	for i, n := range d.Sizes {
		if n < 0 {
			return errors.Wrapf(ErrInvalidShape, "size %d of dimension %d is negative", n, i)
		}
		if d.Strides[i] < 0 {
			return errors.Wrapf(ErrInvalidShape, "stride %d of dimension %d is negative", d.Strides[i], i)
		}
		if n == 0 {
			empty = true
			continue
		}
		last += (n - 1) * d.Strides[i]
	}
	if d.Strides[nd] < 0 {
		return errors.Wrapf(ErrInvalidShape, "span %d is negative", d.Strides[nd])
	}
	if !empty && last >= d.Strides[nd] {
		return errors.Wrapf(ErrInvalidShape, "element offset %d outside span %d", last, d.Strides[nd])
	}
	return nil
}

// NumDims returns the number of dimensions.
func (d Descriptor) NumDims() int { return len(d.Sizes) }

// NumElements returns the number of addressed elements.
func (d Descriptor) NumElements() int {
	n := 1
	for _, s := range d.Sizes {
		n *= s
	}
	return n
}

// Size returns the size of dimension i; dimensions past the last are 1.
func (d Descriptor) Size(i int) int {
	if i < len(d.Sizes) {
		return d.Sizes[i]
	}
	return 1
}

// Stride returns the stride of dimension i; dimensions past the last share the span.
func (d Descriptor) Stride(i int) int {
	if i < len(d.Strides) {
		return d.Strides[i]
	}
	return d.Strides[len(d.Strides)-1]
}

// Span returns the number of elements covered by the underlying storage.
func (d Descriptor) Span() int { return d.Strides[len(d.Strides)-1] }

func (d Descriptor) parts() int {
	if d.Imaginary {
		return 2
	}
	return 1
}

// ByteSize returns the size of the materialized array in bytes, doubled when
// the array has an imaginary part.
func (d Descriptor) ByteSize() int {
	return d.NumElements() * d.Type.Size() * d.parts()
}

// SpanBytes returns the size of the underlying storage in bytes.
func (d Descriptor) SpanBytes() int {
	return d.Span() * d.Type.Size() * d.parts()
}

// IsContiguous reports whether the strides follow directly from the sizes.
func (d Descriptor) IsContiguous() bool {
	if len(d.Strides) != len(d.Sizes)+1 || d.Strides[0] != 1 {
		return false
	}
	for i := range d.Sizes {
		if d.Strides[i+1] != d.Strides[i]*d.Sizes[i] {
			return false
		}
	}
	return true
}

// Transpose returns a view with the first two dimensions swapped. The view
// addresses the same storage and is not contiguous unless a dimension is trivial.
func (d Descriptor) Transpose() (Descriptor, error) {
	if len(d.Sizes) < 2 {
		return Descriptor{}, errors.Wrapf(ErrInvalidShape, "transpose of %d-d array", len(d.Sizes))
	}
	t := Descriptor{
		Type:      d.Type,
		Sizes:     append([]int(nil), d.Sizes...),
		Strides:   append([]int(nil), d.Strides...),
		Imaginary: d.Imaginary,
	}
	t.Sizes[0], t.Sizes[1] = t.Sizes[1], t.Sizes[0]
	t.Strides[0], t.Strides[1] = t.Strides[1], t.Strides[0]
	return t, nil
}

// Contiguous returns the contiguous descriptor with the same type and shape.
func (d Descriptor) Contiguous() Descriptor {
	c, err := Describe(d.Type, d.Sizes...)
	if err != nil {
		return d
	}
	c.Imaginary = d.Imaginary
	return c
}

func (d Descriptor) String() string {
	dims := make([]string, len(d.Sizes))
	for i, n := range d.Sizes {
		dims[i] = fmt.Sprint(n)
	}
	s := fmt.Sprintf("%s[%s]", d.Type, strings.Join(dims, "x"))
	if d.Imaginary {
		s += " complex"
	}
	if !d.IsContiguous() {
		s += fmt.Sprintf(" strides=%v", d.Strides)
	}
	return s
}
