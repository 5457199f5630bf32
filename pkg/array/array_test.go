// ABOUTME: Tests for array descriptors and strided copies
// ABOUTME: Covers stride computation, validation, contiguity and transposed views
package array

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name        string
		typ         ElementType
		sizes       []int
		wantStrides []int
		wantBytes   int
		wantErr     error
	}{
		{name: "3x3x3 double", typ: Double, sizes: []int{3, 3, 3}, wantStrides: []int{1, 3, 9, 27}, wantBytes: 27 * 8},
		{name: "4x100 float", typ: Float, sizes: []int{4, 100}, wantStrides: []int{1, 4, 400}, wantBytes: 1600},
		{name: "vector int16", typ: Int16, sizes: []int{5}, wantStrides: []int{1, 5}, wantBytes: 10},
		{name: "empty dimension", typ: Uint8, sizes: []int{4, 0}, wantStrides: []int{1, 4, 0}, wantBytes: 0},
		{name: "no dimensions", typ: Float, sizes: nil, wantErr: ErrInvalidShape},
		{name: "negative size", typ: Float, sizes: []int{2, -1}, wantErr: ErrInvalidShape},
		{name: "unknown type", typ: ElementType(5), sizes: []int{2}, wantErr: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Describe(tt.typ, tt.sizes...)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStrides, d.Strides)
			assert.Equal(t, tt.wantBytes, d.ByteSize())
			assert.True(t, d.IsContiguous())
			assert.Equal(t, len(tt.sizes), d.NumDims())
		})
	}
}

func TestByteSizeImaginary(t *testing.T) {
	d, err := Describe(Double, 2, 3)
	require.NoError(t, err)
	c := d.WithImaginary()

	assert.Equal(t, 48, d.ByteSize())
	assert.Equal(t, 96, c.ByteSize())
	assert.False(t, d.Imaginary, "WithImaginary must not modify the receiver")
}

func TestSizeAndStridePastLastDimension(t *testing.T) {
	d, err := Describe(Int32, 2, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, d.Size(4))
	assert.Equal(t, 10, d.Stride(4))
	assert.Equal(t, 10, d.Span())
}

func TestNewStridedValidation(t *testing.T) {
	tests := []struct {
		name    string
		sizes   []int
		strides []int
		wantErr bool
	}{
		{name: "transposed 2x3", sizes: []int{3, 2}, strides: []int{2, 1, 6}},
		{name: "every other element", sizes: []int{3}, strides: []int{2, 6}},
		{name: "missing span", sizes: []int{3, 2}, strides: []int{1, 3}, wantErr: true},
		{name: "span too small", sizes: []int{3, 2}, strides: []int{1, 3, 5}, wantErr: true},
		{name: "negative stride", sizes: []int{3}, strides: []int{-1, 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewStrided(Float, tt.sizes, tt.strides)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidShape))
				return
			}
			require.NoError(t, err)
			assert.False(t, d.IsContiguous())
		})
	}
}

func TestIsContiguous(t *testing.T) {
	d, err := NewStrided(Int8, []int{2, 3}, []int{1, 2, 6})
	require.NoError(t, err)
	assert.True(t, d.IsContiguous())

	d, err = NewStrided(Int8, []int{2, 3}, []int{1, 3, 9})
	require.NoError(t, err)
	assert.False(t, d.IsContiguous())
}

func TestCopyIntoTranspose(t *testing.T) {
	// 2x3 column-major: columns (1,2) (3,4) (5,6)
	blk, err := FromSlice([]int16{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	view, err := blk.Transpose()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, view.Sizes)
	assert.False(t, view.IsContiguous())

	dst := make([]byte, view.ByteSize())
	require.NoError(t, CopyInto(view, blk.Data, dst))

	got, err := ToSlice[int16](Array{Descriptor: view.Contiguous(), Data: dst})
	require.NoError(t, err)
	// 3x2 column-major of the transpose: columns (1,3,5) (2,4,6)
	assert.Equal(t, []int16{1, 3, 5, 2, 4, 6}, got)
}

func TestCopyIntoSubsampled(t *testing.T) {
	src, err := FromSlice([]float64{0, 1, 2, 3, 4, 5}, 6)
	require.NoError(t, err)

	view, err := NewStrided(Double, []int{3}, []int{2, 6})
	require.NoError(t, err)

	dst := make([]byte, view.ByteSize())
	require.NoError(t, CopyInto(view, src.Data, dst))

	got, err := ToSlice[float64](Array{Descriptor: view.Contiguous(), Data: dst})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 4}, got)
}

func TestCopyIntoImaginary(t *testing.T) {
	// real block 1..4, imaginary block 10..40, stored 2x2
	re, err := FromSlice([]int32{1, 2, 3, 4, 10, 20, 30, 40}, 8)
	require.NoError(t, err)

	d, err := Describe(Int32, 2, 2)
	require.NoError(t, err)
	view, err := d.WithImaginary().Transpose()
	require.NoError(t, err)

	dst := make([]byte, view.ByteSize())
	require.NoError(t, CopyInto(view, re.Data, dst))

	got, err := ToSlice[int32](Array{Descriptor: Descriptor{Type: Int32, Sizes: []int{8}, Strides: []int{1, 8}}, Data: dst})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3, 2, 4, 10, 30, 20, 40}, got)
}

func TestCopyIntoShortBuffers(t *testing.T) {
	d, err := Describe(Float, 4, 4)
	require.NoError(t, err)

	err = CopyInto(d, make([]byte, 10), make([]byte, d.ByteSize()))
	assert.True(t, errors.Is(err, ErrShortBuffer))

	err = CopyInto(d, make([]byte, d.ByteSize()), make([]byte, 10))
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestContiguousKeepsContiguousArrays(t *testing.T) {
	blk, err := FromSlice([]uint8{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)

	c, err := blk.Contiguous()
	require.NoError(t, err)
	assert.Equal(t, blk.Data, c.Data)
}

func TestToSliceTypeMismatch(t *testing.T) {
	blk, err := FromSlice([]float32{1, 2}, 2)
	require.NoError(t, err)

	_, err = ToSlice[float64](blk)
	assert.Error(t, err)
}

func TestFromSliceWrongCount(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, 2, 2)
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestParseElementType(t *testing.T) {
	tests := map[string]ElementType{
		"float":   Float,
		"single":  Float,
		"float64": Double,
		"INT16":   Int16,
		" uint8 ": Uint8,
		"bool":    Bool,
	}
	for in, want := range tests {
		got, err := ParseElementType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseElementType("complex128")
	assert.True(t, errors.Is(err, ErrUnknownType))
}
