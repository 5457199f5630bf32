package array

import "github.com/pkg/errors"

// ErrInvalidShape is returned for descriptors with no dimensions, negative sizes
// or strides that do not fit the dimensions.
var ErrInvalidShape = errors.New("invalid array shape")

// ErrUnknownType is returned for an unrecognized element type tag.
var ErrUnknownType = errors.New("unknown element type")

// ErrShortBuffer is returned when a byte slice is smaller than a descriptor implies.
var ErrShortBuffer = errors.New("buffer smaller than descriptor")
