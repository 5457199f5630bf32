// ABOUTME: Element type tags for numeric arrays carried by the buffer
// ABOUTME: Tag values, element sizes and names are part of the wire format
package array

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ElementType identifies the scalar kind stored in an array.
type ElementType uint32

// Element type tags. The values are pinned by the wire format.
const (
	Bool   ElementType = 3
	Char   ElementType = 4
	Double ElementType = 6
	Float  ElementType = 7
	Int8   ElementType = 8
	Uint8  ElementType = 9
	Int16  ElementType = 10
	Uint16 ElementType = 11
	Int32  ElementType = 12
	Uint32 ElementType = 13
	Int64  ElementType = 14
	Uint64 ElementType = 15
)

var elementSizes = map[ElementType]int{
	Bool:   1,
	Char:   1,
	Double: 8,
	Float:  4,
	Int8:   1,
	Uint8:  1,
	Int16:  2,
	Uint16: 2,
	Int32:  4,
	Uint32: 4,
	Int64:  8,
	Uint64: 8,
}

var elementNames = map[ElementType]string{
	Bool:   "bool",
	Char:   "char",
	Double: "double",
	Float:  "float",
	Int8:   "int8",
	Uint8:  "uint8",
	Int16:  "int16",
	Uint16: "uint16",
	Int32:  "int32",
	Uint32: "uint32",
	Int64:  "int64",
	Uint64: "uint64",
}

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	_, ok := elementSizes[t]
	return ok
}

// Size returns the size of one element in bytes, or 0 for an unknown type.
func (t ElementType) Size() int {
	return elementSizes[t]
}

func (t ElementType) String() string {
	if name, ok := elementNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// ParseElementType converts a type name such as "float" or "int16" to its tag.
// "single" and "float32" are accepted for Float, "float64" for Double.
func ParseElementType(s string) (ElementType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "single", "float32":
		return Float, nil
	case "float64":
		return Double, nil
	case "logical":
		return Bool, nil
	}
	for t, n := range elementNames {
		if n == name {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownType, "parse %q", s)
}
