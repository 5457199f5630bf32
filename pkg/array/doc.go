// ABOUTME: Array descriptor package
// ABOUTME: Describes numeric arrays carried by the buffer protocol
// Package array describes numeric arrays independently of transport.
//
// A Descriptor records element type, sizes and column-major strides. Arrays
// travel on the wire in contiguous form; strided views such as a transpose
// are materialized with CopyInto first.
//
// Example:
//
//	blk, err := array.FromSlice(samples, nchans, nsamples)
//	view, err := blk.Transpose()
//	flat := make([]byte, view.ByteSize())
//	err = array.CopyInto(view, blk.Data, flat)
package array
