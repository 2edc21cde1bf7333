// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package tensor defines the tensor value type and the framed wire
// format of the data plane. A frame is a CBOR payload wrapped in a
// fixed header carrying a compression tag, sizes, and a BLAKE3
// checksum; see frame.go.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of a tensor buffer.
type DType string

const (
	Float32 DType = "float32"
	Uint8   DType = "uint8"
	Int32   DType = "int32"
	Int64   DType = "int64"
)

// Size returns the byte width of one element, or 0 for an unknown
// dtype.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Uint8:
		return 1
	case Int64:
		return 8
	default:
		return 0
	}
}

// Tensor is a dense n-dimensional array in row-major order. Data holds
// the raw little-endian element bytes; Shape gives the dimensions.
type Tensor struct {
	DType DType  `cbor:"dtype" json:"dtype"`
	Shape []int  `cbor:"shape" json:"shape"`
	Data  []byte `cbor:"data" json:"data"`
}

// Elements returns the element count implied by Shape. An empty shape
// means a scalar (one element).
func (t Tensor) Elements() int {
	count := 1
	for _, dim := range t.Shape {
		count *= dim
	}
	return count
}

// Validate checks that the buffer length matches shape × dtype and
// that no dimension is non-positive.
func (t Tensor) Validate() error {
	width := t.DType.Size()
	if width == 0 {
		return fmt.Errorf("unknown dtype %q", t.DType)
	}
	for _, dim := range t.Shape {
		if dim <= 0 {
			return fmt.Errorf("non-positive dimension %d in shape %v", dim, t.Shape)
		}
	}
	if expected := t.Elements() * width; len(t.Data) != expected {
		return fmt.Errorf("buffer is %d bytes, shape %v of %s requires %d",
			len(t.Data), t.Shape, t.DType, expected)
	}
	return nil
}

// FromFloat32 builds a float32 tensor from values, which must match
// the shape's element count.
func FromFloat32(shape []int, values []float32) (Tensor, error) {
	t := Tensor{DType: Float32, Shape: shape}
	if expected := t.Elements(); len(values) != expected {
		return Tensor{}, fmt.Errorf("%d values for shape %v (need %d)", len(values), shape, expected)
	}
	t.Data = make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(t.Data[i*4:], math.Float32bits(v))
	}
	return t, nil
}

// Float32s decodes the buffer as float32 values. Fails when the dtype
// is not float32 or the buffer is ragged.
func (t Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not float32", t.DType)
	}
	if len(t.Data)%4 != 0 {
		return nil, fmt.Errorf("float32 buffer length %d is not a multiple of 4", len(t.Data))
	}
	values := make([]float32, len(t.Data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return values, nil
}

// Signature is the (dtype, rank) pair used for cheap input validation
// after the first inference call locks the full signature.
type Signature struct {
	DType DType
	Rank  int
}

// SignatureOf returns t's signature.
func SignatureOf(t Tensor) Signature {
	return Signature{DType: t.DType, Rank: len(t.Shape)}
}
