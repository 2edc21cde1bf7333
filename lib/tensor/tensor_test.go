// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"bytes"
	"testing"
)

func TestValidate(t *testing.T) {
	good := Tensor{DType: Float32, Shape: []int{2, 3}, Data: make([]byte, 24)}
	if err := good.Validate(); err != nil {
		t.Errorf("valid tensor rejected: %v", err)
	}

	short := Tensor{DType: Float32, Shape: []int{2, 3}, Data: make([]byte, 20)}
	if err := short.Validate(); err == nil {
		t.Error("short buffer accepted")
	}

	unknown := Tensor{DType: "float16", Shape: []int{4}, Data: make([]byte, 8)}
	if err := unknown.Validate(); err == nil {
		t.Error("unknown dtype accepted")
	}

	negative := Tensor{DType: Uint8, Shape: []int{4, -1}, Data: nil}
	if err := negative.Validate(); err == nil {
		t.Error("negative dimension accepted")
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	values := []float32{1.5, -2.25, 0, 3.14159, 1e-7}
	tensor, err := FromFloat32([]int{5}, values)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	if err := tensor.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	decoded, err := tensor.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}
	for i, v := range values {
		if decoded[i] != v {
			t.Errorf("value %d = %v, want %v", i, decoded[i], v)
		}
	}
}

func TestFromFloat32ShapeMismatch(t *testing.T) {
	if _, err := FromFloat32([]int{2, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("mismatched value count accepted")
	}
}

func TestSignatureOf(t *testing.T) {
	tensor, err := FromFloat32([]int{1, 3, 416, 416}, make([]float32, 1*3*416*416))
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	sig := SignatureOf(tensor)
	if sig.DType != Float32 || sig.Rank != 4 {
		t.Errorf("signature = %+v", sig)
	}
}

func TestBG4TransposeRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 3, 4, 7, 16, 1023} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 7)
		}
		restored := bg4Untranspose(bg4Transpose(data))
		if !bytes.Equal(data, restored) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestBG4TransposeGroupsBytes(t *testing.T) {
	// Two 4-byte groups: byte 0 of each group must land first.
	data := []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xB0, 0xB1, 0xB2, 0xB3}
	want := []byte{0xA0, 0xB0, 0xA1, 0xB1, 0xA2, 0xB2, 0xA3, 0xB3}
	if got := bg4Transpose(data); !bytes.Equal(got, want) {
		t.Errorf("transpose = %x, want %x", got, want)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	// Repetitive payload compresses under every algorithm.
	payload := bytes.Repeat([]byte("roost tensor frame "), 200)

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd, CompressionBG4LZ4} {
		compressed, err := compress(payload, tag)
		if err != nil {
			t.Fatalf("%s: compress: %v", tag, err)
		}
		if len(compressed) >= len(payload) {
			t.Errorf("%s: no size reduction (%d >= %d)", tag, len(compressed), len(payload))
		}
		restored, err := decompress(compressed, tag, len(payload))
		if err != nil {
			t.Fatalf("%s: decompress: %v", tag, err)
		}
		if !bytes.Equal(restored, payload) {
			t.Errorf("%s: round trip mismatch", tag)
		}
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd, CompressionBG4LZ4} {
		parsed, err := ParseCompressionTag(tag.String())
		if err != nil {
			t.Fatalf("ParseCompressionTag(%s): %v", tag, err)
		}
		if parsed != tag {
			t.Errorf("parsed %d, want %d", parsed, tag)
		}
	}
	if _, err := ParseCompressionTag("gzip"); err == nil {
		t.Error("unknown tag name accepted")
	}
}
