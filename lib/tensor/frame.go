// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Frame layout, all integers big-endian:
//
//	offset  size  field
//	0       4     magic "RSTF"
//	4       1     version (currently 1)
//	5       1     compression tag
//	6       2     reserved (zero)
//	8       4     uncompressed payload size
//	12      4     stored payload size
//	16      32    BLAKE3 checksum of the uncompressed payload
//	48      n     stored payload
//
// The checksum covers the uncompressed CBOR bytes, so a decode
// verifies end-to-end integrity regardless of compression tag.
const (
	frameMagic   = "RSTF"
	frameVersion = 1
	headerSize   = 48

	// MaxPayloadSize bounds a single frame's uncompressed payload.
	// Large enough for a batch of camera-resolution float32 tensors,
	// small enough that a corrupt size field cannot trigger a huge
	// allocation.
	MaxPayloadSize = 256 << 20
)

// EncodeFrame wraps payload (already CBOR-encoded) in a frame using
// tag. When the payload does not shrink under tag, the frame is
// written with CompressionNone instead; the caller's tag is a request,
// not a guarantee.
func EncodeFrame(payload []byte, tag CompressionTag) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload is %d bytes, limit is %d", len(payload), MaxPayloadSize)
	}

	stored, err := compress(payload, tag)
	if err != nil {
		if err != errIncompressible {
			return nil, err
		}
		tag = CompressionNone
		stored = payload
	}

	checksum := blake3.Sum256(payload)

	frame := make([]byte, headerSize+len(stored))
	copy(frame[0:4], frameMagic)
	frame[4] = frameVersion
	frame[5] = byte(tag)
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[12:16], uint32(len(stored)))
	copy(frame[16:48], checksum[:])
	copy(frame[headerSize:], stored)
	return frame, nil
}

// DecodeFrame parses a complete frame and returns the uncompressed
// payload after verifying its checksum.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("frame is %d bytes, header needs %d", len(frame), headerSize)
	}
	payloadSize, storedSize, tag, checksum, err := parseHeader(frame[:headerSize])
	if err != nil {
		return nil, err
	}
	if len(frame) != headerSize+storedSize {
		return nil, fmt.Errorf("frame is %d bytes, header says %d", len(frame), headerSize+storedSize)
	}
	return verifyPayload(frame[headerSize:], tag, payloadSize, checksum)
}

// ReadFrame reads one frame from r, for use on a stream carrying
// consecutive frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	payloadSize, storedSize, tag, checksum, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return verifyPayload(stored, tag, payloadSize, checksum)
}

// WriteFrame encodes payload with tag and writes the frame to w.
func WriteFrame(w io.Writer, payload []byte, tag CompressionTag) error {
	frame, err := EncodeFrame(payload, tag)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func parseHeader(header []byte) (payloadSize, storedSize int, tag CompressionTag, checksum [32]byte, err error) {
	if string(header[0:4]) != frameMagic {
		return 0, 0, 0, checksum, fmt.Errorf("bad frame magic %q", header[0:4])
	}
	if header[4] != frameVersion {
		return 0, 0, 0, checksum, fmt.Errorf("unsupported frame version %d", header[4])
	}
	tag = CompressionTag(header[5])
	payloadSize = int(binary.BigEndian.Uint32(header[8:12]))
	storedSize = int(binary.BigEndian.Uint32(header[12:16]))
	if payloadSize > MaxPayloadSize || storedSize > MaxPayloadSize {
		return 0, 0, 0, checksum, fmt.Errorf("frame sizes %d/%d exceed limit %d", payloadSize, storedSize, MaxPayloadSize)
	}
	copy(checksum[:], header[16:48])
	return payloadSize, storedSize, tag, checksum, nil
}

func verifyPayload(stored []byte, tag CompressionTag, payloadSize int, checksum [32]byte) ([]byte, error) {
	payload, err := decompress(stored, tag, payloadSize)
	if err != nil {
		return nil, err
	}
	if actual := blake3.Sum256(payload); actual != checksum {
		return nil, fmt.Errorf("frame checksum mismatch")
	}
	return payload, nil
}
