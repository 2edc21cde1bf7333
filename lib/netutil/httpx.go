// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the control
// plane client and server code.
//
// Response helpers (DecodeResponse, ErrorBody) bound all body reads at
// MaxResponseSize so a misbehaving peer cannot exhaust memory. They
// are for JSON API responses (heartbeats, command acknowledgements,
// status queries), not for tensor frames, which carry their own
// length-prefixed framing and are read incrementally.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 16 MB.
// Legitimate control-plane responses are orders of magnitude smaller;
// the limit exists solely to cap memory on a pathological response.
const MaxResponseSize int64 = 16 << 20

// DecodeResponse reads a JSON response body (up to MaxResponseSize
// bytes) and decodes it into v. Replaces the io.ReadAll +
// json.Unmarshal pattern.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic error messages. Read errors are silently
// ignored; a partial or empty body is still useful in an error
// message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
