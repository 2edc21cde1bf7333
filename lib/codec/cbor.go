// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on the tensor data
// plane. Tensor payloads are binary-heavy (raw float32 buffers), which
// JSON handles badly (base64 inflation, float round-tripping)
// so the data plane speaks CBOR while the control plane stays JSON.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. The same
// logical payload always produces identical bytes, which makes the
// frame checksum in lib/tensor meaningful end to end.
package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Roost never uses non-string map keys. When the decoder's
		// target is any (e.g. request metadata), pick map[string]any
		// instead of the CBOR default map[any]any, which most Go
		// code cannot consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored for
// forward compatibility.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}
