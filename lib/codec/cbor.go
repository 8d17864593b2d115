// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the ops socket
// server and its clients. Encoding is Core Deterministic (RFC 8949
// §4.2) so the same request always produces the same bytes; decoding
// ignores unknown fields so old tools keep working against newer
// daemons.
package codec

import (
	"io"
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
		// Socket payloads are decoded into any-typed maps on the client
		// side; make those map[string]any rather than the CBOR default
		// map[any]any, which nothing downstream can use.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder and Decoder alias the underlying stream types so callers
// import only this package.
type Encoder = cbor.Encoder
type Decoder = cbor.Decoder

// RawMessage delays decoding of a nested value.
type RawMessage = cbor.RawMessage

// NewEncoder returns a stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
