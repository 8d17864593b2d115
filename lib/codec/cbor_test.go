// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{
		"zulu":  "last",
		"alpha": "first",
		"count": 3,
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("same value produced different bytes:\n%x\n%x", first, second)
	}
}

func TestRoundTripStruct(t *testing.T) {
	type request struct {
		Action  string         `cbor:"action"`
		Payload map[string]any `cbor:"payload,omitempty"`
	}
	in := request{Action: "sync", Payload: map[string]any{"date": "2026-03-23"}}

	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out request
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Action != in.Action {
		t.Errorf("Action = %q, want %q", out.Action, in.Action)
	}
	if out.Payload["date"] != "2026-03-23" {
		t.Errorf("Payload[date] = %v, want 2026-03-23", out.Payload["date"])
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"site": "CHN-01"})
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", out)
	}
	if m["site"] != "CHN-01" {
		t.Errorf("m[site] = %v, want CHN-01", m["site"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "status", "future": true})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Action string `cbor:"action"`
	}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("decode with unknown field: %v", err)
	}
	if out.Action != "status" {
		t.Errorf("Action = %q, want status", out.Action)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, site := range []string{"CHN-01", "PUN-02"} {
		if err := enc.Encode(map[string]string{"site": site}); err != nil {
			t.Fatal(err)
		}
	}

	dec := NewDecoder(&buf)
	var got []string
	for range 2 {
		var m map[string]string
		if err := dec.Decode(&m); err != nil {
			t.Fatal(err)
		}
		got = append(got, m["site"])
	}
	if got[0] != "CHN-01" || got[1] != "PUN-02" {
		t.Errorf("decoded sites = %v", got)
	}
}
