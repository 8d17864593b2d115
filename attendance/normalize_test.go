// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/messhall-labs/messhall/device"
)

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	location, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("Asia/Kolkata not available: %v", err)
	}
	return location
}

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return NewNormalizer(testLocation(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNormalizeRepairsConcatenatedTimestamp(t *testing.T) {
	location := testLocation(t)
	normalizer := testNormalizer(t)

	event, ok := normalizer.Normalize(device.RawRecord{
		WorkerCode:    "EMP001",
		Timestamp:     "2025-03-2311:34:52",
		DeviceName:    "Main Gate",
		LocationLabel: "Chennai Plant",
		Direction:     "in",
	})
	if !ok {
		t.Fatal("Normalize ok = false, want true")
	}

	want := time.Date(2025, 3, 23, 11, 34, 52, 0, location)
	if !event.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", event.Time, want)
	}
	if event.RawTimestamp != "2025-03-2311:34:52" {
		t.Errorf("RawTimestamp = %q, want the original string", event.RawTimestamp)
	}
	if event.Direction != DirectionIn {
		t.Errorf("Direction = %q, want %q", event.Direction, DirectionIn)
	}
}

func TestNormalizeAcceptsSeparatedTimestamps(t *testing.T) {
	location := testLocation(t)
	normalizer := testNormalizer(t)
	want := time.Date(2025, 3, 23, 11, 34, 52, 0, location)

	for _, timestamp := range []string{
		"2025-03-23 11:34:52",
		"2025-03-23T11:34:52",
	} {
		event, ok := normalizer.Normalize(device.RawRecord{
			WorkerCode: "EMP001",
			Timestamp:  timestamp,
		})
		if !ok {
			t.Errorf("Normalize(%q) ok = false, want true", timestamp)
			continue
		}
		if !event.Time.Equal(want) {
			t.Errorf("Normalize(%q) Time = %v, want %v", timestamp, event.Time, want)
		}
	}
}

func TestNormalizeDropsBadRecords(t *testing.T) {
	normalizer := testNormalizer(t)

	tests := []struct {
		name   string
		record device.RawRecord
	}{
		{
			name:   "empty_worker_code",
			record: device.RawRecord{WorkerCode: "  ", Timestamp: "2025-03-2311:34:52"},
		},
		{
			name:   "empty_timestamp",
			record: device.RawRecord{WorkerCode: "EMP001", Timestamp: ""},
		},
		{
			name:   "truncated_timestamp",
			record: device.RawRecord{WorkerCode: "EMP001", Timestamp: "2025-03-23"},
		},
		{
			name:   "impossible_date",
			record: device.RawRecord{WorkerCode: "EMP001", Timestamp: "2025-13-4511:00:00"},
		},
		{
			name:   "impossible_time",
			record: device.RawRecord{WorkerCode: "EMP001", Timestamp: "2025-03-2325:61:00"},
		},
		{
			name:   "garbage",
			record: device.RawRecord{WorkerCode: "EMP001", Timestamp: "not a timestamp oh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := normalizer.Normalize(tt.record); ok {
				t.Errorf("Normalize(%+v) ok = true, want false", tt.record)
			}
		})
	}
}

func TestNormalizeTrimsFields(t *testing.T) {
	normalizer := testNormalizer(t)

	event, ok := normalizer.Normalize(device.RawRecord{
		WorkerCode:    " EMP001 ",
		Timestamp:     " 2025-03-2311:34:52 ",
		DeviceName:    " Main Gate ",
		LocationLabel: " Chennai Plant ",
		Direction:     " IN ",
	})
	if !ok {
		t.Fatal("Normalize ok = false, want true")
	}
	if event.WorkerCode != "EMP001" {
		t.Errorf("WorkerCode = %q, want EMP001", event.WorkerCode)
	}
	if event.DeviceName != "Main Gate" {
		t.Errorf("DeviceName = %q, want %q", event.DeviceName, "Main Gate")
	}
	if event.LocationLabel != "Chennai Plant" {
		t.Errorf("LocationLabel = %q, want %q", event.LocationLabel, "Chennai Plant")
	}
	if event.Direction != DirectionIn {
		t.Errorf("Direction = %q, want %q", event.Direction, DirectionIn)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		token string
		want  Direction
	}{
		{"in", DirectionIn},
		{"IN", DirectionIn},
		{"CheckIn", DirectionIn},
		{"0", DirectionIn},
		{"out", DirectionOut},
		{"OUT", DirectionOut},
		{"checkout", DirectionOut},
		{"1", DirectionOut},
		{"swipe", DirectionUnknown},
		{"2", DirectionUnknown},
		{"", DirectionUnknown},
	}

	for _, tt := range tests {
		if got := ParseDirection(tt.token); got != tt.want {
			t.Errorf("ParseDirection(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}
