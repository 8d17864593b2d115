// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"strings"
	"time"
)

// Direction is the movement sense of a punch.
type Direction string

const (
	DirectionIn      Direction = "IN"
	DirectionOut     Direction = "OUT"
	DirectionUnknown Direction = "UNKNOWN"
)

// ParseDirection maps the device's direction tokens onto Direction.
// Devices disagree on spelling: some send words, some firmware
// revisions send bare digits. Unrecognized tokens map to
// DirectionUnknown; the record is still processed.
func ParseDirection(token string) Direction {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "in", "checkin", "0":
		return DirectionIn
	case "out", "checkout", "1":
		return DirectionOut
	default:
		return DirectionUnknown
	}
}

// PunchEvent is one normalized in/out scan: the device record with
// its timestamp repaired and its direction mapped. Transient; never
// persisted as-is.
type PunchEvent struct {
	// RawTimestamp is the device's original timestamp string, kept
	// for diagnostics.
	RawTimestamp string
	// Time is the repaired punch instant in the engine's reference
	// time zone.
	Time time.Time
	// WorkerCode is the external identifier on the employee's
	// access credential.
	WorkerCode string
	// DeviceName names the reporting device.
	DeviceName string
	// LocationLabel is the device's location text, passed through
	// as an opaque string.
	LocationLabel string
	// Direction is the mapped movement sense.
	Direction Direction
}
