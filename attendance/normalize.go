// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/messhall-labs/messhall/device"
)

// timestampLayout is the repaired form of the device timestamp.
const timestampLayout = "2006-01-02 15:04:05"

// dateWidth is the length of the calendar-date part of a device
// timestamp ("2006-01-02").
const dateWidth = 10

// Normalizer converts raw device records into punch events: timestamp
// repair, direction mapping, field trimming. One bad record never
// aborts a batch; malformed records are discarded with a debug log.
type Normalizer struct {
	location *time.Location
	logger   *slog.Logger
}

// NewNormalizer creates a normalizer that interprets device
// timestamps in the given reference time zone. Panics on a nil
// location; a nil logger falls back to slog.Default().
func NewNormalizer(location *time.Location, logger *slog.Logger) *Normalizer {
	if location == nil {
		panic("attendance.Normalizer: location is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{location: location, logger: logger}
}

// Normalize converts one raw record into a punch event. The second
// return is false when the record is unusable (empty worker code,
// unrepairable timestamp); absence is signalled, not raised, so the
// caller can count and continue.
func (n *Normalizer) Normalize(record device.RawRecord) (PunchEvent, bool) {
	workerCode := strings.TrimSpace(record.WorkerCode)
	if workerCode == "" {
		n.logger.Debug("dropping record with empty worker code",
			"timestamp", record.Timestamp,
			"device", record.DeviceName,
		)
		return PunchEvent{}, false
	}

	punchTime, err := n.repairTimestamp(record.Timestamp)
	if err != nil {
		n.logger.Debug("dropping record with unrepairable timestamp",
			"worker_code", workerCode,
			"timestamp", record.Timestamp,
			"error", err,
		)
		return PunchEvent{}, false
	}

	return PunchEvent{
		RawTimestamp:  record.Timestamp,
		Time:          punchTime,
		WorkerCode:    workerCode,
		DeviceName:    strings.TrimSpace(record.DeviceName),
		LocationLabel: strings.TrimSpace(record.LocationLabel),
		Direction:     ParseDirection(record.Direction),
	}, true
}

// repairTimestamp parses the device's timestamp string. The device
// concatenates the calendar date and the clock time with no separator
// ("2025-03-2311:34:52"); the repair inserts the missing space after
// the date part. Timestamps that already carry a space or "T"
// separator are accepted as-is.
func (n *Normalizer) repairTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)

	var repaired string
	switch {
	case len(trimmed) == len(timestampLayout)-1:
		// Concatenated form: date runs straight into the time.
		repaired = trimmed[:dateWidth] + " " + trimmed[dateWidth:]
	case len(trimmed) == len(timestampLayout) && (trimmed[dateWidth] == ' ' || trimmed[dateWidth] == 'T'):
		repaired = trimmed[:dateWidth] + " " + trimmed[dateWidth+1:]
	default:
		return time.Time{}, fmt.Errorf("timestamp %q has unexpected shape", raw)
	}

	punchTime, err := time.ParseInLocation(timestampLayout, repaired, n.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return punchTime, nil
}
