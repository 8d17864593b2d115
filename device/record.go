// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"log/slog"
	"strings"
)

// RawRecord is one punch record exactly as the device reported it,
// split into fields but otherwise uninterpreted. Timestamp repair,
// direction mapping, and identity resolution happen downstream; this
// package only guarantees the field count.
type RawRecord struct {
	// WorkerCode is the external identifier on the employee's
	// access credential.
	WorkerCode string
	// Timestamp is the device's concatenated date+time string,
	// typically with no separator between the two parts
	// ("2025-03-2311:34:52").
	Timestamp string
	// DeviceName is the reporting device's display name.
	DeviceName string
	// LocationLabel is the device's configured location text.
	LocationLabel string
	// Direction is the raw direction token ("in", "OUT", "0", ...).
	Direction string
}

// DeviceInfo is one entry from the device server's hardware listing.
type DeviceInfo struct {
	Serial        string
	Name          string
	LocationLabel string
}

// EmployeeInfo is the enrollment payload for SetEmployee: the fields
// the device server needs to recognize an access credential.
type EmployeeInfo struct {
	Code string
	Name string
	// LocationLabel selects which site's devices learn the
	// credential.
	LocationLabel string
	// CardNumber is the physical card identifier, when the site
	// uses cards alongside biometrics. Optional.
	CardNumber string
}

// transactionFieldCount is the number of comma-separated fields in a
// well-formed transaction record: worker code, timestamp, device
// name, location label, direction.
const transactionFieldCount = 5

// parseTransactionPayload splits the delimited transaction string
// into RawRecords. Empty segments (trailing ";", blank payload) are
// skipped silently; segments with the wrong field count are skipped
// with a debug log. One malformed record never discards its batch.
func parseTransactionPayload(payload string, logger *slog.Logger) []RawRecord {
	if strings.TrimSpace(payload) == "" {
		return nil
	}

	var records []RawRecord
	for _, segment := range strings.Split(payload, ";") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		fields := strings.Split(segment, ",")
		if len(fields) != transactionFieldCount {
			logger.Debug("skipping malformed transaction record",
				"fields", len(fields),
				"record", segment,
			)
			continue
		}
		records = append(records, RawRecord{
			WorkerCode:    strings.TrimSpace(fields[0]),
			Timestamp:     strings.TrimSpace(fields[1]),
			DeviceName:    strings.TrimSpace(fields[2]),
			LocationLabel: strings.TrimSpace(fields[3]),
			Direction:     strings.TrimSpace(fields[4]),
		})
	}
	return records
}

// parseDevicePayload splits the delimited device listing
// ("serial,name,location;...") into DeviceInfo values, with the same
// noise tolerance as parseTransactionPayload.
func parseDevicePayload(payload string, logger *slog.Logger) []DeviceInfo {
	if strings.TrimSpace(payload) == "" {
		return nil
	}

	var devices []DeviceInfo
	for _, segment := range strings.Split(payload, ";") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		fields := strings.Split(segment, ",")
		if len(fields) != 3 {
			logger.Debug("skipping malformed device record",
				"fields", len(fields),
				"record", segment,
			)
			continue
		}
		devices = append(devices, DeviceInfo{
			Serial:        strings.TrimSpace(fields[0]),
			Name:          strings.TrimSpace(fields[1]),
			LocationLabel: strings.TrimSpace(fields[2]),
		})
	}
	return devices
}
