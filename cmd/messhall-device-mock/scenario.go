// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// scenario is a parsed mock configuration: the credentials the server
// expects, the devices it reports, the punch records it serves, and
// the faults it injects. Scenario files are JSONC, so they can carry
// // comments and trailing commas.
type scenario struct {
	// Username and Password every request envelope must present.
	Username string `json:"username"`
	Password string `json:"password"`

	Devices []scenarioDevice `json:"devices"`
	Logs    []scenarioLog    `json:"logs"`
	Faults  []scenarioFault  `json:"faults"`
}

type scenarioDevice struct {
	Serial   string `json:"serial"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// scenarioLog is one location-day batch of punch records.
type scenarioLog struct {
	Location string           `json:"location"`
	Date     string           `json:"date"`
	Records  []scenarioRecord `json:"records"`
}

type scenarioRecord struct {
	Worker    string `json:"worker"`
	Timestamp string `json:"timestamp"`
	Device    string `json:"device"`
	// Location defaults to the enclosing log's location when empty.
	Location  string `json:"location"`
	Direction string `json:"direction"`
}

// Fault modes for scenarioFault.FailWith.
const (
	faultFailed    = "FAILED"
	faultMalformed = "malformed"
	faultHTTP500   = "http500"
)

// scenarioFault makes GetTransactionsLog fail for one location:
// "FAILED" answers with a failure envelope, "malformed" with
// truncated XML, "http500" with a server error. Together they cover
// the client's error taxonomy.
type scenarioFault struct {
	Location string `json:"location"`
	FailWith string `json:"failWith"`
	Message  string `json:"message"`
}

// loadScenario reads and validates a JSONC scenario file.
func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	loaded, err := parseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return loaded, nil
}

func parseScenario(data []byte) (*scenario, error) {
	stripped := jsonc.ToJSON(data)

	var loaded scenario
	if err := json.Unmarshal(stripped, &loaded); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if loaded.Username == "" || loaded.Password == "" {
		return nil, fmt.Errorf("scenario: username and password are required")
	}
	for _, fault := range loaded.Faults {
		switch fault.FailWith {
		case faultFailed, faultMalformed, faultHTTP500:
		default:
			return nil, fmt.Errorf("scenario: fault for %q has unknown failWith %q", fault.Location, fault.FailWith)
		}
	}
	return &loaded, nil
}

// fault returns the configured fault for a location, if any.
func (s *scenario) fault(location string) (scenarioFault, bool) {
	for _, fault := range s.Faults {
		if fault.Location == location {
			return fault, true
		}
	}
	return scenarioFault{}, false
}

// transactions renders the delimited record batch for one
// location-day, empty when the scenario has none.
func (s *scenario) transactions(location, date string) string {
	var segments []string
	for _, batch := range s.Logs {
		if batch.Location != location || batch.Date != date {
			continue
		}
		for _, record := range batch.Records {
			recordLocation := record.Location
			if recordLocation == "" {
				recordLocation = batch.Location
			}
			segments = append(segments, strings.Join([]string{
				record.Worker, record.Timestamp, record.Device, recordLocation, record.Direction,
			}, ","))
		}
	}
	return strings.Join(segments, ";")
}

// deviceList renders the delimited device listing.
func (s *scenario) deviceList() string {
	var segments []string
	for _, registered := range s.Devices {
		segments = append(segments, strings.Join([]string{
			registered.Serial, registered.Name, registered.Location,
		}, ","))
	}
	return strings.Join(segments, ";")
}
