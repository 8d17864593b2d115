// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/messhall-labs/messhall/attendance"
	"github.com/messhall-labs/messhall/device"
	"github.com/messhall-labs/messhall/lib/clock"
	"github.com/messhall-labs/messhall/lib/codec"
	"github.com/messhall-labs/messhall/lib/schedule"
	"github.com/messhall-labs/messhall/lib/service"
)

// socketActions are the operator actions on the Unix socket. The
// socket is reachable only from the host, so actions run unscoped:
// whoever can open it is an administrator.
type socketActions struct {
	scheduler *attendance.Scheduler
	schedule  schedule.Schedule
	device    *device.Client
	clock     clock.Clock
	location  *time.Location
}

func (a *socketActions) register(server *service.SocketServer) {
	server.Handle("status", a.handleStatus)
	server.Handle("sync", a.handleSync)
	server.Handle("devices", a.handleDevices)
}

// statusResult is the "status" action response: where the scheduler
// stands and what the recent runs did.
type statusResult struct {
	Timezone string                  `cbor:"timezone"`
	Now      time.Time               `cbor:"now"`
	NextRun  time.Time               `cbor:"next_run"`
	Runs     []attendance.RunSummary `cbor:"runs"`
}

func (a *socketActions) handleStatus(_ context.Context, _ []byte) (any, error) {
	now := a.clock.Now().In(a.location)
	next, err := a.schedule.Next(now)
	if err != nil {
		return nil, fmt.Errorf("computing next run: %w", err)
	}
	return statusResult{
		Timezone: a.location.String(),
		Now:      now,
		NextRun:  next,
		Runs:     a.scheduler.Summaries(),
	}, nil
}

// syncParams are the optional "sync" action fields.
type syncParams struct {
	// Date selects a past day to backfill, YYYY-MM-DD. Empty means
	// today.
	Date string `cbor:"date"`
}

type syncResult struct {
	RunID string `cbor:"run_id"`
}

func (a *socketActions) handleSync(_ context.Context, raw []byte) (any, error) {
	var params syncParams
	if err := codec.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decoding sync request: %w", err)
	}

	var day time.Time
	if params.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", params.Date, a.location)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", params.Date)
		}
		day = parsed
	}

	runID, err := a.scheduler.TriggerNow(attendance.Scope{Role: attendance.RoleAdmin}, day)
	if err != nil {
		return nil, err
	}
	return syncResult{RunID: runID}, nil
}

type deviceEntry struct {
	Serial   string `cbor:"serial"`
	Name     string `cbor:"name"`
	Location string `cbor:"location"`
}

type devicesResult struct {
	Devices []deviceEntry `cbor:"devices"`
}

// handleDevices is a live passthrough to the device server's device
// listing, for checking connectivity and seeing what the plants have
// registered.
func (a *socketActions) handleDevices(ctx context.Context, _ []byte) (any, error) {
	devices, err := a.device.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	result := devicesResult{Devices: make([]deviceEntry, 0, len(devices))}
	for _, info := range devices {
		result.Devices = append(result.Devices, deviceEntry{
			Serial:   info.Serial,
			Name:     info.Name,
			Location: info.LocationLabel,
		})
	}
	return result, nil
}
