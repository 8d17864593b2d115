// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/messhall-labs/messhall/attendance"
	"github.com/messhall-labs/messhall/device"
)

type deviceResponse struct {
	records []device.RawRecord
	payload []byte
	err     error
}

// fakeDevice serves canned responses keyed by the location label the
// engine asks for, and records every call.
type fakeDevice struct {
	mu        sync.Mutex
	responses map[string]deviceResponse
	calls     []string
	days      []string
}

func (d *fakeDevice) FetchLogs(ctx context.Context, day time.Time, locationLabel string) ([]device.RawRecord, []byte, error) {
	d.mu.Lock()
	d.calls = append(d.calls, locationLabel)
	d.days = append(d.days, day.Format("2006-01-02"))
	response := d.responses[locationLabel]
	d.mu.Unlock()
	if response.err != nil {
		return nil, nil, response.err
	}
	return response.records, response.payload, nil
}

func (d *fakeDevice) callLabels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type archivedPayload struct {
	payload  string
	siteCode string
	day      string
	runID    string
}

type fakeArchiver struct {
	mu     sync.Mutex
	stored []archivedPayload
	err    error
}

func (a *fakeArchiver) StorePayload(ctx context.Context, payload []byte, siteCode string, day time.Time, runID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.stored = append(a.stored, archivedPayload{
		payload:  string(payload),
		siteCode: siteCode,
		day:      day.Format("2006-01-02"),
		runID:    runID,
	})
	return fmt.Sprintf("blob-%d", len(a.stored)), nil
}

func (a *fakeArchiver) snapshot() []archivedPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archivedPayload(nil), a.stored...)
}

type engineFixture struct {
	*storeFixture
	device  *fakeDevice
	archive *fakeArchiver
	engine  *attendance.Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	sf := newStoreFixture(t)
	dev := &fakeDevice{responses: map[string]deviceResponse{}}
	arch := &fakeArchiver{}

	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Device:   dev,
		Archive:  arch,
		Store:    sf.store,
		Resolver: attendance.NewResolver(sf.dir, sf.dir, testLogger()),
		Clock:    sf.clock,
		Location: time.UTC,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &engineFixture{storeFixture: sf, device: dev, archive: arch, engine: engine}
}

var testDay = time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC)

func TestEngineRunReconcilesAllSites(t *testing.T) {
	f := newEngineFixture(t)
	f.device.responses["Chennai Plant"] = deviceResponse{
		records: []device.RawRecord{
			{WorkerCode: "EMP001", Timestamp: "2025-03-23 08:30:15", Direction: "in", LocationLabel: "Canteen Gate"},
			{WorkerCode: "EMP001", Timestamp: "2025-03-23 08:30:15", Direction: "in", LocationLabel: "Canteen Gate"},
			{WorkerCode: "EMP002", Timestamp: "2025-03-2317:02:09", Direction: "out"},
		},
		payload: []byte("<chn/>"),
	}
	f.device.responses["Pune Works"] = deviceResponse{
		records: []device.RawRecord{
			{WorkerCode: "EMP002", Timestamp: "2025-03-23 09:00:00", Direction: "in"},
		},
		payload: []byte("<pun/>"),
	}

	summary := f.engine.Run(t.Context(), attendance.Scope{Role: attendance.RoleAdmin}, testDay, "run-1", attendance.TriggerManual)

	if summary.RunID != "run-1" || summary.Trigger != attendance.TriggerManual {
		t.Errorf("summary identity = %q/%q, want run-1/manual", summary.RunID, summary.Trigger)
	}
	if summary.Date != "2025-03-23" {
		t.Errorf("Date = %q, want 2025-03-23", summary.Date)
	}
	if summary.Err != "" {
		t.Errorf("Err = %q, want none", summary.Err)
	}
	if len(summary.Sites) != 2 {
		t.Fatalf("len(Sites) = %d, want 2", len(summary.Sites))
	}

	chn := summary.Sites[0]
	if chn.SiteCode != "CHN-01" {
		t.Errorf("Sites[0] = %q, want CHN-01", chn.SiteCode)
	}
	if chn.Records != 3 || chn.Created != 2 || chn.Existing != 1 || chn.Dropped != 0 || chn.Failed != 0 {
		t.Errorf("CHN-01 outcome = %+v, want 3 records, 2 created, 1 existing", chn)
	}
	pun := summary.Sites[1]
	if pun.SiteCode != "PUN-01" || pun.Created != 1 {
		t.Errorf("PUN-01 outcome = %+v, want 1 created", pun)
	}

	views, err := f.store.List(t.Context(), attendance.EntryFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 3 {
		t.Errorf("len(List()) = %d, want 3", len(views))
	}

	stored := f.archive.snapshot()
	if len(stored) != 2 {
		t.Fatalf("archived payloads = %d, want 2", len(stored))
	}
	if stored[0].payload != "<chn/>" || stored[0].siteCode != "CHN-01" {
		t.Errorf("stored[0] = %+v, want the Chennai payload", stored[0])
	}
	if stored[0].day != "2025-03-23" || stored[0].runID != "run-1" {
		t.Errorf("stored[0] keyed %s/%s, want 2025-03-23/run-1", stored[0].day, stored[0].runID)
	}
}

func TestEngineRunIsolatesSiteFailures(t *testing.T) {
	f := newEngineFixture(t)
	f.device.responses["Chennai Plant"] = deviceResponse{
		err: &device.ProtocolError{Op: "GetTransactionsLog", Status: "FAILED", Message: "invalid credentials"},
	}
	f.device.responses["Pune Works"] = deviceResponse{
		records: []device.RawRecord{
			{WorkerCode: "EMP002", Timestamp: "2025-03-23 09:00:00", Direction: "in"},
		},
		payload: []byte("<pun/>"),
	}

	summary := f.engine.Run(t.Context(), attendance.Scope{Role: attendance.RoleAdmin}, testDay, "run-1", attendance.TriggerScheduled)
	if len(summary.Sites) != 2 {
		t.Fatalf("len(Sites) = %d, want 2", len(summary.Sites))
	}
	if summary.Sites[0].Err == "" || summary.Sites[0].ErrKind != attendance.ErrKindProtocol {
		t.Errorf("CHN-01 outcome = %+v, want a protocol failure", summary.Sites[0])
	}
	if summary.Sites[1].Created != 1 || summary.Sites[1].Err != "" {
		t.Errorf("PUN-01 outcome = %+v, want 1 created after Chennai failed", summary.Sites[1])
	}

	views, err := f.store.List(t.Context(), attendance.EntryFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 1 || views[0].WorkerCode != "EMP002" {
		t.Errorf("store has %d entries, want exactly Ravi's", len(views))
	}

	// A transport failure on the next pass classifies as io, and the
	// surviving site's entry stays idempotent.
	f.device.responses["Chennai Plant"] = deviceResponse{
		err: &device.IOError{Op: "GetTransactionsLog", Err: errors.New("connection refused")},
	}
	summary = f.engine.Run(t.Context(), attendance.Scope{Role: attendance.RoleAdmin}, testDay, "run-2", attendance.TriggerScheduled)
	if summary.Sites[0].ErrKind != attendance.ErrKindIO {
		t.Errorf("CHN-01 ErrKind = %q, want io", summary.Sites[0].ErrKind)
	}
	if summary.Sites[1].Existing != 1 || summary.Sites[1].Created != 0 {
		t.Errorf("PUN-01 outcome = %+v, want 1 existing on the repeat pass", summary.Sites[1])
	}
}

func TestEngineRunDropsNoiseRecords(t *testing.T) {
	f := newEngineFixture(t)
	f.device.responses["Chennai Plant"] = deviceResponse{
		records: []device.RawRecord{
			{WorkerCode: "EMP999", Timestamp: "2025-03-23 08:00:00", Direction: "in"},
			{WorkerCode: "EMP001", Timestamp: "garbage", Direction: "in"},
			{WorkerCode: "", Timestamp: "2025-03-23 08:05:00", Direction: "in"},
			{WorkerCode: "EMP001", Timestamp: "2025-03-23 08:30:15", Direction: "in"},
		},
		payload: []byte("<chn/>"),
	}

	summary := f.engine.Run(t.Context(),
		attendance.Scope{Role: attendance.RoleOperator, SiteLabel: "Chennai Plant"},
		testDay, "run-1", attendance.TriggerManual)

	if len(summary.Sites) != 1 {
		t.Fatalf("len(Sites) = %d, want 1", len(summary.Sites))
	}
	outcome := summary.Sites[0]
	if outcome.Records != 4 || outcome.Created != 1 || outcome.Dropped != 3 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v, want 4 records, 1 created, 3 dropped", outcome)
	}
	if outcome.Err != "" {
		t.Errorf("Err = %q, want none for record-level noise", outcome.Err)
	}
}

func TestEngineRunScopesOperatorToTheirSite(t *testing.T) {
	f := newEngineFixture(t)
	f.device.responses["Chennai Plant"] = deviceResponse{payload: []byte("<chn/>")}
	f.device.responses["Pune Works"] = deviceResponse{payload: []byte("<pun/>")}

	summary := f.engine.Run(t.Context(),
		attendance.Scope{Role: attendance.RoleOperator, SiteLabel: "Chennai Plant"},
		testDay, "run-1", attendance.TriggerManual)

	if len(summary.Sites) != 1 || summary.Sites[0].SiteCode != "CHN-01" {
		t.Fatalf("Sites = %+v, want CHN-01 only", summary.Sites)
	}
	if calls := f.device.callLabels(); len(calls) != 1 || calls[0] != "Chennai Plant" {
		t.Errorf("device calls = %v, want only Chennai Plant", calls)
	}
}

func TestEngineRunUnresolvableScope(t *testing.T) {
	f := newEngineFixture(t)

	summary := f.engine.Run(t.Context(),
		attendance.Scope{Role: attendance.RoleOperator, SiteLabel: "Hyderabad Unit"},
		testDay, "run-1", attendance.TriggerManual)

	if summary.Err != "" {
		t.Errorf("Err = %q, want none for an unresolvable scope", summary.Err)
	}
	if len(summary.Sites) != 0 {
		t.Errorf("Sites = %+v, want none", summary.Sites)
	}
	if calls := f.device.callLabels(); len(calls) != 0 {
		t.Errorf("device calls = %v, want none", calls)
	}
}

func TestEngineRunArchiveFailureDoesNotAbort(t *testing.T) {
	f := newEngineFixture(t)
	f.archive.err = errors.New("disk full")
	f.device.responses["Chennai Plant"] = deviceResponse{
		records: []device.RawRecord{
			{WorkerCode: "EMP001", Timestamp: "2025-03-23 08:30:15", Direction: "in"},
		},
		payload: []byte("<chn/>"),
	}

	summary := f.engine.Run(t.Context(),
		attendance.Scope{Role: attendance.RoleOperator, SiteLabel: "Chennai Plant"},
		testDay, "run-1", attendance.TriggerManual)

	if summary.Sites[0].Created != 1 || summary.Sites[0].Err != "" {
		t.Errorf("outcome = %+v, want the batch reconciled despite the archive failure", summary.Sites[0])
	}
}

func TestEngineRunWithoutArchiver(t *testing.T) {
	f := newEngineFixture(t)
	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Device:   f.device,
		Store:    f.store,
		Resolver: attendance.NewResolver(f.dir, f.dir, testLogger()),
		Clock:    f.clock,
		Location: time.UTC,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.device.responses["Chennai Plant"] = deviceResponse{
		records: []device.RawRecord{
			{WorkerCode: "EMP001", Timestamp: "2025-03-23 08:30:15", Direction: "in"},
		},
		payload: []byte("<chn/>"),
	}

	summary := engine.Run(t.Context(),
		attendance.Scope{Role: attendance.RoleOperator, SiteLabel: "Chennai Plant"},
		testDay, "run-1", attendance.TriggerManual)
	if summary.Sites[0].Created != 1 {
		t.Errorf("outcome = %+v, want 1 created with archiving disabled", summary.Sites[0])
	}
}

func TestEngineRunLocalizesDay(t *testing.T) {
	f := newEngineFixture(t)
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("Asia/Kolkata not available: %v", err)
	}
	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Device:   f.device,
		Store:    f.store,
		Resolver: attendance.NewResolver(f.dir, f.dir, testLogger()),
		Clock:    f.clock,
		Location: kolkata,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.device.responses["Chennai Plant"] = deviceResponse{payload: []byte("<chn/>")}

	// 20:30 UTC on March 22 is already March 23 in Kolkata; both the
	// summary date and the device request date must reflect that.
	day := time.Date(2025, 3, 22, 20, 30, 0, 0, time.UTC)
	summary := engine.Run(t.Context(),
		attendance.Scope{Role: attendance.RoleOperator, SiteLabel: "Chennai Plant"},
		day, "run-1", attendance.TriggerManual)

	if summary.Date != "2025-03-23" {
		t.Errorf("Date = %q, want 2025-03-23", summary.Date)
	}
	f.device.mu.Lock()
	days := append([]string(nil), f.device.days...)
	f.device.mu.Unlock()
	if len(days) != 1 || days[0] != "2025-03-23" {
		t.Errorf("device request days = %v, want [2025-03-23]", days)
	}
}

type failingPlants struct {
	err error
}

func (p failingPlants) AllSites(ctx context.Context) ([]attendance.SiteRef, error) {
	return nil, p.err
}

func (p failingPlants) SiteByID(ctx context.Context, siteID int64) (attendance.SiteRef, bool, error) {
	return attendance.SiteRef{}, false, p.err
}

func TestEngineRunSurfacesResolutionFailure(t *testing.T) {
	f := newEngineFixture(t)
	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Device:   f.device,
		Store:    f.store,
		Resolver: attendance.NewResolver(f.dir, failingPlants{err: errors.New("directory offline")}, testLogger()),
		Clock:    f.clock,
		Location: time.UTC,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	summary := engine.Run(t.Context(), attendance.Scope{Role: attendance.RoleAdmin}, testDay, "run-1", attendance.TriggerScheduled)
	if summary.Err == "" {
		t.Error("Err = empty, want the resolution failure surfaced")
	}
	if len(summary.Sites) != 0 {
		t.Errorf("Sites = %+v, want none", summary.Sites)
	}
}
