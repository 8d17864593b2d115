// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/messhall-labs/messhall/device"
	"github.com/messhall-labs/messhall/lib/clock"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ErrKind classifies a site batch failure: "io" for transport-level
// failures (retriable on the next run), "protocol" for envelope-level
// failures (retrying changes nothing).
type ErrKind string

const (
	ErrKindIO       ErrKind = "io"
	ErrKindProtocol ErrKind = "protocol"
)

// SiteOutcome is the result of one site's batch within a run.
type SiteOutcome struct {
	SiteCode string `json:"site_code" cbor:"site_code"`
	// Records is how many raw records the device returned.
	Records int `json:"records" cbor:"records"`
	// Created and Existing count reconciled punches: new entries
	// versus idempotent re-encounters.
	Created  int `json:"created" cbor:"created"`
	Existing int `json:"existing" cbor:"existing"`
	// Dropped counts records discarded as noise: unrepairable
	// timestamps, empty or unmatched worker codes.
	Dropped int `json:"dropped" cbor:"dropped"`
	// Failed counts records that hit a storage or lookup error.
	Failed int `json:"failed" cbor:"failed"`
	// Err and ErrKind describe a batch-level failure. An empty Err
	// with zero Records is a genuine "no activity" day; this is how
	// operators tell that apart from "device unreachable".
	Err     string  `json:"error,omitempty" cbor:"error,omitempty"`
	ErrKind ErrKind `json:"error_kind,omitempty" cbor:"error_kind,omitempty"`
}

// RunSummary is the record of one reconciliation pass across sites.
type RunSummary struct {
	RunID   string  `json:"run_id" cbor:"run_id"`
	Trigger Trigger `json:"trigger" cbor:"trigger"`
	// Date is the calendar day the run covered, in the engine's
	// reference time zone.
	Date     string    `json:"date" cbor:"date"`
	Started  time.Time `json:"started" cbor:"started"`
	Finished time.Time `json:"finished" cbor:"finished"`
	// Err is set when the run failed before reaching any site
	// (site resolution failure).
	Err   string        `json:"error,omitempty" cbor:"error,omitempty"`
	Sites []SiteOutcome `json:"sites" cbor:"sites"`
}

// LogFetcher is the device surface the engine consumes; implemented
// by device.Client.
type LogFetcher interface {
	FetchLogs(ctx context.Context, day time.Time, locationLabel string) ([]device.RawRecord, []byte, error)
}

// Archiver stores one raw device payload; implemented by
// archive.Store. The returned string is the stored object's content
// hash.
type Archiver interface {
	StorePayload(ctx context.Context, payload []byte, siteCode string, day time.Time, runID string) (string, error)
}

// EngineConfig holds the collaborators for creating an Engine.
type EngineConfig struct {
	// Device fetches punch records. Required.
	Device LogFetcher
	// Archive stores raw device payloads. Optional; nil disables
	// archiving.
	Archive Archiver
	// Store persists attendance entries. Required.
	Store *EntryStore
	// Resolver maps worker codes and caller scopes. Required.
	Resolver *Resolver
	// Clock provides run timestamps. Required.
	Clock clock.Clock
	// Location is the engine's reference time zone, used for
	// timestamp repair and run dates. Required.
	Location *time.Location
	// SiteTimeout bounds one site's batch end to end. Defaults to
	// 2 minutes if zero.
	SiteTimeout time.Duration
	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Engine runs the reconciliation pipeline: for each site in a scope,
// fetch the day's punch records, archive the raw exchange, normalize,
// resolve, and reconcile. Every pass is stateless and idempotent;
// failures are confined to the site (or the record) they occur in.
type Engine struct {
	device      LogFetcher
	archive     Archiver
	store       *EntryStore
	resolver    *Resolver
	normalizer  *Normalizer
	clock       clock.Clock
	location    *time.Location
	siteTimeout time.Duration
	logger      *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("attendance engine: Device is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("attendance engine: Store is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("attendance engine: Resolver is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("attendance engine: Clock is required")
	}
	if cfg.Location == nil {
		return nil, fmt.Errorf("attendance engine: Location is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("attendance engine: Logger is required")
	}

	siteTimeout := cfg.SiteTimeout
	if siteTimeout == 0 {
		siteTimeout = 2 * time.Minute
	}

	return &Engine{
		device:      cfg.Device,
		archive:     cfg.Archive,
		store:       cfg.Store,
		resolver:    cfg.Resolver,
		normalizer:  NewNormalizer(cfg.Location, cfg.Logger),
		clock:       cfg.Clock,
		location:    cfg.Location,
		siteTimeout: siteTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Location returns the engine's reference time zone.
func (e *Engine) Location() *time.Location {
	return e.location
}

// Resolver returns the engine's identity resolver, shared with the
// read API for scoped listing.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Run executes one reconciliation pass for a calendar day over the
// sites a scope resolves to. Sites are processed sequentially; the
// device server is a single shared resource of unknown concurrent
// tolerance, so the engine never fans out. Run never returns an
// error: failures land in the summary, per site where possible.
func (e *Engine) Run(ctx context.Context, scope Scope, day time.Time, runID string, trigger Trigger) RunSummary {
	// The calendar day is interpreted in the engine's reference
	// zone so that the envelope date and the summary date agree
	// regardless of the zone the caller passed.
	day = day.In(e.location)

	logger := e.logger.With("run_id", runID, "trigger", string(trigger))
	summary := RunSummary{
		RunID:   runID,
		Trigger: trigger,
		Date:    day.Format("2006-01-02"),
		Started: e.clock.Now(),
	}

	sites, err := e.resolver.SitesFor(ctx, scope)
	if err != nil {
		summary.Err = err.Error()
		summary.Finished = e.clock.Now()
		logger.Error("site resolution failed", "error", err)
		return summary
	}
	if len(sites) == 0 {
		logger.Info("scope resolves to no sites, nothing to reconcile",
			"site_label", scope.SiteLabel)
	}

	for _, site := range sites {
		if ctx.Err() != nil {
			break
		}
		summary.Sites = append(summary.Sites, e.runSite(ctx, logger, site, day, runID))
	}

	summary.Finished = e.clock.Now()
	return summary
}

// runSite runs the fetch-archive-normalize-resolve-reconcile pipeline
// for one site, bounded by the per-site timeout. A batch-level
// failure (device unreachable, malformed envelope) abandons this site
// only; a record-level failure abandons that record only.
func (e *Engine) runSite(ctx context.Context, logger *slog.Logger, site SiteRef, day time.Time, runID string) SiteOutcome {
	outcome := SiteOutcome{SiteCode: site.Code}
	logger = logger.With("site", site.Code)

	siteCtx, cancel := context.WithTimeout(ctx, e.siteTimeout)
	defer cancel()

	records, payload, err := e.device.FetchLogs(siteCtx, day, site.LocationLabel)
	if err != nil {
		outcome.Err = err.Error()
		outcome.ErrKind = classifyDeviceError(err)
		logger.Error("fetching device logs failed",
			"kind", string(outcome.ErrKind),
			"error", err,
		)
		return outcome
	}
	outcome.Records = len(records)

	if e.archive != nil && len(payload) > 0 {
		if _, err := e.archive.StorePayload(siteCtx, payload, site.Code, day, runID); err != nil {
			// Archiving is best-effort; the reconcile still runs.
			logger.Warn("archiving device payload failed", "error", err)
		}
	}

	for _, record := range records {
		if siteCtx.Err() != nil {
			outcome.Err = siteCtx.Err().Error()
			outcome.ErrKind = ErrKindIO
			logger.Error("site batch abandoned", "error", siteCtx.Err())
			break
		}

		event, ok := e.normalizer.Normalize(record)
		if !ok {
			outcome.Dropped++
			continue
		}

		employee, found, err := e.resolver.ResolveEmployee(siteCtx, event.WorkerCode)
		if err != nil {
			outcome.Failed++
			logger.Error("employee lookup failed",
				"worker_code", event.WorkerCode,
				"error", err,
			)
			continue
		}
		if !found {
			outcome.Dropped++
			continue
		}

		_, created, err := e.store.Reconcile(siteCtx, employee, event, &site)
		if err != nil {
			outcome.Failed++
			logger.Error("reconcile failed",
				"worker_code", event.WorkerCode,
				"log_time", event.Time,
				"error", err,
			)
			continue
		}
		if created {
			outcome.Created++
		} else {
			outcome.Existing++
		}
	}

	logger.Info("site batch complete",
		"records", outcome.Records,
		"created", outcome.Created,
		"existing", outcome.Existing,
		"dropped", outcome.Dropped,
		"failed", outcome.Failed,
	)
	return outcome
}

// classifyDeviceError maps a device client error onto an ErrKind.
// Anything that is not a protocol failure (including bare context
// errors) counts as I/O: worth retrying on the next run.
func classifyDeviceError(err error) ErrKind {
	if device.IsProtocolFailure(err) {
		return ErrKindProtocol
	}
	return ErrKindIO
}
