// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package attendance turns raw device punch records into canteen
// attendance entries and keeps that conversion correct under
// re-polling.
//
// The pipeline for one site and one day: fetch the device's punch
// records (package device), archive the raw exchange (package
// archive), normalize each record's timestamp and direction, resolve
// the worker code to an employee, and reconcile the punch into the
// entry store. Reconciliation is an idempotent upsert keyed on
// (employee, punch time): running the pipeline twice, or overlapping
// a manual run with a scheduled one, produces exactly the rows a
// single run would have produced.
//
// Entries are created PENDING and move to APPROVED only through the
// approval workflow. Listing and reporting are scoped: site-bound
// operators see their own site's entries, elevated operators see
// everything.
//
// The Scheduler drives the pipeline on a cron expression with a
// single goroutine. Sites are processed sequentially and a failure at
// one site never blocks the others; each run's per-site outcomes are
// kept in a bounded in-memory history so operators can tell "no
// activity" apart from "device unreachable".
package attendance
