// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for MessHall
// service and CLI binaries. These functions centralize the two
// legitimate raw I/O patterns that exist before or after the
// structured logger:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//
// All other raw output in service binaries should go through the
// structured logger, or for CLI subcommands through the command's
// usage and result printing.
package process
