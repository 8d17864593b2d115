// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared lifecycle infrastructure for the
// attendance service binaries.
//
// A MessHall service is a standalone Go binary that exposes an HTTP
// API for query and approval traffic plus a Unix socket for local
// operator tooling. This package extracts the scaffolding both
// surfaces share:
//
//   - HTTP server: listener binding, readiness signaling, and
//     graceful shutdown around a caller-provided http.Handler.
//   - Socket server: CBOR request-response Unix socket with action
//     dispatch, connection timeouts, and graceful shutdown.
//
// Binaries compose these pieces in their own main() rather than
// subclassing a framework. The package provides building blocks, not
// a runtime.
//
// # Authentication
//
// Neither surface authenticates callers itself. The HTTP API trusts
// identity headers injected by the fronting reverse proxy, and the
// socket relies on filesystem permissions: only processes that can
// open the socket path can issue operator actions. Handlers must not
// assume anything stronger.
package service
