// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a short-pathed temporary directory for Unix domain
// sockets and removes it when the test finishes. sun_path caps socket
// paths at 108 bytes; CI runners nest TEST_TMPDIR deep enough to blow
// that, so this allocates directly under /tmp.
func SocketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "messhall-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}
