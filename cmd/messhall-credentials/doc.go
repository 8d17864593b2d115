// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// messhall-credentials manages the age-sealed device credential files
// the attendance service reads at startup. "generate" creates the
// service host's identity, "seal" encrypts the device username and
// password to it, and "show" decrypts a file for verification. The
// plaintext password never rests on disk.
package main
