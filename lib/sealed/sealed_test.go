// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateKeypairShapes(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kp.Close() })

	if !strings.HasPrefix(kp.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want age1... prefix", kp.PublicKey)
	}
	if !strings.HasPrefix(kp.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("PrivateKey does not carry the AGE-SECRET-KEY-1 prefix")
	}
	if err := ParsePublicKey(kp.PublicKey); err != nil {
		t.Errorf("ParsePublicKey on own key: %v", err)
	}
}

func TestWriteIdentityRefusesOverwrite(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kp.Close() })

	path := filepath.Join(t.TempDir(), "age.key")
	if err := kp.WriteIdentity(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("identity file mode = %o, want 0600", mode)
	}
	if err := kp.WriteIdentity(path); err == nil {
		t.Fatal("second WriteIdentity = nil error, want refusal")
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kp.Close() })

	dir := t.TempDir()
	credPath := filepath.Join(dir, "device.cred")
	username := []byte("admin")
	password := []byte("punch-clock-9")
	if err := SealCredentials(credPath, kp.PublicKey, username, password); err != nil {
		t.Fatal(err)
	}

	// SealCredentials zeroes its inputs.
	for _, b := range username {
		if b != 0 {
			t.Fatal("username not zeroed after sealing")
		}
	}

	creds, err := UnsealCredentials(credPath, kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { creds.Close() })

	if got := creds.Username.String(); got != "admin" {
		t.Errorf("Username = %q, want admin", got)
	}
	if got := creds.Password.String(); got != "punch-clock-9" {
		t.Errorf("Password = %q, want punch-clock-9", got)
	}
}

func TestUnsealWrongIdentityFails(t *testing.T) {
	sealer, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sealer.Close() })
	other, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { other.Close() })

	credPath := filepath.Join(t.TempDir(), "device.cred")
	if err := SealCredentials(credPath, sealer.PublicKey, []byte("u"), []byte("p")); err != nil {
		t.Fatal(err)
	}
	if _, err := UnsealCredentials(credPath, other.PrivateKey); err == nil {
		t.Fatal("unseal with the wrong identity = nil error, want failure")
	}
}

func TestLoadIdentityValidates(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.key")
	if err := os.WriteFile(bogus, []byte("not-a-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(bogus); err == nil {
		t.Fatal("LoadIdentity on junk = nil error, want failure")
	}

	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kp.Close() })
	path := filepath.Join(dir, "age.key")
	if err := kp.WriteIdentity(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { loaded.Close() })
	if loaded.String() != kp.PrivateKey.String() {
		t.Error("loaded identity differs from generated identity")
	}
}
