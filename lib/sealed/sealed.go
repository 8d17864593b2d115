// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores the device protocol credentials on disk
// age-encrypted, so the username/password pair the envelope protocol
// insists on never rests in plaintext.
//
// A credential file is a standard age v1 file whose plaintext is two
// lines: username, then password. The daemon unseals it at startup with
// the host's age identity; messhall-credentials generates identities
// and seals credential files. Private keys and unsealed plaintext only
// ever live in secret.Buffer memory (locked, dump-excluded, zeroed on
// close).
package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/messhall-labs/messhall/lib/secret"
)

// Keypair is an age x25519 identity. The private key lives in locked
// memory; the public key is plain text and safe to print. The caller
// owns Close.
type Keypair struct {
	// PrivateKey holds the AGE-SECRET-KEY-1... string.
	PrivateKey *secret.Buffer

	// PublicKey is the age1... recipient string.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a fresh identity with the private key moved
// into locked memory immediately.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating keypair: %w", err)
	}
	// The identity's own string copy stays on the heap until collected;
	// the locked buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// WriteIdentity writes the private key to path with mode 0600, failing
// if the file already exists. Overwriting an identity orphans every
// credential file sealed to it.
func (k *Keypair) WriteIdentity(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("sealed: creating identity file: %w", err)
	}
	if _, err := f.Write(k.PrivateKey.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("sealed: writing identity file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sealed: closing identity file: %w", err)
	}
	return nil
}

// LoadIdentity reads and validates an age identity file into locked
// memory. The caller owns Close.
func LoadIdentity(path string) (*secret.Buffer, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity %s: %w", path, err)
	}
	if _, err := age.ParseX25519Identity(buffer.String()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("sealed: %s is not an age identity: %w", path, err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age recipient string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("sealed: invalid age public key: %w", err)
	}
	return nil
}

// Credentials is the unsealed protocol credential pair. The caller owns
// Close, which wipes both buffers.
type Credentials struct {
	Username *secret.Buffer
	Password *secret.Buffer
}

// Close wipes both credential buffers. Idempotent.
func (c *Credentials) Close() error {
	var firstErr error
	if c.Username != nil {
		firstErr = c.Username.Close()
	}
	if c.Password != nil {
		if err := c.Password.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SealCredentials writes an age-encrypted credential file for the given
// recipient. username and password are zeroed before return. The file
// is written with mode 0600.
func SealCredentials(path, recipient string, username, password []byte) error {
	parsed, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		secret.Zero(username)
		secret.Zero(password)
		return fmt.Errorf("sealed: parsing recipient: %w", err)
	}

	plaintext := make([]byte, 0, len(username)+len(password)+2)
	plaintext = append(plaintext, username...)
	plaintext = append(plaintext, '\n')
	plaintext = append(plaintext, password...)
	plaintext = append(plaintext, '\n')
	secret.Zero(username)
	secret.Zero(password)
	defer secret.Zero(plaintext)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, parsed)
	if err != nil {
		return fmt.Errorf("sealed: starting encryption: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("sealed: finalizing encryption: %w", err)
	}

	if err := os.WriteFile(path, ciphertext.Bytes(), 0o600); err != nil {
		return fmt.Errorf("sealed: writing credential file: %w", err)
	}
	return nil
}

// UnsealCredentials decrypts a credential file with the identity held
// in privateKey and returns the pair in locked memory. privateKey is
// borrowed, not closed.
func UnsealCredentials(path string, privateKey *secret.Buffer) (*Credentials, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing private key: %w", err)
	}

	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading credential file: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	defer secret.Zero(plaintext)

	lines := bytes.SplitN(bytes.TrimRight(plaintext, "\n"), []byte("\n"), 2)
	if len(lines) != 2 || len(lines[0]) == 0 || len(lines[1]) == 0 {
		return nil, fmt.Errorf("sealed: %s: expected two lines (username, password)", path)
	}

	username, err := secret.NewFromBytes(append([]byte(nil), lines[0]...))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting username: %w", err)
	}
	password, err := secret.NewFromBytes(append([]byte(nil), lines[1]...))
	if err != nil {
		username.Close()
		return nil, fmt.Errorf("sealed: protecting password: %w", err)
	}
	return &Credentials{Username: username, Password: password}, nil
}
