// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive is the content-addressed store for raw device
// payloads. Every response body the device client hands the engine is
// archived verbatim before decoding, so disputed attendance entries
// can be traced back to the exact bytes the device served.
//
// Objects are addressed by the lowercase hex BLAKE3-256 of the
// uncompressed payload and live at dir/<hash[0:2]>/<hash[2:]>.
// Storing a payload whose hash already exists is a no-op returning
// the existing reference; the archive inherits the reconciliation
// engine's idempotency discipline. An archive_objects table in the
// service database indexes the directory by site, log date, and run.
package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/messhall-labs/messhall/lib/clock"
	"github.com/messhall-labs/messhall/lib/sqlitepool"
)

// Compression identifies how an object's bytes are stored on disk.
// The values are persisted in archive_objects rows; changing them
// orphans existing objects.
type Compression string

const (
	// CompressionRaw stores the payload bytes unchanged. Chosen when
	// the probe finds the payload incompressible.
	CompressionRaw Compression = "raw"
	// CompressionZstd stores the payload zstd-compressed. The usual
	// case: device payloads are repetitive XML.
	CompressionZstd Compression = "zstd"
)

func parseCompression(raw string) (Compression, error) {
	switch Compression(raw) {
	case CompressionRaw:
		return CompressionRaw, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("archive: unknown compression %q", raw)
	}
}

// ErrObjectNotFound is returned by Get for a hash with no stored
// object.
var ErrObjectNotFound = errors.New("archive: object not found")

// probeLimit bounds how many payload bytes the compressibility probe
// looks at.
const probeLimit = 4096

const tmpDir = "tmp"

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// compressible probes up to probeLimit bytes with LZ4 block
// compression, which is far cheaper than the zstd pass it gates. A
// zero or not-smaller result means the bytes are not worth
// compressing.
func compressible(payload []byte) bool {
	sample := payload
	if len(sample) > probeLimit {
		sample = sample[:probeLimit]
	}
	destination := make([]byte, lz4.CompressBlockBound(len(sample)))
	written, err := lz4.CompressBlock(sample, destination, nil)
	if err != nil || written == 0 || written >= len(sample) {
		return false
	}
	return true
}

// Meta is the provenance recorded alongside a stored payload.
type Meta struct {
	// SiteCode is the site whose batch produced the payload.
	SiteCode string
	// LogDate is the calendar day the batch covered, "2006-01-02".
	LogDate string
	// RunID is the reconciliation run that fetched the payload.
	RunID string
}

// Ref identifies a stored object.
type Ref struct {
	// Hash is the lowercase hex BLAKE3-256 of the uncompressed
	// payload.
	Hash string
	// Size is the uncompressed payload size in bytes.
	Size int64
	// Compression is how the object is stored on disk.
	Compression Compression
}

// archiveSchema creates the index table over the archive directory.
const archiveSchema = `
	CREATE TABLE IF NOT EXISTS archive_objects (
		hash        TEXT PRIMARY KEY,
		site_code   TEXT NOT NULL,
		log_date    TEXT NOT NULL,
		run_id      TEXT NOT NULL,
		size        INTEGER NOT NULL,
		compression TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archive_objects_date ON archive_objects(log_date, site_code);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Dir is the archive directory, created if absent. Required.
	Dir string
	// Pool is the shared database connection pool holding the
	// archive_objects index. Required.
	Pool *sqlitepool.Pool
	// Clock provides creation timestamps. Required.
	Clock clock.Clock
	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Store is the content-addressed payload archive. Safe for concurrent
// use; concurrent stores of identical bytes converge on one object.
type Store struct {
	dir    string
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates the archive directory structure and the index table.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("archive: Dir is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("archive: Pool is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("archive: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("archive: Logger is required")
	}

	for _, dir := range []string{cfg.Dir, filepath.Join(cfg.Dir, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: creating directory %s: %w", dir, err)
		}
	}

	s := &Store{dir: cfg.Dir, pool: cfg.Pool, clock: cfg.Clock, logger: cfg.Logger}

	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, archiveSchema, nil); err != nil {
		return nil, fmt.Errorf("archive: applying schema: %w", err)
	}

	return s, nil
}

// Put stores one payload and indexes it under the given provenance.
// The payload is probed for compressibility with LZ4; compressible
// bytes are stored zstd-compressed, the rest raw. If an object with
// the same content hash already exists, nothing is written and the
// existing reference is returned.
func (s *Store) Put(ctx context.Context, meta Meta, payload []byte) (Ref, error) {
	if len(payload) == 0 {
		return Ref{}, fmt.Errorf("archive: refusing to store an empty payload")
	}

	sum := blake3.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Ref{}, fmt.Errorf("archive: put: %w", err)
	}
	defer s.pool.Put(conn)

	if existing, found, err := s.refByHash(conn, hash); err != nil {
		return Ref{}, err
	} else if found {
		s.logger.Debug("payload already archived", "hash", hash, "site", meta.SiteCode)
		return existing, nil
	}

	stored := payload
	compression := CompressionRaw
	if compressible(payload) {
		compressed := zstdEncoder.EncodeAll(payload, nil)
		// The probe can be optimistic on short payloads; keep the
		// smaller representation.
		if len(compressed) < len(payload) {
			stored = compressed
			compression = CompressionZstd
		}
	}

	if err := s.writeObject(hash, stored); err != nil {
		return Ref{}, err
	}

	ref := Ref{Hash: hash, Size: int64(len(payload)), Compression: compression}
	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO archive_objects
			(hash, site_code, log_date, run_id, size, compression, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				hash,
				meta.SiteCode,
				meta.LogDate,
				meta.RunID,
				ref.Size,
				string(compression),
				s.clock.Now().Unix(),
			},
		})
	if err != nil {
		return Ref{}, fmt.Errorf("archive: indexing object %s: %w", hash, err)
	}

	s.logger.Debug("payload archived",
		"hash", hash,
		"site", meta.SiteCode,
		"log_date", meta.LogDate,
		"size", ref.Size,
		"stored_size", len(stored),
		"compression", string(compression),
	)
	return ref, nil
}

// Get returns the uncompressed payload for a content hash, verifying
// the hash on the way out. Returns ErrObjectNotFound for hashes the
// index does not know.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if decoded, err := hex.DecodeString(hash); err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("archive: malformed object hash %q", hash)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: get: %w", err)
	}
	defer s.pool.Put(conn)

	ref, found, err := s.refByHash(conn, hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, hash)
	}

	stored, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		return nil, fmt.Errorf("archive: reading object %s: %w", hash, err)
	}

	var payload []byte
	switch ref.Compression {
	case CompressionRaw:
		payload = stored
	case CompressionZstd:
		payload, err = zstdDecoder.DecodeAll(stored, make([]byte, 0, ref.Size))
		if err != nil {
			return nil, fmt.Errorf("archive: decompressing object %s: %w", hash, err)
		}
	}
	if int64(len(payload)) != ref.Size {
		return nil, fmt.Errorf("archive: object %s is %d bytes, index says %d",
			hash, len(payload), ref.Size)
	}

	sum := blake3.Sum256(payload)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("archive: object %s failed hash verification", hash)
	}
	return payload, nil
}

// StorePayload archives one device payload for a reconciliation run
// and returns its content hash. This is the surface the engine
// consumes.
func (s *Store) StorePayload(ctx context.Context, payload []byte, siteCode string, day time.Time, runID string) (string, error) {
	ref, err := s.Put(ctx, Meta{
		SiteCode: siteCode,
		LogDate:  day.Format("2006-01-02"),
		RunID:    runID,
	}, payload)
	if err != nil {
		return "", err
	}
	return ref.Hash, nil
}

// refByHash loads one index row.
func (s *Store) refByHash(conn *sqlite.Conn, hash string) (Ref, bool, error) {
	var ref Ref
	var found bool
	var parseErr error
	err := sqlitex.Execute(conn,
		`SELECT size, compression FROM archive_objects WHERE hash = ?`,
		&sqlitex.ExecOptions{
			Args: []any{hash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ref.Hash = hash
				ref.Size = stmt.ColumnInt64(0)
				ref.Compression, parseErr = parseCompression(stmt.ColumnText(1))
				found = true
				return nil
			},
		})
	if err != nil {
		return Ref{}, false, fmt.Errorf("archive: loading index row %s: %w", hash, err)
	}
	if parseErr != nil {
		return Ref{}, false, parseErr
	}
	return ref, found, nil
}

// writeObject lands the stored bytes at the sharded object path via
// an fsynced temp file and an atomic rename.
func (s *Store) writeObject(hash string, stored []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Join(s.dir, tmpDir), "object-*.bin")
	if err != nil {
		return fmt.Errorf("archive: creating temp object file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(stored); err != nil {
		tmpFile.Close()
		return fmt.Errorf("archive: writing temp object file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("archive: syncing temp object file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("archive: closing temp object file: %w", err)
	}

	finalPath := s.objectPath(hash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("archive: creating shard directory: %w", err)
	}

	// Same content produces the same path; an existing object is
	// identical by construction.
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		success = true
		return nil
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("archive: renaming object to %s: %w", finalPath, err)
	}
	success = true
	return nil
}

// objectPath returns the sharded filesystem path for a content hash.
func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.dir, hash[:2], hash[2:])
}
