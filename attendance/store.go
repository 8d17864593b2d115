// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/messhall-labs/messhall/lib/clock"
	"github.com/messhall-labs/messhall/lib/sqlitepool"
)

// EntryStatus is the approval state of an attendance entry.
type EntryStatus string

const (
	StatusPending  EntryStatus = "PENDING"
	StatusApproved EntryStatus = "APPROVED"
)

// ParseEntryStatus validates an externally supplied status string.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	switch EntryStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	default:
		return "", fmt.Errorf("attendance: unknown status %q", raw)
	}
}

// ErrEntryNotFound is returned when an entry ID does not exist.
var ErrEntryNotFound = errors.New("attendance: entry not found")

// AttendanceEntry is one persisted, deduplicated attendance record.
// The (EmployeeID, LogTime) pair is unique: it is the idempotency key
// that makes reconciliation safe to repeat.
type AttendanceEntry struct {
	ID         int64
	EmployeeID int64
	// SiteID is the resolved site, nil when resolution produced
	// none.
	SiteID *int64
	// LogTime is the punch instant, stored at second precision.
	LogTime time.Time
	// Location is the raw location string from the punch record,
	// nil when the device sent nothing usable.
	Location   *string
	Status     EntryStatus
	ApprovedAt *time.Time
	CreatedAt  time.Time
}

// EntryView is an entry joined with the display identity read layers
// need: who punched, and at which site.
type EntryView struct {
	AttendanceEntry
	EmployeeName string
	WorkerCode   string
	PhotoPath    *string
	SiteCode     *string
}

// EntryFilter narrows List. Zero From/To mean unbounded; an empty
// SiteIDs means all sites. Time bounds are half-open: [From, To).
type EntryFilter struct {
	From    time.Time
	To      time.Time
	SiteIDs []int64
}

// ReportRow is one site's aggregate for a reporting period. Entries
// with no resolved site group under an empty site code.
type ReportRow struct {
	SiteCode  string
	Total     int64
	Approved  int64
	Pending   int64
	Employees int64
}

// entrySchema creates the engine-owned table. The employees, plants,
// and plant_devices tables in the same database are platform-owned;
// the engine only reads them (see package directory).
const entrySchema = `
	CREATE TABLE IF NOT EXISTS canteen_entries (
		id          INTEGER PRIMARY KEY,
		employee_id INTEGER NOT NULL,
		site_id     INTEGER,
		log_time    INTEGER NOT NULL,
		location    TEXT,
		status      TEXT NOT NULL CHECK (status IN ('PENDING', 'APPROVED')),
		approved_at INTEGER,
		created_at  INTEGER NOT NULL,
		UNIQUE (employee_id, log_time)
	);
	CREATE INDEX IF NOT EXISTS idx_canteen_entries_time ON canteen_entries(log_time);
	CREATE INDEX IF NOT EXISTS idx_canteen_entries_site ON canteen_entries(site_id, log_time);
	CREATE INDEX IF NOT EXISTS idx_canteen_entries_status ON canteen_entries(status, log_time);
`

// EntryStoreConfig holds the parameters for creating an entry store.
type EntryStoreConfig struct {
	// Pool is the shared database connection pool. Required.
	Pool *sqlitepool.Pool
	// Clock provides creation and approval timestamps. Required.
	Clock clock.Clock
	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// EntryStore persists attendance entries in SQLite. All writes funnel
// through the (employee_id, log_time) unique constraint, which is the
// store's concurrency control: overlapping reconcile passes are safe
// by construction.
type EntryStore struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// NewEntryStore creates the store and applies the engine-owned
// schema.
func NewEntryStore(cfg EntryStoreConfig) (*EntryStore, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("attendance store: Pool is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("attendance store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("attendance store: Logger is required")
	}

	store := &EntryStore{pool: cfg.Pool, clock: cfg.Clock, logger: cfg.Logger}

	conn, err := store.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("attendance store: %w", err)
	}
	defer store.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, entrySchema, nil); err != nil {
		return nil, fmt.Errorf("attendance store: applying schema: %w", err)
	}

	return store, nil
}

// Reconcile upserts one punch into the entry store. If no entry with
// the (employee, punch time) key exists, a PENDING entry is created
// and returned with created=true. If one already exists, it is
// returned unchanged with created=false: a re-polled punch is a
// no-op, whatever its current approval state.
func (s *EntryStore) Reconcile(ctx context.Context, employee EmployeeRef, event PunchEvent, site *SiteRef) (AttendanceEntry, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return AttendanceEntry{}, false, fmt.Errorf("attendance store: reconcile: %w", err)
	}
	defer s.pool.Put(conn)

	var siteID any
	if site != nil {
		siteID = site.SiteID
	}
	var location any
	if normalized := normalizeLocation(event.LocationLabel); normalized != nil {
		location = *normalized
	}

	err = sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO canteen_entries
			(employee_id, site_id, log_time, location, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				employee.EmployeeID,
				siteID,
				event.Time.Unix(),
				location,
				string(StatusPending),
				s.clock.Now().Unix(),
			},
		})
	if err != nil {
		return AttendanceEntry{}, false, fmt.Errorf("attendance store: inserting entry: %w", err)
	}
	created := conn.Changes() > 0

	entry, found, err := s.entryByKey(conn, employee.EmployeeID, event.Time.Unix())
	if err != nil {
		return AttendanceEntry{}, false, err
	}
	if !found {
		// The row we just inserted (or collided with) must exist.
		return AttendanceEntry{}, false, fmt.Errorf("attendance store: entry for employee %d at %d vanished",
			employee.EmployeeID, event.Time.Unix())
	}
	return entry, created, nil
}

// SetStatus transitions one entry's approval state. Moving to
// APPROVED stamps ApprovedAt with the store clock's current time;
// moving anywhere else clears the stamp. Returns the updated entry,
// or ErrEntryNotFound for an unknown ID.
func (s *EntryStore) SetStatus(ctx context.Context, entryID int64, status EntryStatus) (AttendanceEntry, error) {
	if status != StatusPending && status != StatusApproved {
		return AttendanceEntry{}, fmt.Errorf("attendance store: invalid status %q", status)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return AttendanceEntry{}, fmt.Errorf("attendance store: set status: %w", err)
	}
	defer s.pool.Put(conn)

	var approvedAt any
	if status == StatusApproved {
		approvedAt = s.clock.Now().Unix()
	}

	err = sqlitex.Execute(conn, `
		UPDATE canteen_entries SET status = ?, approved_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(status), approvedAt, entryID},
		})
	if err != nil {
		return AttendanceEntry{}, fmt.Errorf("attendance store: updating entry %d: %w", entryID, err)
	}
	if conn.Changes() == 0 {
		return AttendanceEntry{}, ErrEntryNotFound
	}

	entry, found, err := s.entryByID(conn, entryID)
	if err != nil {
		return AttendanceEntry{}, err
	}
	if !found {
		return AttendanceEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

// Entry returns one entry by ID. Handlers use it to check a
// site-bound caller's visibility before mutating.
func (s *EntryStore) Entry(ctx context.Context, entryID int64) (AttendanceEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return AttendanceEntry{}, fmt.Errorf("attendance store: entry: %w", err)
	}
	defer s.pool.Put(conn)

	entry, found, err := s.entryByID(conn, entryID)
	if err != nil {
		return AttendanceEntry{}, err
	}
	if !found {
		return AttendanceEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

// List returns entries joined with employee and site display
// identity, ordered by punch time. The filter's site restriction is
// the scoped-visibility mechanism: handlers force a site-bound
// caller's resolved site IDs into it.
func (s *EntryStore) List(ctx context.Context, filter EntryFilter) ([]EntryView, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("attendance store: list: %w", err)
	}
	defer s.pool.Put(conn)

	var query strings.Builder
	query.WriteString(`
		SELECT e.id, e.employee_id, e.site_id, e.log_time, e.location,
		       e.status, e.approved_at, e.created_at,
		       emp.name, emp.worker_code, emp.photo_path, p.code
		FROM canteen_entries e
		JOIN employees emp ON emp.id = e.employee_id
		LEFT JOIN plants p ON p.id = e.site_id
		WHERE 1=1`)

	var args []any
	if !filter.From.IsZero() {
		query.WriteString(" AND e.log_time >= ?")
		args = append(args, filter.From.Unix())
	}
	if !filter.To.IsZero() {
		query.WriteString(" AND e.log_time < ?")
		args = append(args, filter.To.Unix())
	}
	if len(filter.SiteIDs) > 0 {
		query.WriteString(" AND e.site_id IN (")
		for i, siteID := range filter.SiteIDs {
			if i > 0 {
				query.WriteString(", ")
			}
			query.WriteString("?")
			args = append(args, siteID)
		}
		query.WriteString(")")
	}
	query.WriteString(" ORDER BY e.log_time, e.id")

	var entries []EntryView
	err = sqlitex.Execute(conn, query.String(), &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			view := EntryView{
				AttendanceEntry: readEntry(stmt),
				EmployeeName:    stmt.ColumnText(8),
				WorkerCode:      stmt.ColumnText(9),
			}
			if !stmt.ColumnIsNull(10) {
				photoPath := stmt.ColumnText(10)
				view.PhotoPath = &photoPath
			}
			if !stmt.ColumnIsNull(11) {
				siteCode := stmt.ColumnText(11)
				view.SiteCode = &siteCode
			}
			entries = append(entries, view)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("attendance store: listing entries: %w", err)
	}
	return entries, nil
}

// Report aggregates entries per site code over a period: total,
// approved, and pending counts plus the number of distinct employees
// seen. Rows are ordered by site code; entries with no resolved site
// group under the empty code.
func (s *EntryStore) Report(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("attendance store: report: %w", err)
	}
	defer s.pool.Put(conn)

	var query strings.Builder
	query.WriteString(`
		SELECT COALESCE(p.code, ''),
		       COUNT(*),
		       COALESCE(SUM(e.status = 'APPROVED'), 0),
		       COALESCE(SUM(e.status = 'PENDING'), 0),
		       COUNT(DISTINCT e.employee_id)
		FROM canteen_entries e
		LEFT JOIN plants p ON p.id = e.site_id
		WHERE 1=1`)

	var args []any
	if !from.IsZero() {
		query.WriteString(" AND e.log_time >= ?")
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		query.WriteString(" AND e.log_time < ?")
		args = append(args, to.Unix())
	}
	query.WriteString(" GROUP BY COALESCE(p.code, '') ORDER BY COALESCE(p.code, '')")

	var rows []ReportRow
	err = sqlitex.Execute(conn, query.String(), &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, ReportRow{
				SiteCode:  stmt.ColumnText(0),
				Total:     stmt.ColumnInt64(1),
				Approved:  stmt.ColumnInt64(2),
				Pending:   stmt.ColumnInt64(3),
				Employees: stmt.ColumnInt64(4),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("attendance store: building report: %w", err)
	}
	return rows, nil
}

// entryByKey loads one entry by its idempotency key.
func (s *EntryStore) entryByKey(conn *sqlite.Conn, employeeID, logTime int64) (AttendanceEntry, bool, error) {
	return s.selectEntry(conn,
		`SELECT id, employee_id, site_id, log_time, location, status, approved_at, created_at
		 FROM canteen_entries WHERE employee_id = ? AND log_time = ?`,
		employeeID, logTime)
}

// entryByID loads one entry by row ID.
func (s *EntryStore) entryByID(conn *sqlite.Conn, entryID int64) (AttendanceEntry, bool, error) {
	return s.selectEntry(conn,
		`SELECT id, employee_id, site_id, log_time, location, status, approved_at, created_at
		 FROM canteen_entries WHERE id = ?`,
		entryID)
}

func (s *EntryStore) selectEntry(conn *sqlite.Conn, query string, args ...any) (AttendanceEntry, bool, error) {
	var entry AttendanceEntry
	var found bool
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry = readEntry(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return AttendanceEntry{}, false, fmt.Errorf("attendance store: loading entry: %w", err)
	}
	return entry, found, nil
}

// readEntry scans an entry from the first eight columns of a result
// row, in the canonical column order used by every entry query.
func readEntry(stmt *sqlite.Stmt) AttendanceEntry {
	entry := AttendanceEntry{
		ID:         stmt.ColumnInt64(0),
		EmployeeID: stmt.ColumnInt64(1),
		LogTime:    time.Unix(stmt.ColumnInt64(3), 0).UTC(),
		Status:     EntryStatus(stmt.ColumnText(5)),
		CreatedAt:  time.Unix(stmt.ColumnInt64(7), 0).UTC(),
	}
	if !stmt.ColumnIsNull(2) {
		siteID := stmt.ColumnInt64(2)
		entry.SiteID = &siteID
	}
	if !stmt.ColumnIsNull(4) {
		location := stmt.ColumnText(4)
		entry.Location = &location
	}
	if !stmt.ColumnIsNull(6) {
		approvedAt := time.Unix(stmt.ColumnInt64(6), 0).UTC()
		entry.ApprovedAt = &approvedAt
	}
	return entry
}

// normalizeLocation maps the device's location text onto what the
// entry stores: nil for empty, whitespace-only, and the literal
// not-a-number spellings some devices emit when their location field
// was never configured.
func normalizeLocation(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	switch strings.ToLower(trimmed) {
	case "nan", "null":
		return nil
	}
	return &trimmed
}
