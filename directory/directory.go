// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory reads the platform-owned employee and plant
// tables: who carries which access credential, and which sites and
// devices exist. The reconciliation engine treats these as read-only
// reference data; the Seed functions exist for provisioning fresh
// databases and for tests, never for the engine's runtime path.
package directory

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/messhall-labs/messhall/attendance"
	"github.com/messhall-labs/messhall/lib/sqlitepool"
)

// directorySchema creates the platform-owned tables when they do not
// already exist. On a production database provisioned by the platform
// these statements are no-ops.
const directorySchema = `
	CREATE TABLE IF NOT EXISTS plants (
		id             INTEGER PRIMARY KEY,
		code           TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		location_label TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS employees (
		id          INTEGER PRIMARY KEY,
		worker_code TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		role        TEXT,
		plant_id    INTEGER NOT NULL,
		photo_path  TEXT
	);
	CREATE TABLE IF NOT EXISTS plant_devices (
		serial   TEXT NOT NULL UNIQUE,
		name     TEXT NOT NULL,
		plant_id INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plant_devices_plant ON plant_devices(plant_id);
`

// Config holds the parameters for opening a Directory.
type Config struct {
	// Pool is the shared database connection pool. Required.
	Pool *sqlitepool.Pool
	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Directory implements attendance.EmployeeDirectory and
// attendance.PlantDirectory over the platform tables.
type Directory struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open creates a Directory and ensures the platform tables exist.
func Open(cfg Config) (*Directory, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("directory: Pool is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("directory: Logger is required")
	}

	d := &Directory{pool: cfg.Pool, logger: cfg.Logger}

	conn, err := d.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	defer d.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, directorySchema, nil); err != nil {
		return nil, fmt.Errorf("directory: applying schema: %w", err)
	}

	return d, nil
}

// EmployeeByWorkerCode returns the employee carrying an access
// credential. Exact match on the stored worker code.
func (d *Directory) EmployeeByWorkerCode(ctx context.Context, workerCode string) (attendance.EmployeeRef, bool, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return attendance.EmployeeRef{}, false, fmt.Errorf("directory: employee lookup: %w", err)
	}
	defer d.pool.Put(conn)

	var employee attendance.EmployeeRef
	var found bool
	err = sqlitex.Execute(conn,
		`SELECT id, worker_code, plant_id FROM employees WHERE worker_code = ?`,
		&sqlitex.ExecOptions{
			Args: []any{workerCode},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				employee = attendance.EmployeeRef{
					EmployeeID: stmt.ColumnInt64(0),
					WorkerCode: stmt.ColumnText(1),
					SiteID:     stmt.ColumnInt64(2),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return attendance.EmployeeRef{}, false, fmt.Errorf("directory: employee lookup: %w", err)
	}
	return employee, found, nil
}

// AllSites returns every registered site with its devices, ordered by
// site ID.
func (d *Directory) AllSites(ctx context.Context) ([]attendance.SiteRef, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: listing sites: %w", err)
	}
	defer d.pool.Put(conn)

	sites, err := d.selectSites(conn, "", nil)
	if err != nil {
		return nil, fmt.Errorf("directory: listing sites: %w", err)
	}
	return sites, nil
}

// SiteByID returns one site by its internal ID.
func (d *Directory) SiteByID(ctx context.Context, siteID int64) (attendance.SiteRef, bool, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return attendance.SiteRef{}, false, fmt.Errorf("directory: site lookup: %w", err)
	}
	defer d.pool.Put(conn)

	sites, err := d.selectSites(conn, "WHERE p.id = ?", []any{siteID})
	if err != nil {
		return attendance.SiteRef{}, false, fmt.Errorf("directory: site lookup: %w", err)
	}
	if len(sites) == 0 {
		return attendance.SiteRef{}, false, nil
	}
	return sites[0], true, nil
}

// selectSites loads sites and their devices in one joined query. The
// join returns one row per (site, device) pair, plus a NULL-device
// row for sites with no registered hardware; rows arrive ordered by
// site ID so sites accumulate in order.
func (d *Directory) selectSites(conn *sqlite.Conn, where string, args []any) ([]attendance.SiteRef, error) {
	query := fmt.Sprintf(`
		SELECT p.id, p.code, p.name, p.location_label, pd.serial, pd.name
		FROM plants p
		LEFT JOIN plant_devices pd ON pd.plant_id = p.id
		%s
		ORDER BY p.id, pd.serial`, where)

	var sites []attendance.SiteRef
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			siteID := stmt.ColumnInt64(0)
			if len(sites) == 0 || sites[len(sites)-1].SiteID != siteID {
				sites = append(sites, attendance.SiteRef{
					SiteID:        siteID,
					Code:          stmt.ColumnText(1),
					Name:          stmt.ColumnText(2),
					LocationLabel: stmt.ColumnText(3),
				})
			}
			if !stmt.ColumnIsNull(4) {
				site := &sites[len(sites)-1]
				site.Devices = append(site.Devices, attendance.DeviceRef{
					Serial: stmt.ColumnText(4),
					Name:   stmt.ColumnText(5),
				})
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// Plant is the seed payload for one site.
type Plant struct {
	Code          string
	Name          string
	LocationLabel string
}

// Employee is the seed payload for one employee.
type Employee struct {
	WorkerCode string
	Name       string
	Role       string
	PlantID    int64
	// PhotoPath is the display photo location, empty for none.
	PhotoPath string
}

// Device is the seed payload for one registered device.
type Device struct {
	Serial  string
	Name    string
	PlantID int64
}

// SeedPlant inserts a site and returns its ID. Intended for
// provisioning empty databases and for tests; duplicate codes error.
func (d *Directory) SeedPlant(ctx context.Context, plant Plant) (int64, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("directory: seeding plant: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO plants (code, name, location_label) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{plant.Code, plant.Name, plant.LocationLabel},
		})
	if err != nil {
		return 0, fmt.Errorf("directory: seeding plant %q: %w", plant.Code, err)
	}
	return conn.LastInsertRowID(), nil
}

// SeedEmployee inserts an employee and returns their ID.
func (d *Directory) SeedEmployee(ctx context.Context, employee Employee) (int64, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("directory: seeding employee: %w", err)
	}
	defer d.pool.Put(conn)

	var photoPath any
	if employee.PhotoPath != "" {
		photoPath = employee.PhotoPath
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO employees (worker_code, name, role, plant_id, photo_path) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{employee.WorkerCode, employee.Name, employee.Role, employee.PlantID, photoPath},
		})
	if err != nil {
		return 0, fmt.Errorf("directory: seeding employee %q: %w", employee.WorkerCode, err)
	}
	return conn.LastInsertRowID(), nil
}

// SeedDevice registers a device under a site.
func (d *Directory) SeedDevice(ctx context.Context, device Device) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("directory: seeding device: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO plant_devices (serial, name, plant_id) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{device.Serial, device.Name, device.PlantID},
		})
	if err != nil {
		return fmt.Errorf("directory: seeding device %q: %w", device.Serial, err)
	}
	return nil
}
