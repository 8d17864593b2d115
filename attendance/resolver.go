// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Role is the caller's authorization level, as asserted by the
// fronting proxy or the operator socket.
type Role string

const (
	// RoleAdmin sees and syncs every registered site.
	RoleAdmin Role = "admin"
	// RoleOperator is scoped to a single site, resolved from the
	// caller's site label.
	RoleOperator Role = "operator"
)

// Scope identifies what a caller may see. SiteID is an exact internal
// reference when the platform knows it; SiteLabel is the caller's
// free-text site name, resolved through the tiered matching in
// SitesFor when no exact reference exists.
type Scope struct {
	Role      Role
	SiteID    int64
	SiteLabel string
}

// EmployeeRef is the read-only identity the engine needs from the
// employee directory.
type EmployeeRef struct {
	EmployeeID int64
	WorkerCode string
	SiteID     int64
}

// DeviceRef is one registered device at a site.
type DeviceRef struct {
	Serial string
	Name   string
}

// SiteRef is the read-only identity the engine needs from the plant
// directory, including the registered device names used by tier-2
// site resolution.
type SiteRef struct {
	SiteID        int64
	Code          string
	Name          string
	LocationLabel string
	Devices       []DeviceRef
}

// EmployeeDirectory is the lookup surface the resolver needs from the
// platform's employee records. Implemented by package directory.
type EmployeeDirectory interface {
	// EmployeeByWorkerCode returns the employee carrying the given
	// access credential. The second return is false when no managed
	// employee has the code.
	EmployeeByWorkerCode(ctx context.Context, workerCode string) (EmployeeRef, bool, error)
}

// PlantDirectory is the lookup surface the resolver needs from the
// platform's site records. Implemented by package directory.
type PlantDirectory interface {
	// AllSites returns every registered site, ordered by site ID.
	AllSites(ctx context.Context) ([]SiteRef, error)
	// SiteByID returns one site by its internal ID. The second
	// return is false when the ID is not registered.
	SiteByID(ctx context.Context, siteID int64) (SiteRef, bool, error)
}

// Resolver maps external identifiers onto internal ones: worker codes
// to employees, caller scopes to site lists.
type Resolver struct {
	employees EmployeeDirectory
	plants    PlantDirectory
	logger    *slog.Logger
}

// NewResolver creates a resolver over the two directories. Panics if
// either directory is nil; a nil logger falls back to slog.Default().
func NewResolver(employees EmployeeDirectory, plants PlantDirectory, logger *slog.Logger) *Resolver {
	if employees == nil {
		panic("attendance.Resolver: employee directory is required")
	}
	if plants == nil {
		panic("attendance.Resolver: plant directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{employees: employees, plants: plants, logger: logger}
}

// ResolveEmployee looks up the employee carrying a worker code. Exact
// match only; a miss means the punch belongs to someone outside the
// managed workforce (a contractor, an ex-employee whose credential
// still opens the gate) and the caller drops the record.
func (r *Resolver) ResolveEmployee(ctx context.Context, workerCode string) (EmployeeRef, bool, error) {
	employee, found, err := r.employees.EmployeeByWorkerCode(ctx, workerCode)
	if err != nil {
		return EmployeeRef{}, false, fmt.Errorf("resolving worker code %q: %w", workerCode, err)
	}
	if !found {
		r.logger.Debug("worker code has no matching employee", "worker_code", workerCode)
		return EmployeeRef{}, false, nil
	}
	return employee, true, nil
}

// SitesFor resolves a caller scope to the sites it covers.
//
// Elevated scope returns every registered site. A scope carrying an
// exact site ID returns that site (or nothing, if unregistered).
// Otherwise the caller's site label is resolved through three tiers,
// each tried only if the previous one matched nothing:
//
//  1. the caller label against each site's location label,
//  2. the caller label against each site's registered device names,
//  3. the leading token of the caller label against each site's
//     location label.
//
// All comparisons are symmetric containment on folded (trimmed,
// lowercased) strings; tier 2 additionally matches a device name that
// contains the caller label's leading token, which handles
// operator-entered truncations like a device named "Chennai Gate 1"
// under the caller label "Chennai Plant".
//
// A tier that matches several sites returns all of them ordered by
// site ID, and logs the ambiguity at warn: deterministic and
// observable beats silently guessing. A scope with no resolvable
// label returns an empty list and no error; the caller's batch
// short-circuits to zero entries rather than leaking other sites'
// attendance.
func (r *Resolver) SitesFor(ctx context.Context, scope Scope) ([]SiteRef, error) {
	if scope.Role == RoleAdmin {
		sites, err := r.plants.AllSites(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sites: %w", err)
		}
		return sites, nil
	}

	if scope.SiteID != 0 {
		site, found, err := r.plants.SiteByID(ctx, scope.SiteID)
		if err != nil {
			return nil, fmt.Errorf("resolving site %d: %w", scope.SiteID, err)
		}
		if !found {
			r.logger.Debug("scope references unregistered site", "site_id", scope.SiteID)
			return nil, nil
		}
		return []SiteRef{site}, nil
	}

	callerLabel := fold(scope.SiteLabel)
	if callerLabel == "" {
		return nil, nil
	}

	sites, err := r.plants.AllSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}

	tiers := []struct {
		name  string
		match func(SiteRef) bool
	}{
		{"location_label", func(site SiteRef) bool {
			return labelMatch(callerLabel, fold(site.LocationLabel))
		}},
		{"device_name", func(site SiteRef) bool {
			token := leadingToken(callerLabel)
			for _, dev := range site.Devices {
				name := fold(dev.Name)
				if labelMatch(callerLabel, name) {
					return true
				}
				if token != "" && strings.Contains(name, token) {
					return true
				}
			}
			return false
		}},
		{"leading_token", func(site SiteRef) bool {
			token := leadingToken(callerLabel)
			return token != "" && labelMatch(token, fold(site.LocationLabel))
		}},
	}

	for _, tier := range tiers {
		var matches []SiteRef
		for _, site := range sites {
			if tier.match(site) {
				matches = append(matches, site)
			}
		}
		if len(matches) == 0 {
			continue
		}
		sort.Slice(matches, func(i, j int) bool {
			return matches[i].SiteID < matches[j].SiteID
		})
		if len(matches) > 1 {
			codes := make([]string, len(matches))
			for i, site := range matches {
				codes[i] = site.Code
			}
			r.logger.Warn("site label resolves ambiguously",
				"site_label", scope.SiteLabel,
				"tier", tier.name,
				"matches", strings.Join(codes, ","),
			)
		}
		return matches, nil
	}

	r.logger.Debug("site label resolves to no site", "site_label", scope.SiteLabel)
	return nil, nil
}

// fold normalizes a label for comparison: trimmed and lowercased.
func fold(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// labelMatch reports symmetric containment: either folded string
// containing the other. Both sides must be non-empty.
func labelMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// leadingToken returns the first whitespace-separated token of a
// folded label ("chennai plant" -> "chennai").
func leadingToken(folded string) string {
	token, _, _ := strings.Cut(folded, " ")
	return token
}
