// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/messhall-labs/messhall/attendance"
	"github.com/messhall-labs/messhall/lib/clock"
	"github.com/messhall-labs/messhall/lib/sqlitepool"
)

// The platform gateway authenticates operators and asserts their
// identity in these headers. The service trusts them as-is; an absent
// or unrecognized role is treated as an operator, scoped by the site
// header.
const (
	roleHeader = "X-Messhall-Role"
	siteHeader = "X-Messhall-Site"
)

// maxBodySize bounds status and sync request bodies. Both carry a few
// short fields.
const maxBodySize = 64 * 1024

// dayFormat is the calendar-day parameter format on all endpoints.
const dayFormat = "2006-01-02"

// apiServer is the HTTP query and approval surface: entry listings,
// status changes, report exports, manual sync triggers, and run
// history. Site-bound callers see only entries at their resolved
// sites; the resolver applies the same tiered label matching the
// reconciliation engine uses.
type apiServer struct {
	store     *attendance.EntryStore
	scheduler *attendance.Scheduler
	resolver  *attendance.Resolver
	pool      *sqlitepool.Pool
	clock     clock.Clock
	location  *time.Location
	logger    *slog.Logger
}

// handler builds the route table.
func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/entries", s.handleListEntries)
	mux.HandleFunc("POST /v1/entries/{id}/status", s.handleSetStatus)
	mux.HandleFunc("GET /v1/reports/attendance", s.handleReport)
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("GET /v1/runs", s.handleRuns)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// scopeFromRequest builds the caller scope from the gateway identity
// headers.
func scopeFromRequest(request *http.Request) attendance.Scope {
	role := attendance.RoleOperator
	if strings.EqualFold(request.Header.Get(roleHeader), string(attendance.RoleAdmin)) {
		role = attendance.RoleAdmin
	}
	return attendance.Scope{
		Role:      role,
		SiteLabel: strings.TrimSpace(request.Header.Get(siteHeader)),
	}
}

// entryPayload is one attendance entry in listing responses. Times
// render in the service's display zone.
type entryPayload struct {
	ID           int64   `json:"id"`
	EmployeeName string  `json:"employeeName"`
	WorkerCode   string  `json:"workerCode"`
	PhotoPath    *string `json:"photoPath,omitempty"`
	SiteCode     *string `json:"siteCode,omitempty"`
	Location     *string `json:"location,omitempty"`
	LogTime      string  `json:"logTime"`
	Status       string  `json:"status"`
	ApprovedAt   *string `json:"approvedAt,omitempty"`
}

func (s *apiServer) handleListEntries(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()

	day := s.clock.Now().In(s.location)
	if dateParam := query.Get("date"); dateParam != "" {
		parsed, err := time.ParseInLocation(dayFormat, dateParam, s.location)
		if err != nil {
			http.Error(writer, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.location)
	filter := attendance.EntryFilter{From: start, To: start.AddDate(0, 0, 1)}

	// Admins with no site filter skip resolution and see everything.
	// Everyone else gets the filter pinned to their resolved sites; an
	// empty resolution means an empty listing, never an unscoped one.
	scope := scopeFromRequest(request)
	siteCode := strings.TrimSpace(query.Get("site"))
	if scope.Role != attendance.RoleAdmin || siteCode != "" {
		sites, err := s.resolver.SitesFor(request.Context(), scope)
		if err != nil {
			s.logger.Error("resolving caller scope", "error", err)
			http.Error(writer, "", http.StatusInternalServerError)
			return
		}
		for _, site := range sites {
			if siteCode != "" && !strings.EqualFold(site.Code, siteCode) {
				continue
			}
			filter.SiteIDs = append(filter.SiteIDs, site.SiteID)
		}
		if len(filter.SiteIDs) == 0 {
			writeJSON(writer, s.logger, http.StatusOK, []entryPayload{})
			return
		}
	}

	views, err := s.store.List(request.Context(), filter)
	if err != nil {
		s.logger.Error("listing entries", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}

	payload := make([]entryPayload, 0, len(views))
	for _, view := range views {
		payload = append(payload, s.entryPayload(view))
	}
	writeJSON(writer, s.logger, http.StatusOK, payload)
}

func (s *apiServer) entryPayload(view attendance.EntryView) entryPayload {
	payload := entryPayload{
		ID:           view.ID,
		EmployeeName: view.EmployeeName,
		WorkerCode:   view.WorkerCode,
		PhotoPath:    view.PhotoPath,
		SiteCode:     view.SiteCode,
		Location:     view.Location,
		LogTime:      view.LogTime.In(s.location).Format(time.RFC3339),
		Status:       string(view.Status),
	}
	if view.ApprovedAt != nil {
		approved := view.ApprovedAt.In(s.location).Format(time.RFC3339)
		payload.ApprovedAt = &approved
	}
	return payload
}

// statusPayload is the response to a status change.
type statusPayload struct {
	ID         int64   `json:"id"`
	Status     string  `json:"status"`
	ApprovedAt *string `json:"approvedAt,omitempty"`
}

func (s *apiServer) handleSetStatus(writer http.ResponseWriter, request *http.Request) {
	entryID, err := strconv.ParseInt(request.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(writer, "invalid entry id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(request.Body, maxBodySize))
	if err != nil {
		http.Error(writer, "", http.StatusBadRequest)
		return
	}
	var change struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &change); err != nil {
		http.Error(writer, "invalid JSON body", http.StatusBadRequest)
		return
	}
	status, err := attendance.ParseEntryStatus(change.Status)
	if err != nil {
		http.Error(writer, "status must be PENDING or APPROVED", http.StatusBadRequest)
		return
	}

	scope := scopeFromRequest(request)
	if scope.Role != attendance.RoleAdmin {
		visible, err := s.entryVisible(request.Context(), scope, entryID)
		if err != nil {
			if errors.Is(err, attendance.ErrEntryNotFound) {
				http.Error(writer, "entry not found", http.StatusNotFound)
				return
			}
			s.logger.Error("checking entry visibility", "entry_id", entryID, "error", err)
			http.Error(writer, "", http.StatusInternalServerError)
			return
		}
		if !visible {
			// Out-of-scope entries are indistinguishable from
			// missing ones.
			http.Error(writer, "entry not found", http.StatusNotFound)
			return
		}
	}

	entry, err := s.store.SetStatus(request.Context(), entryID, status)
	if err != nil {
		if errors.Is(err, attendance.ErrEntryNotFound) {
			http.Error(writer, "entry not found", http.StatusNotFound)
			return
		}
		s.logger.Error("setting entry status", "entry_id", entryID, "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}

	payload := statusPayload{ID: entry.ID, Status: string(entry.Status)}
	if entry.ApprovedAt != nil {
		approved := entry.ApprovedAt.In(s.location).Format(time.RFC3339)
		payload.ApprovedAt = &approved
	}
	writeJSON(writer, s.logger, http.StatusOK, payload)
}

// entryVisible reports whether the entry sits at one of the caller's
// resolved sites. Entries with no resolved site stay admin-only.
func (s *apiServer) entryVisible(ctx context.Context, scope attendance.Scope, entryID int64) (bool, error) {
	entry, err := s.store.Entry(ctx, entryID)
	if err != nil {
		return false, err
	}
	if entry.SiteID == nil {
		return false, nil
	}
	sites, err := s.resolver.SitesFor(ctx, scope)
	if err != nil {
		return false, err
	}
	for _, site := range sites {
		if site.SiteID == *entry.SiteID {
			return true, nil
		}
	}
	return false, nil
}

// reportRowPayload is one site's aggregate in the report response.
type reportRowPayload struct {
	SiteCode  string `json:"siteCode"`
	Total     int64  `json:"total"`
	Approved  int64  `json:"approved"`
	Pending   int64  `json:"pending"`
	Employees int64  `json:"employees"`
}

// reportPayload echoes the requested period alongside the rows so
// exports are self-describing.
type reportPayload struct {
	From  string             `json:"from,omitempty"`
	To    string             `json:"to,omitempty"`
	Sites []reportRowPayload `json:"sites"`
}

func (s *apiServer) handleReport(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	fromParam := query.Get("from")
	toParam := query.Get("to")

	var from, to time.Time
	if fromParam != "" {
		parsed, err := time.ParseInLocation(dayFormat, fromParam, s.location)
		if err != nil {
			http.Error(writer, "invalid from date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if toParam != "" {
		parsed, err := time.ParseInLocation(dayFormat, toParam, s.location)
		if err != nil {
			http.Error(writer, "invalid to date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		// The to parameter names the last day of the period
		// inclusively; the store takes a half-open range.
		to = parsed.AddDate(0, 0, 1)
	}

	rows, err := s.store.Report(request.Context(), from, to)
	if err != nil {
		s.logger.Error("building report", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}

	scope := scopeFromRequest(request)
	if scope.Role != attendance.RoleAdmin {
		sites, err := s.resolver.SitesFor(request.Context(), scope)
		if err != nil {
			s.logger.Error("resolving caller scope", "error", err)
			http.Error(writer, "", http.StatusInternalServerError)
			return
		}
		visible := make(map[string]bool, len(sites))
		for _, site := range sites {
			visible[site.Code] = true
		}
		var scoped []attendance.ReportRow
		for _, row := range rows {
			if visible[row.SiteCode] {
				scoped = append(scoped, row)
			}
		}
		rows = scoped
	}

	payload := reportPayload{
		From:  fromParam,
		To:    toParam,
		Sites: make([]reportRowPayload, 0, len(rows)),
	}
	for _, row := range rows {
		payload.Sites = append(payload.Sites, reportRowPayload{
			SiteCode:  row.SiteCode,
			Total:     row.Total,
			Approved:  row.Approved,
			Pending:   row.Pending,
			Employees: row.Employees,
		})
	}
	writeJSON(writer, s.logger, http.StatusOK, payload)
}

// syncPayload is the response to a manual sync trigger.
type syncPayload struct {
	RunID string `json:"runId"`
}

func (s *apiServer) handleSync(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(io.LimitReader(request.Body, maxBodySize))
	if err != nil {
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	var day time.Time
	if len(strings.TrimSpace(string(body))) > 0 {
		var trigger struct {
			Date string `json:"date"`
		}
		if err := json.Unmarshal(body, &trigger); err != nil {
			http.Error(writer, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if trigger.Date != "" {
			parsed, err := time.ParseInLocation(dayFormat, trigger.Date, s.location)
			if err != nil {
				http.Error(writer, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			day = parsed
		}
	}

	runID, err := s.scheduler.TriggerNow(scopeFromRequest(request), day)
	if err != nil {
		if errors.Is(err, attendance.ErrSyncPending) {
			http.Error(writer, "a manual sync is already pending", http.StatusConflict)
			return
		}
		s.logger.Error("triggering sync", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	writeJSON(writer, s.logger, http.StatusAccepted, syncPayload{RunID: runID})
}

func (s *apiServer) handleRuns(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, s.logger, http.StatusOK, s.scheduler.Summaries())
}

func (s *apiServer) handleHealth(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), 5*time.Second)
	defer cancel()

	conn, err := s.pool.Take(ctx)
	if err == nil {
		err = sqlitex.Execute(conn, "SELECT 1", nil)
		s.pool.Put(conn)
	}
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		http.Error(writer, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(writer, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as the response body. Encoding failures after the
// header goes out can only be logged.
func writeJSON(writer http.ResponseWriter, logger *slog.Logger, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		logger.Error("encoding response", "error", err)
	}
}
