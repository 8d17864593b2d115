// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/messhall-labs/messhall/lib/secret"
)

// maxResponseSize is the bound on response body reads: 8 MB. A full
// day of punches for a large plant is a few hundred KB of delimited
// text; the bound only exists so a misbehaving device server cannot
// exhaust memory.
const maxResponseSize = 8 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the device server's base URL (e.g.
	// "http://10.20.0.5:8080"). Operation paths are appended to it.
	BaseURL string
	// Username and Password are the service credentials the device
	// server expects in every envelope. Both required; the client
	// reads them at request-build time so they stay in locked
	// memory between exchanges.
	Username *secret.Buffer
	Password *secret.Buffer
	// HTTPClient is used for all requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client
	// Timeout bounds each exchange end to end. Defaults to 30
	// seconds if zero.
	Timeout time.Duration
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client issues request/response exchanges against the access-control
// device server. It is a pure query layer: no retries, no state
// between calls. Safe for concurrent use, though the reconciliation
// engine deliberately never overlaps calls to the same device server.
type Client struct {
	baseURL    string
	username   *secret.Buffer
	password   *secret.Buffer
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates a device client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("device: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("device: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("device: BaseURL %q must be an absolute URL", config.BaseURL)
	}
	if config.Username == nil || config.Password == nil {
		return nil, fmt.Errorf("device: credentials are required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		username:   config.Username,
		password:   config.Password,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// FetchLogs retrieves the punch records for one location on one
// calendar day. The day's time-of-day and zone are ignored; only the
// date part travels in the envelope.
//
// An empty or absent transaction payload is a valid "no activity"
// answer: empty slice, nil error. The raw response body is returned
// alongside the decoded records so callers can archive the exchange
// verbatim.
func (c *Client) FetchLogs(ctx context.Context, day time.Time, locationLabel string) ([]RawRecord, []byte, error) {
	envelope, body, err := c.exchange(ctx, opGetTransactionsLog, requestEnvelope{
		LocationName: locationLabel,
		LogDate:      day.Format("2006-01-02"),
	})
	if err != nil {
		return nil, nil, err
	}
	return parseTransactionPayload(envelope.TransactionsLog, c.logger), body, nil
}

// ListDevices retrieves the device server's hardware listing.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	envelope, _, err := c.exchange(ctx, opGetDeviceList, requestEnvelope{})
	if err != nil {
		return nil, err
	}
	return parseDevicePayload(envelope.DeviceList, c.logger), nil
}

// SetEmployee pushes an employee's enrollment to the device server so
// its hardware recognizes the credential.
func (c *Client) SetEmployee(ctx context.Context, employee EmployeeInfo) error {
	if employee.Code == "" {
		return fmt.Errorf("device: employee code is required")
	}
	_, _, err := c.exchange(ctx, opSetEmployeeInfo, requestEnvelope{
		EmployeeCode: employee.Code,
		EmployeeName: employee.Name,
		LocationName: employee.LocationLabel,
		CardNumber:   employee.CardNumber,
	})
	return err
}

// ResetCheckpoint clears the device server's incremental read marker
// for a location, so the next FetchLogs returns the full day again
// instead of only records since the last read.
func (c *Client) ResetCheckpoint(ctx context.Context, locationLabel string) error {
	if locationLabel == "" {
		return fmt.Errorf("device: location label is required")
	}
	_, _, err := c.exchange(ctx, opResetTransactionsCheckpoint, requestEnvelope{
		LocationName: locationLabel,
	})
	return err
}

// exchange performs one operation: marshal the envelope, POST it,
// read the bounded response, and validate the response envelope down
// to a SUCCESS status. Returns the decoded envelope and the raw
// response bytes.
func (c *Client) exchange(ctx context.Context, op string, request requestEnvelope) (*responseEnvelope, []byte, error) {
	request.XMLName.Local = op

	// Credentials are converted to string at the XML serialization
	// boundary. The heap copy is short-lived, existing only for the
	// duration of the HTTP call.
	request.UserName = c.username.String()
	request.UserPassword = c.password.String()

	encoded, err := xml.Marshal(&request)
	if err != nil {
		return nil, nil, &ProtocolError{Op: op, Message: fmt.Sprintf("encoding request envelope: %v", err)}
	}

	requestURL := c.baseURL + "/WebAPIService/" + op

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, strings.NewReader(xml.Header+string(encoded)))
	if err != nil {
		return nil, nil, &IOError{Op: op, Err: err}
	}
	httpRequest.Header.Set("Content-Type", "text/xml")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, nil, &IOError{Op: op, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, nil, &IOError{Op: op, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, nil, &IOError{
			Op:  op,
			Err: fmt.Errorf("unexpected HTTP %d: %s", response.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var envelope responseEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, nil, &ProtocolError{Op: op, Message: fmt.Sprintf("malformed response envelope: %v", err)}
	}

	wantRoot := op + "Response"
	if envelope.XMLName.Local != wantRoot {
		return nil, nil, &ProtocolError{
			Op:      op,
			Message: fmt.Sprintf("unexpected response element <%s>, want <%s>", envelope.XMLName.Local, wantRoot),
		}
	}

	switch envelope.Status {
	case statusSuccess:
	case statusFailed:
		return nil, nil, &ProtocolError{Op: op, Status: envelope.Status, Message: envelope.ErrorMessage}
	case "":
		return nil, nil, &ProtocolError{Op: op, Message: "response envelope has no Status"}
	default:
		return nil, nil, &ProtocolError{
			Op:      op,
			Status:  envelope.Status,
			Message: fmt.Sprintf("unknown status %q", envelope.Status),
		}
	}

	return &envelope, body, nil
}
