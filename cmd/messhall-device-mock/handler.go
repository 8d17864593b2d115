// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// maxRequestSize bounds request envelope reads. Real envelopes are a
// few hundred bytes.
const maxRequestSize = 1 << 20

// mockServer answers the device server dialect from a scenario.
type mockServer struct {
	scenario *scenario
	logger   *slog.Logger

	// mu protects enrolled, written by SetEmployeeInfo and read by
	// tests.
	mu       sync.Mutex
	enrolled map[string]string
}

func newMockServer(loaded *scenario, logger *slog.Logger) *mockServer {
	return &mockServer{
		scenario: loaded,
		logger:   logger,
		enrolled: make(map[string]string),
	}
}

// handler builds the route table. Every operation is a POST under
// /WebAPIService/, with the operation name as the final path segment.
func (m *mockServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /WebAPIService/{op}", m.handleOperation)
	return mux
}

// operationRequest is the union of request envelope fields across
// operations; each operation reads the ones it uses.
type operationRequest struct {
	UserName     string `xml:"UserName"`
	UserPassword string `xml:"UserPassword"`
	LocationName string `xml:"LocationName"`
	LogDate      string `xml:"LogDate"`
	EmployeeCode string `xml:"EmployeeCode"`
	EmployeeName string `xml:"EmployeeName"`
	CardNumber   string `xml:"CardNumber"`
}

// operationResponse is the response envelope. The root element name
// is the operation name with a Response suffix, set at write time.
type operationResponse struct {
	XMLName         xml.Name
	Status          string `xml:"Status"`
	ErrorMessage    string `xml:"ErrorMessage,omitempty"`
	TransactionsLog string `xml:"TransactionsLog,omitempty"`
	DeviceList      string `xml:"DeviceList,omitempty"`
}

func (m *mockServer) handleOperation(writer http.ResponseWriter, request *http.Request) {
	op := request.PathValue("op")

	body, err := io.ReadAll(io.LimitReader(request.Body, maxRequestSize))
	if err != nil {
		http.Error(writer, "", http.StatusBadRequest)
		return
	}
	var envelope operationRequest
	if err := xml.Unmarshal(body, &envelope); err != nil {
		m.logger.Warn("malformed request envelope", "operation", op, "error", err)
		m.writeResponse(writer, op, operationResponse{
			Status: "FAILED", ErrorMessage: "malformed request envelope",
		})
		return
	}

	if envelope.UserName != m.scenario.Username || envelope.UserPassword != m.scenario.Password {
		m.logger.Warn("rejected credentials", "operation", op, "username", envelope.UserName)
		m.writeResponse(writer, op, operationResponse{
			Status: "FAILED", ErrorMessage: "invalid credentials",
		})
		return
	}

	switch op {
	case "GetTransactionsLog":
		m.handleTransactions(writer, envelope)
	case "GetDeviceList":
		m.writeResponse(writer, op, operationResponse{
			Status: "SUCCESS", DeviceList: m.scenario.deviceList(),
		})
	case "SetEmployeeInfo":
		m.mu.Lock()
		m.enrolled[envelope.EmployeeCode] = envelope.EmployeeName
		m.mu.Unlock()
		m.logger.Info("employee enrolled",
			"code", envelope.EmployeeCode,
			"location", envelope.LocationName,
		)
		m.writeResponse(writer, op, operationResponse{Status: "SUCCESS"})
	case "ResetTransactionsCheckpoint":
		m.logger.Info("checkpoint reset", "location", envelope.LocationName)
		m.writeResponse(writer, op, operationResponse{Status: "SUCCESS"})
	default:
		m.writeResponse(writer, op, operationResponse{
			Status: "FAILED", ErrorMessage: fmt.Sprintf("unknown operation %q", op),
		})
	}
}

func (m *mockServer) handleTransactions(writer http.ResponseWriter, envelope operationRequest) {
	const op = "GetTransactionsLog"

	if fault, ok := m.scenario.fault(envelope.LocationName); ok {
		m.logger.Info("injecting fault", "location", envelope.LocationName, "mode", fault.FailWith)
		switch fault.FailWith {
		case faultHTTP500:
			http.Error(writer, "internal device error", http.StatusInternalServerError)
		case faultMalformed:
			writer.Header().Set("Content-Type", "text/xml")
			fmt.Fprint(writer, "<GetTransactionsLogResponse><Status>SUCC")
		default:
			message := fault.Message
			if message == "" {
				message = "device fault"
			}
			m.writeResponse(writer, op, operationResponse{Status: "FAILED", ErrorMessage: message})
		}
		return
	}

	payload := m.scenario.transactions(envelope.LocationName, envelope.LogDate)
	m.logger.Info("served transactions",
		"location", envelope.LocationName,
		"date", envelope.LogDate,
		"bytes", len(payload),
	)
	m.writeResponse(writer, op, operationResponse{Status: "SUCCESS", TransactionsLog: payload})
}

func (m *mockServer) writeResponse(writer http.ResponseWriter, op string, response operationResponse) {
	response.XMLName.Local = op + "Response"
	encoded, err := xml.Marshal(&response)
	if err != nil {
		m.logger.Error("encoding response", "operation", op, "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "text/xml")
	if _, err := writer.Write(append([]byte(xml.Header), encoded...)); err != nil {
		m.logger.Debug("writing response", "operation", op, "error", err)
	}
}
