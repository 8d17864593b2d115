// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "encoding/xml"

// Device operation names. Each is both the final path segment of the
// endpoint and the root element of the request envelope.
const (
	opGetTransactionsLog          = "GetTransactionsLog"
	opGetDeviceList               = "GetDeviceList"
	opSetEmployeeInfo             = "SetEmployeeInfo"
	opResetTransactionsCheckpoint = "ResetTransactionsCheckpoint"
)

// Envelope status values. The device reports exactly these two;
// anything else is a protocol failure.
const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"
)

// requestEnvelope is the request body for every operation. The root
// element name is the operation name (set via XMLName before
// marshaling); unused fields are omitted. The credential fields are
// filled in by the client on every exchange.
type requestEnvelope struct {
	XMLName      xml.Name
	UserName     string `xml:"UserName"`
	UserPassword string `xml:"UserPassword"`
	LocationName string `xml:"LocationName,omitempty"`
	LogDate      string `xml:"LogDate,omitempty"`
	EmployeeCode string `xml:"EmployeeCode,omitempty"`
	EmployeeName string `xml:"EmployeeName,omitempty"`
	CardNumber   string `xml:"CardNumber,omitempty"`
}

// responseEnvelope is the response body for every operation. The root
// element is the operation name with a "Response" suffix. Only the
// payload field matching the operation is populated; the rest decode
// to empty strings.
type responseEnvelope struct {
	XMLName         xml.Name
	Status          string `xml:"Status"`
	ErrorMessage    string `xml:"ErrorMessage"`
	TransactionsLog string `xml:"TransactionsLog"`
	DeviceList      string `xml:"DeviceList"`
}
