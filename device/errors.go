// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
)

// IOError is a transport-level failure: the exchange never completed,
// or completed with a non-2xx HTTP status. The device may answer
// normally on the next poll, so callers should treat the operation as
// retriable on their own schedule. Callers can use errors.As to
// extract the structured information:
//
//	var ioErr *device.IOError
//	if errors.As(err, &ioErr) { ... }
type IOError struct {
	// Op is the device operation that failed (e.g.
	// "GetTransactionsLog").
	Op string
	// Err is the underlying transport error.
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ProtocolError is an envelope-level failure: the device answered,
// but with something this package cannot or should not act on.
// Unparseable XML, a missing or unknown Status, and an explicit
// FAILED status all land here. Retrying the identical exchange would
// fail identically, so callers log and move on.
type ProtocolError struct {
	// Op is the device operation that failed.
	Op string
	// Status is the envelope's Status value, if one was present.
	Status string
	// Message describes the failure. For FAILED envelopes this is
	// the device's own ErrorMessage text.
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("device: %s: %s: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("device: %s: %s", e.Op, e.Message)
}

// IsIOFailure reports whether err's chain contains an *IOError.
func IsIOFailure(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// IsProtocolFailure reports whether err's chain contains a
// *ProtocolError.
func IsProtocolFailure(err error) bool {
	var protocolErr *ProtocolError
	return errors.As(err, &protocolErr)
}
