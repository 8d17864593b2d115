// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// Package device speaks the access-control server's XML-over-HTTP
// dialect.
//
// Every operation is an HTTP POST of a small XML envelope to a fixed
// path under /WebAPIService/, with the service credentials repeated as
// two plaintext elements in every request:
//
//	POST /WebAPIService/GetTransactionsLog
//	Content-Type: text/xml
//
//	<GetTransactionsLog>
//	  <UserName>operator</UserName>
//	  <UserPassword>...</UserPassword>
//	  <LocationName>Chennai Plant</LocationName>
//	  <LogDate>2025-03-23</LogDate>
//	</GetTransactionsLog>
//
// Responses are XML envelopes whose interesting content is a single
// delimited string rather than structured XML: records separated by
// ";", fields separated by ",". This double encoding is the device
// vendor's protocol, not a choice; this package confines it so that
// callers only ever see structured RawRecord and DeviceInfo values.
//
// Failures split into two kinds. Transport problems (unreachable
// host, timeout, non-2xx status) are *IOError: the device may well
// answer on the next scheduled poll, so callers treat these as
// retriable. Envelope problems (unparseable XML, missing or unknown
// Status, an explicit FAILED status) are *ProtocolError: retrying
// the same exchange would fail the same way. IsIOFailure and
// IsProtocolFailure classify an error chain. The client itself never
// retries; scheduling policy lives with the caller.
package device
