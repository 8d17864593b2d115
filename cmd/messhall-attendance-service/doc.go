// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// messhall-attendance-service is the canteen attendance daemon. It
// polls the plant access-control server for punch records on a cron
// schedule, reconciles them into attendance entries, and serves the
// query, approval, and reporting API over HTTP. An operator socket
// provides status inspection, manual syncs, and device listings even
// when the HTTP surface is firewalled.
//
// Configuration comes from the YAML file named by --config or the
// MESSHALL_CONFIG environment variable; see lib/config for the
// schema and defaults.
package main
