// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

// messhall-device-mock is a stand-in access-control device server for
// development and integration testing. It speaks the XML-over-HTTP
// dialect the attendance service polls, serving punch records and
// device listings from a JSONC scenario file.
//
// Scenarios can inject faults per location (failure envelopes,
// truncated XML, HTTP 500s) to exercise the reconciler's error
// handling without real hardware.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/messhall-labs/messhall/lib/process"
	"github.com/messhall-labs/messhall/lib/service"
	"github.com/messhall-labs/messhall/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		scenarioPath string
		listenAddr   string
		showVersion  bool
	)
	flagSet := pflag.NewFlagSet("messhall-device-mock", pflag.ContinueOnError)
	flagSet.StringVar(&scenarioPath, "scenario", "", "path to the JSONC scenario file (required)")
	flagSet.StringVar(&listenAddr, "listen", ":8998", "HTTP listen address")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("messhall-device-mock")
		return nil
	}
	if scenarioPath == "" {
		return fmt.Errorf("--scenario is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	loaded, err := loadScenario(scenarioPath)
	if err != nil {
		return err
	}
	logger.Info("scenario loaded",
		"path", scenarioPath,
		"devices", len(loaded.Devices),
		"logs", len(loaded.Logs),
		"faults", len(loaded.Faults),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mock := newMockServer(loaded, logger)
	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: listenAddr,
		Handler: mock.handler(),
		Logger:  logger,
	})
	return server.Serve(ctx)
}
