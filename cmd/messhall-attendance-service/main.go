// Copyright 2026 The MessHall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/messhall-labs/messhall/archive"
	"github.com/messhall-labs/messhall/attendance"
	"github.com/messhall-labs/messhall/device"
	"github.com/messhall-labs/messhall/directory"
	"github.com/messhall-labs/messhall/lib/clock"
	"github.com/messhall-labs/messhall/lib/config"
	"github.com/messhall-labs/messhall/lib/process"
	"github.com/messhall-labs/messhall/lib/schedule"
	"github.com/messhall-labs/messhall/lib/sealed"
	"github.com/messhall-labs/messhall/lib/service"
	"github.com/messhall-labs/messhall/lib/sqlitepool"
	"github.com/messhall-labs/messhall/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&configPath, "config", "", "path to the service config YAML (default: $MESSHALL_CONFIG)")
	flag.Parse()

	if showVersion {
		fmt.Printf("messhall-attendance-service %s\n", version.Info())
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("config: timezone %q: %w", cfg.Timezone, err)
	}
	cronSchedule, err := schedule.Parse(cfg.Sync.Expression)
	if err != nil {
		return fmt.Errorf("config: sync.expression: %w", err)
	}
	requestTimeout, err := time.ParseDuration(cfg.Device.RequestTimeout)
	if err != nil {
		return fmt.Errorf("config: device.request_timeout: %w", err)
	}
	siteTimeout, err := time.ParseDuration(cfg.Sync.SiteTimeout)
	if err != nil {
		return fmt.Errorf("config: sync.site_timeout: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Storage.DatabasePath,
		PoolSize: cfg.Storage.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	systemClock := clock.Real()

	dir, err := directory.Open(directory.Config{Pool: pool, Logger: logger})
	if err != nil {
		return err
	}
	store, err := attendance.NewEntryStore(attendance.EntryStoreConfig{
		Pool:   pool,
		Clock:  systemClock,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	archiveStore, err := archive.Open(archive.Config{
		Dir:    cfg.Storage.ArchiveDir,
		Pool:   pool,
		Clock:  systemClock,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// The device password only exists in plaintext inside locked
	// memory: unsealed here, released when the process exits.
	identity, err := sealed.LoadIdentity(cfg.Device.IdentityFile)
	if err != nil {
		return err
	}
	defer identity.Close()
	credentials, err := sealed.UnsealCredentials(cfg.Device.CredentialFile, identity)
	if err != nil {
		return err
	}
	defer credentials.Close()

	deviceClient, err := device.NewClient(device.Config{
		BaseURL:  cfg.Device.BaseURL,
		Username: credentials.Username,
		Password: credentials.Password,
		Timeout:  requestTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	resolver := attendance.NewResolver(dir, dir, logger)
	engine, err := attendance.NewEngine(attendance.EngineConfig{
		Device:      deviceClient,
		Archive:     archiveStore,
		Store:       store,
		Resolver:    resolver,
		Clock:       systemClock,
		Location:    location,
		SiteTimeout: siteTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	scheduler, err := attendance.NewScheduler(attendance.SchedulerConfig{
		Engine:   engine,
		Schedule: cronSchedule,
		Clock:    systemClock,
		History:  cfg.Sync.RunHistory,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	api := &apiServer{
		store:     store,
		scheduler: scheduler,
		resolver:  resolver,
		pool:      pool,
		clock:     systemClock,
		location:  location,
		logger:    logger,
	}
	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddr,
		Handler: api.handler(),
		Logger:  logger,
	})

	socketServer := service.NewSocketServer(cfg.SocketPath, logger)
	actions := &socketActions{
		scheduler: scheduler,
		schedule:  cronSchedule,
		device:    deviceClient,
		clock:     systemClock,
		location:  location,
	}
	actions.register(socketServer)

	// Run the scheduler and both listeners. The first component to
	// fail tears the rest down; a clean signal shutdown drains all
	// three before the pool closes.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := make(chan error, 1)
	go func() { schedulerDone <- scheduler.Run(runCtx) }()
	httpDone := make(chan error, 1)
	go func() { httpDone <- httpServer.Serve(runCtx) }()
	socketDone := make(chan error, 1)
	go func() { socketDone <- socketServer.Serve(runCtx) }()

	logger.Info("attendance service running",
		"listen_addr", cfg.ListenAddr,
		"socket", cfg.SocketPath,
		"timezone", cfg.Timezone,
		"schedule", cfg.Sync.Expression,
	)

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-schedulerDone:
		schedulerDone = nil
	case firstErr = <-httpDone:
		httpDone = nil
	case firstErr = <-socketDone:
		socketDone = nil
	}
	if firstErr != nil {
		logger.Error("component failed, shutting down", "error", firstErr)
	} else {
		logger.Info("shutting down")
	}
	cancel()

	for _, done := range []chan error{schedulerDone, httpDone, socketDone} {
		if done == nil {
			continue
		}
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
