/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// yatagarasu is a read-only HTTP reverse proxy fronting S3-compatible
// object stores behind a cache-aware request pipeline. This binary loads
// configuration, wires the pipeline, admin surface, and listeners
// together, and runs until signalled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/yatagarasu/yatagarasu/internal/admin"
	"github.com/yatagarasu/yatagarasu/internal/audit"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/log"
	"github.com/yatagarasu/yatagarasu/internal/pipeline"
	"github.com/yatagarasu/yatagarasu/internal/server"
	"github.com/yatagarasu/yatagarasu/internal/tracing"
)

func main() {
	configPath := flag.String("config", "/etc/yatagarasu/config.yaml", "path to the gateway YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.Store(cfg)

	logOut := os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := log.New(cfg.Logging.Level, logOut)
	log.SetDefault(logger)

	flush, err := tracing.SetTracer(tracing.Implementations[cfg.Tracing.Implementation], cfg.Tracing.CollectorURL, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("setting up tracer: %w", err)
	}
	defer flush()

	auditQueue, err := audit.NewQueueFromConfig(cfg.AuditLog)
	if err != nil {
		return fmt.Errorf("building audit sinks: %w", err)
	}

	pipe, err := pipeline.New(cfg, auditQueue)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	var ready atomic.Bool
	ready.Store(true)
	adminSrv, err := admin.New(pipe, cfg.AdminAuth, configPath, ready.Load)
	if err != nil {
		return fmt.Errorf("building admin server: %w", err)
	}

	srv := server.New(cfg.Server, pipe, adminSrv, auditQueue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Flip /ready to false before Run starts shutting the listeners down.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		<-ctx.Done()
		ready.Store(false)
		cancelRun()
	}()

	log.Info("yatagarasu starting", log.Pairs{
		"listen_address":       cfg.Server.ListenAddress,
		"admin_listen_address": cfg.Server.AdminListenAddress,
		"buckets":              len(cfg.Buckets),
	})

	err = srv.Run(runCtx)
	ready.Store(false)
	return err
}
