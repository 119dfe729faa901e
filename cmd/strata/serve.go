// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/strata/internal/server"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the strata HTTP API",
		Long:  "Load configuration, wire the memory engine and serve the REST API. When consolidation.schedule is set, consolidation runs on that schedule for each configured entity.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Networking.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	srv, err := newServer(app)
	if err != nil {
		return err
	}

	if cfg.Consolidation.Schedule != "" {
		sched, err := newScheduler(cfg.Consolidation.Schedule, cfg.Consolidation.Entities, app.Memory)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "strata listening on %s\n", cfg.Networking.Listen)
	return srv.Start(ctx)
}

// newServer builds the HTTP server over the wired app.
func newServer(app *App) (*server.Server, error) {
	cfg := app.Config
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Networking.RateLimitRPS,
			Burst:             cfg.Networking.RateLimitBurst,
		},
	})
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating server: %w", err)
	}

	var opts []server.ServicesOption
	if app.Judgment != nil {
		opts = append(opts, server.WithJudgmentHealth(app.Judgment))
	}
	if app.Embedding != nil {
		opts = append(opts, server.WithEmbeddingHealth(app.Embedding))
	}
	services, err := server.NewServices(app.Memory, opts...)
	if err != nil {
		return nil, err
	}
	srv.RegisterServices(services)
	return srv, nil
}
