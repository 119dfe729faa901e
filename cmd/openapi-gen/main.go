// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/server"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec registers every route on a server backed by a no-op memory
// service and returns the OpenAPI document huma derives from the handler
// types.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	svc, err := server.NewServices(stubMemory{})
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating services: %w", err)
	}
	srv.RegisterServices(svc)

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// stubMemory satisfies server.MemoryService. Handlers are never invoked
// during spec generation.
type stubMemory struct{}

func (stubMemory) Migrate(context.Context, string, store.Tier, time.Duration) (*memory.MigrationResult, error) {
	return nil, nil
}

func (stubMemory) Consolidate(context.Context, string) ([]*memory.MigrationResult, error) {
	return nil, nil
}

func (stubMemory) Retrieve(context.Context, memory.RetrieveRequest) ([]memory.RetrievedRecord, error) {
	return nil, nil
}

func (stubMemory) Refresh(context.Context, string, memory.RefreshTrigger, string) (*memory.RefreshResult, error) {
	return nil, nil
}

func (stubMemory) CheckCoherence(context.Context, string, memory.Depth) (*memory.CoherenceReport, error) {
	return nil, nil
}

func (stubMemory) GetStats(context.Context, string) (*store.Stats, error) { return nil, nil }

func (stubMemory) ListArchives(context.Context, string) ([]*store.ArchiveBatch, error) {
	return nil, nil
}
