// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "record", "migrate", "consolidate", "retrieve", "refresh", "check", "stats", "archives", "status", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	out, err := execute(t, "--verbose", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--output")
	assert.Contains(t, out, "--verbose")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "strata dev")
}

func TestMemoryCommands_RequireEntity(t *testing.T) {
	for _, sub := range []string{"migrate", "consolidate", "stats", "archives", "check", "refresh"} {
		t.Run(sub, func(t *testing.T) {
			_, err := execute(t, sub)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "entity")
		})
	}
}

func TestServeCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "serve", "--config", "/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestStatusCommand_HealthyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"degraded","judgment":{"failure_count":3,"available":false}}`))
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--address", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "judgment:  cooling down")
	assert.NotContains(t, out, "embedding")
}

func TestStatusCommand_ServerNotRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	out, err := execute(t, "status", "--address", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestAPIClient_ErrorCodes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var body map[string]any
	err = newAPIClient(addr).getJSON("/health", &body)
	assert.True(t, strataerr.HasCode(err, strataerr.CodeCLIServerNotRunning), "got %s", strataerr.CodeOf(err))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err = newAPIClient(strings.TrimPrefix(srv.URL, "http://")).getJSON("/health", &body)
	assert.True(t, strataerr.HasCode(err, strataerr.CodeCLIRequestFailure))
}
