// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testEntity = "0b8e6f3a-5c2d-4e7f-9a1b-3c4d5e6f7a8b"

// writeTestConfig writes a config whose database and archive live in a
// temp dir, and points HOME there so nothing is bootstrapped into the real
// home directory.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	path := filepath.Join(dir, "strata.yaml")
	body := fmt.Sprintf(`storage:
  path: %s
archive:
  path: %s
%s`, filepath.Join(dir, "strata.db"), filepath.Join(dir, "archive"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}
