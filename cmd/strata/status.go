// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/strata/internal/server"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  "Query a running server's health endpoint and display judgment and embedding availability.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18790", "server address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	var body server.HealthBody
	if err := newAPIClient(addr).getJSON("/health", &body); err != nil {
		if strataerr.HasCode(err, strataerr.CodeCLIServerNotRunning) {
			_, _ = fmt.Fprintf(out, "Server at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Server at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Server at %s: %s\n", addr, body.Status)
	if body.Judgment != nil {
		_, _ = fmt.Fprintf(out, "  judgment:  %s\n", availability(body.Judgment.Available))
	}
	if body.Embedding != nil {
		_, _ = fmt.Fprintf(out, "  embedding: %s\n", availability(body.Embedding.Available))
	}
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "cooling down"
}
