// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/strata/internal/secrets"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials stored in the OS keyring",
		Long:  "Store provider, MinIO and Redis credentials in the OS keyring and reference them from strata.yaml as keyring://strata/<name>.",
	}

	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret; the value is read from stdin unless --value is given",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	set.Flags().String("value", "", "secret value")

	cmd.AddCommand(
		set,
		&cobra.Command{
			Use:   "list",
			Short: "List stored secret names",
			Args:  cobra.NoArgs,
			RunE:  runSecretList,
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a stored secret",
			Args:  cobra.ExactArgs(1),
			RunE:  runSecretDelete,
		},
	)
	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value, _ := cmd.Flags().GetString("value")
	if value == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return strataerr.Errorf(strataerr.CodeCLIInputInvalid, "reading secret from stdin: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return strataerr.New(strataerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secretStore.Set(secrets.Service, args[0], value); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored; reference it as %s\n", secrets.Ref(secrets.Service, args[0]))
	return err
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStore.List(secrets.Service)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, err := fmt.Fprintln(out, "no secrets stored")
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(out, secrets.Ref(secrets.Service, k)); err != nil {
			return err
		}
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	if err := secretStore.Delete(secrets.Service, args[0]); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return err
}
