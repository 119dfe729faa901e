// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/strata/internal/config"
	"github.com/sigil-dev/strata/internal/secrets"
)

// secretStore backs keyring:// references and the secret command.
// Tests substitute an in-memory store.
var secretStore secrets.Store = secrets.KeyringStore{}

// NewRootCmd creates the root strata command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Strata: tiered memory consolidation and retrieval",
		Long:          "Strata ages entity memories through summarized, embedded and archived tiers and retrieves the ones relevant to a context.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringP("output", "o", "json", "output format (json or yaml)")

	root.AddCommand(
		newServeCmd(),
		newRecordCmd(),
		newMigrateCmd(),
		newConsolidateCmd(),
		newRetrieveCmd(),
		newRefreshCmd(),
		newCheckCmd(),
		newStatsCmd(),
		newArchivesCmd(),
		newSecretCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves the config file (--config, then the search paths,
// then a freshly bootstrapped default), loads it and resolves keyring
// references.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path := config.ResolvePath(explicit)
	if path == "" {
		path = config.BootstrapConfig()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		config.WarnInsecurePermissions(path)
	}
	if err := cfg.ResolveSecrets(secretStore); err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "path", path)
	return cfg, nil
}
