// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sigil-dev/strata/internal/archive"
	"github.com/sigil-dev/strata/internal/config"
	"github.com/sigil-dev/strata/internal/events"
	"github.com/sigil-dev/strata/internal/judgment"
	anthropicjudge "github.com/sigil-dev/strata/internal/judgment/anthropic"
	googlejudge "github.com/sigil-dev/strata/internal/judgment/google"
	openaijudge "github.com/sigil-dev/strata/internal/judgment/openai"
	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	_ "github.com/sigil-dev/strata/internal/store/sqlite" // register sqlite backend
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config *config.Config
	Store  store.RecordStore
	Memory *memory.Orchestrator

	// Judgment is nil when judgment.provider is "none".
	Judgment *judgment.HealthTracker
	// Embedding is nil for the offline hash embedder.
	Embedding *judgment.HealthTracker
}

// WireApp creates the store, judgment adapters, archive writer and event
// publisher, then assembles the memory orchestrator on top of them.
func WireApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	judge, err := wireJudgment(ctx, cfg, app)
	if err != nil {
		return nil, err
	}
	embedder, err := wireEmbedder(ctx, cfg, app)
	if err != nil {
		return nil, err
	}
	writer, err := wireArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rs, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "opening record store: %w", err)
	}
	app.Store = rs

	pub, err := wirePublisher(cfg)
	if err != nil {
		_ = rs.Close()
		return nil, err
	}

	orch, err := wireMemory(cfg, rs, judge, embedder, writer, pub)
	if err != nil {
		_ = pub.Close()
		_ = rs.Close()
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "wiring memory engine: %w", err)
	}
	app.Memory = orch

	slog.Debug("app wired",
		"storage", cfg.Storage.Path,
		"judgment", cfg.Judgment.Provider,
		"embedding", cfg.Embedding.Provider,
		"archive", cfg.Archive.Backend,
		"events", cfg.Events.Backend)
	return app, nil
}

func wireMemory(cfg *config.Config, rs store.RecordStore, judge judgment.Client, embedder judgment.Embedder, w archive.Writer, pub events.Publisher) (*memory.Orchestrator, error) {
	evaluator := memory.NewEvaluator(judge, cfg.EvaluatorOptions())
	archiver, err := memory.NewArchiver(rs, w)
	if err != nil {
		return nil, err
	}
	migrator, err := memory.NewMigrator(rs, judge, embedder, evaluator, archiver, cfg.MigratorOptions())
	if err != nil {
		return nil, err
	}
	retriever, err := memory.NewRetriever(rs, judge, embedder, cfg.RetrieverOptions())
	if err != nil {
		return nil, err
	}
	checker, err := memory.NewChecker(rs, judge, cfg.CoherenceOptions())
	if err != nil {
		retriever.Close()
		return nil, err
	}
	orch, err := memory.NewOrchestrator(memory.OrchestratorConfig{
		Store:     rs,
		Migrator:  migrator,
		Retriever: retriever,
		Checker:   checker,
		Publisher:      pub,
		Retention:      cfg.Retention(),
		PublishTimeout: cfg.Events.PublishTimeout,
	})
	if err != nil {
		retriever.Close()
		return nil, err
	}
	return orch, nil
}

// wireJudgment returns a nil Client when judgment is disabled so every
// memory operation takes its deterministic path.
func wireJudgment(ctx context.Context, cfg *config.Config, app *App) (judgment.Client, error) {
	if cfg.Judgment.Provider == "none" {
		return nil, nil
	}
	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating %s judgment client: %w", cfg.Judgment.Provider, err)
	}
	tracker, err := judgment.NewHealthTracker(cfg.Judgment.HealthCooldown)
	if err != nil {
		return nil, err
	}
	client, err := judgment.NewLLMClient(completer, tracker, cfg.Judgment.Timeout)
	if err != nil {
		return nil, err
	}
	app.Judgment = client.Health()
	return client, nil
}

func newCompleter(ctx context.Context, cfg *config.Config) (judgment.Completer, error) {
	name := cfg.Judgment.Provider
	p := cfg.Providers[name]
	switch name {
	case "anthropic":
		return anthropicjudge.New(anthropicjudge.Config{APIKey: p.APIKey, BaseURL: p.Endpoint, Model: cfg.Judgment.Model})
	case "openai", "openrouter":
		return openaijudge.New(openAIConfig(name, p, cfg.Judgment.Model, "", 0))
	case "google":
		return googlejudge.New(ctx, googlejudge.Config{APIKey: p.APIKey, Model: cfg.Judgment.Model})
	default:
		return nil, strataerr.Errorf(strataerr.CodeJudgmentNotConfigured, "unknown judgment provider %q", name)
	}
}

func wireEmbedder(ctx context.Context, cfg *config.Config, app *App) (judgment.Embedder, error) {
	name := cfg.Embedding.Provider
	if name == "hash" {
		return judgment.NewHashEmbedder(cfg.Embedding.Dimensions)
	}

	p := cfg.Providers[name]
	var (
		inner judgment.Embedder
		err   error
	)
	switch name {
	case "openai", "openrouter":
		inner, err = openaijudge.New(openAIConfig(name, p, "", cfg.Embedding.Model, cfg.Embedding.Dimensions))
	case "google":
		inner, err = googlejudge.New(ctx, googlejudge.Config{
			APIKey:         p.APIKey,
			EmbeddingModel: cfg.Embedding.Model,
			Dimensions:     cfg.Embedding.Dimensions,
		})
	default:
		err = strataerr.Errorf(strataerr.CodeJudgmentNotConfigured, "unknown embedding provider %q", name)
	}
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating %s embedder: %w", name, err)
	}

	tracker, err := judgment.NewHealthTracker(cfg.Judgment.HealthCooldown)
	if err != nil {
		return nil, err
	}
	guarded, err := judgment.NewGuardedEmbedder(inner, tracker, cfg.Judgment.Timeout)
	if err != nil {
		return nil, err
	}
	app.Embedding = tracker
	return guarded, nil
}

func openAIConfig(name string, p config.ProviderConfig, model, embeddingModel string, dims int) openaijudge.Config {
	base := p.Endpoint
	if name == "openrouter" && base == "" {
		base = openaijudge.OpenRouterBaseURL
	}
	return openaijudge.Config{
		APIKey:         p.APIKey,
		BaseURL:        base,
		Name:           name,
		Model:          model,
		EmbeddingModel: embeddingModel,
		Dimensions:     dims,
	}
}

func wireArchive(ctx context.Context, cfg *config.Config) (archive.Writer, error) {
	switch cfg.Archive.Backend {
	case "minio":
		m := cfg.Archive.Minio
		w, err := archive.NewMinioWriter(archive.MinioConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			UseSSL:    m.UseSSL,
			Region:    m.Region,
		})
		if err != nil {
			return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating minio archive writer: %w", err)
		}
		if err := w.EnsureBucket(ctx); err != nil {
			return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "preparing archive bucket: %w", err)
		}
		return w, nil
	default:
		w, err := archive.NewFileWriter(cfg.Archive.Path)
		if err != nil {
			return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating archive directory: %w", err)
		}
		return w, nil
	}
}

func wirePublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.Events.Backend != "redis" {
		return events.NewLogPublisher(nil), nil
	}
	r := cfg.Events.Redis
	pub, err := events.NewRedisPublisher(events.RedisConfig{
		Addr:          r.Addr,
		Password:      r.Password,
		DB:            r.DB,
		ChannelPrefix: r.ChannelPrefix,
	})
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLISetupFailure, "creating redis publisher: %w", err)
	}
	return pub, nil
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	var errs []error
	if a.Memory != nil {
		if err := a.Memory.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
