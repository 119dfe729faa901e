// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

var (
	judgmentProviders  = []string{"none", "anthropic", "openai", "openrouter", "google"}
	embeddingProviders = []string{"hash", "openai", "openrouter", "google"}
	archiveBackends    = []string{"filesystem", "minio"}
	eventBackends      = []string{"log", "redis"}
)

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateJudgment()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateConsolidation()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateCoherence()...)
	errs = append(errs, c.validateArchive()...)
	errs = append(errs, c.validateEvents()...)

	return errs
}

func invalid(format string, args ...any) error {
	return strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func oneOf(field, got string, valid []string) error {
	if slices.Contains(valid, got) {
		return nil
	}
	return invalid("%s must be one of [%s], got %q", field, strings.Join(valid, ", "), got)
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.RateLimitRPS < 0 {
		errs = append(errs, invalid("networking.rate_limit_rps must not be negative, got %g", c.Networking.RateLimitRPS))
	} else if c.Networking.RateLimitRPS > 0 && c.Networking.RateLimitBurst <= 0 {
		errs = append(errs, invalid("networking.rate_limit_burst must be positive when a rate is set, got %d", c.Networking.RateLimitBurst))
	}

	if c.Networking.Listen == "" {
		return append(errs, invalid("networking.listen must not be empty"))
	}
	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		return append(errs, invalid("networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return append(errs, invalid("networking.listen port must be a number, got %q", portStr))
	}
	if port < 1 || port > 65535 {
		errs = append(errs, invalid("networking.listen port must be between 1 and 65535, got %d", port))
	}
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if err := oneOf("storage.backend", c.Storage.Backend, []string{"sqlite"}); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.Path == "" {
		errs = append(errs, invalid("storage.path must not be empty"))
	}
	if c.Storage.VectorDimensions < 0 {
		errs = append(errs, invalid("storage.vector_dimensions must not be negative, got %d", c.Storage.VectorDimensions))
	}

	return errs
}

// requireAPIKey reports a missing providers.<name>.api_key.
func (c *Config) requireAPIKey(section, provider string) error {
	if c.Providers[provider].APIKey == "" {
		return invalid("%s.provider %q requires providers.%s.api_key", section, provider, provider)
	}
	return nil
}

func (c *Config) validateJudgment() []error {
	var errs []error

	if err := oneOf("judgment.provider", c.Judgment.Provider, judgmentProviders); err != nil {
		errs = append(errs, err)
	} else if c.Judgment.Provider != "none" {
		if err := c.requireAPIKey("judgment", c.Judgment.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Judgment.Timeout <= 0 {
		errs = append(errs, invalid("judgment.timeout must be positive, got %s", c.Judgment.Timeout))
	}
	if c.Judgment.HealthCooldown <= 0 {
		errs = append(errs, invalid("judgment.health_cooldown must be positive, got %s", c.Judgment.HealthCooldown))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	if err := oneOf("embedding.provider", c.Embedding.Provider, embeddingProviders); err != nil {
		errs = append(errs, err)
	} else if c.Embedding.Provider != "hash" {
		if err := c.requireAPIKey("embedding", c.Embedding.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, invalid("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions))
	} else if c.Storage.VectorDimensions > 0 && c.Storage.VectorDimensions != c.Embedding.Dimensions {
		errs = append(errs, invalid("embedding.dimensions (%d) must match storage.vector_dimensions (%d)",
			c.Embedding.Dimensions, c.Storage.VectorDimensions))
	}

	return errs
}

func unitInterval(field string, v float64) error {
	if v < 0 || v > 1 {
		return invalid("%s must be between 0 and 1, got %g", field, v)
	}
	return nil
}

func positive(field string, v int) error {
	if v <= 0 {
		return invalid("%s must be greater than 0, got %d", field, v)
	}
	return nil
}

func collect(errs ...error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func (c *Config) validateConsolidation() []error {
	cc := c.Consolidation
	errs := collect(
		unitInterval("consolidation.high_threshold", cc.HighThreshold),
		unitInterval("consolidation.low_threshold", cc.LowThreshold),
		unitInterval("consolidation.unknown_type_weight", cc.UnknownTypeWeight),
		unitInterval("consolidation.keyword_boost", cc.KeywordBoost),
		unitInterval("consolidation.judgment_boost", cc.JudgmentBoost),
		unitInterval("consolidation.default_importance", cc.DefaultImportance),
		positive("consolidation.batch_size", cc.BatchSize),
		positive("consolidation.max_batches", cc.MaxBatches),
	)

	if cc.LowThreshold > cc.HighThreshold {
		errs = append(errs, invalid("consolidation.low_threshold (%g) must not exceed high_threshold (%g)",
			cc.LowThreshold, cc.HighThreshold))
	}
	for typ, w := range cc.TypeWeights {
		if err := unitInterval("consolidation.type_weights."+typ, w); err != nil {
			errs = append(errs, err)
		}
	}

	r := cc.Retention
	if r.Tier1 <= 0 || r.Tier2 <= 0 || r.Tier3 <= 0 {
		errs = append(errs, invalid("consolidation.retention windows must be positive, got %s / %s / %s", r.Tier1, r.Tier2, r.Tier3))
	}

	if cc.Schedule != "" {
		if _, err := cron.ParseStandard(cc.Schedule); err != nil {
			errs = append(errs, invalid("consolidation.schedule must be a cron expression, got %q: %w", cc.Schedule, err))
		}
		if len(cc.Entities) == 0 {
			errs = append(errs, invalid("consolidation.entities must not be empty when a schedule is set"))
		}
	}
	for i, id := range cc.Entities {
		if _, err := uuid.Parse(id); err != nil {
			errs = append(errs, invalid("consolidation.entities[%d] must be a UUID, got %q", i, id))
		}
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	rc := c.Retrieval
	errs := collect(
		positive("retrieval.max_candidates", rc.MaxCandidates),
		positive("retrieval.digest_length", rc.DigestLength),
		positive("retrieval.default_max_results", rc.DefaultMaxResults),
		positive("retrieval.max_results", rc.MaxResults),
		unitInterval("retrieval.relevance_floor", rc.RelevanceFloor),
	)
	if rc.DefaultMaxResults > rc.MaxResults {
		errs = append(errs, invalid("retrieval.default_max_results (%d) must not exceed max_results (%d)",
			rc.DefaultMaxResults, rc.MaxResults))
	}
	if rc.CacheMaxCost < 0 || rc.CacheTTL < 0 {
		errs = append(errs, invalid("retrieval cache settings must not be negative"))
	}
	return errs
}

func (c *Config) validateCoherence() []error {
	cc := c.Coherence
	errs := collect(
		positive("coherence.stale_threshold", cc.StaleThreshold),
		positive("coherence.sample_size", cc.SampleSize),
		positive("coherence.min_sample", cc.MinSample),
	)
	if cc.ImbalanceRatio <= 0 {
		errs = append(errs, invalid("coherence.imbalance_ratio must be positive, got %g", cc.ImbalanceRatio))
	}
	return errs
}

func (c *Config) validateArchive() []error {
	if err := oneOf("archive.backend", c.Archive.Backend, archiveBackends); err != nil {
		return []error{err}
	}

	var errs []error
	switch c.Archive.Backend {
	case "filesystem":
		if c.Archive.Path == "" {
			errs = append(errs, invalid("archive.path must not be empty for the filesystem backend"))
		}
	case "minio":
		if c.Archive.Minio.Endpoint == "" {
			errs = append(errs, invalid("archive.minio.endpoint must not be empty"))
		}
		if c.Archive.Minio.Bucket == "" {
			errs = append(errs, invalid("archive.minio.bucket must not be empty"))
		}
	}
	return errs
}

func (c *Config) validateEvents() []error {
	if err := oneOf("events.backend", c.Events.Backend, eventBackends); err != nil {
		return []error{err}
	}
	var errs []error
	if c.Events.PublishTimeout <= 0 {
		errs = append(errs, invalid("events.publish_timeout must be positive, got %s", c.Events.PublishTimeout))
	}
	if c.Events.Backend == "redis" && c.Events.Redis.Addr == "" {
		errs = append(errs, invalid("events.redis.addr must not be empty"))
	}
	return errs
}
