// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level Strata configuration.
type Config struct {
	Networking    NetworkingConfig          `mapstructure:"networking"`
	Storage       StorageConfig             `mapstructure:"storage"`
	Judgment      JudgmentConfig            `mapstructure:"judgment"`
	Embedding     EmbeddingConfig           `mapstructure:"embedding"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Consolidation ConsolidationConfig       `mapstructure:"consolidation"`
	Retrieval     RetrievalConfig           `mapstructure:"retrieval"`
	Coherence     CoherenceConfig           `mapstructure:"coherence"`
	Archive       ArchiveConfig             `mapstructure:"archive"`
	Events        EventsConfig              `mapstructure:"events"`
}

// NetworkingConfig controls the HTTP listener.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimitRPS is the per-IP request rate; zero disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	Path             string `mapstructure:"path"`
	VectorDimensions int    `mapstructure:"vector_dimensions"`
}

// JudgmentConfig selects the provider behind summarize/score/rank calls.
// Provider "none" disables judgment; every operation then uses its
// deterministic fallback.
type JudgmentConfig struct {
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	HealthCooldown time.Duration `mapstructure:"health_cooldown"`
}

// EmbeddingConfig selects the provider for tier 3 embeddings. Provider
// "hash" is the offline feature-hashing embedder.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ProviderConfig holds credentials and endpoint for a model provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ConsolidationConfig controls importance scoring and tier migration.
type ConsolidationConfig struct {
	HighThreshold     float64            `mapstructure:"high_threshold"`
	LowThreshold      float64            `mapstructure:"low_threshold"`
	BatchSize         int                `mapstructure:"batch_size"`
	MaxBatches        int                `mapstructure:"max_batches"`
	GroupedTypes      []string           `mapstructure:"grouped_types"`
	TypeWeights       map[string]float64 `mapstructure:"type_weights"`
	UnknownTypeWeight float64            `mapstructure:"unknown_type_weight"`
	Keywords          []string           `mapstructure:"keywords"`
	KeywordBoost      float64            `mapstructure:"keyword_boost"`
	JudgmentBoost     float64            `mapstructure:"judgment_boost"`
	DefaultImportance float64            `mapstructure:"default_importance"`
	Retention         RetentionConfig    `mapstructure:"retention"`

	// Schedule is a cron spec for `strata serve`; empty disables it.
	Schedule string   `mapstructure:"schedule"`
	Entities []string `mapstructure:"entities"`
}

// RetentionConfig is the time a record spends in each live tier.
type RetentionConfig struct {
	Tier1 time.Duration `mapstructure:"tier1"`
	Tier2 time.Duration `mapstructure:"tier2"`
	Tier3 time.Duration `mapstructure:"tier3"`
}

// RetrievalConfig controls contextual retrieval.
type RetrievalConfig struct {
	MaxCandidates     int           `mapstructure:"max_candidates"`
	DigestLength      int           `mapstructure:"digest_length"`
	RelevanceFloor    float64       `mapstructure:"relevance_floor"`
	DefaultMaxResults int           `mapstructure:"default_max_results"`
	MaxResults        int           `mapstructure:"max_results"`
	SemanticTier3     bool          `mapstructure:"semantic_tier3"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheMaxCost      int64         `mapstructure:"cache_max_cost"`
}

// CoherenceConfig controls the coherence checker thresholds.
type CoherenceConfig struct {
	ImbalanceRatio float64 `mapstructure:"imbalance_ratio"`
	StaleThreshold int     `mapstructure:"stale_threshold"`
	SampleSize     int     `mapstructure:"sample_size"`
	MinSample      int     `mapstructure:"min_sample"`
}

// ArchiveConfig selects where tier 4 batches are written.
type ArchiveConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Minio   MinioConfig `mapstructure:"minio"`
}

// MinioConfig addresses an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// EventsConfig selects the memory event publisher.
type EventsConfig struct {
	Backend        string        `mapstructure:"backend"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig addresses the Redis pub/sub server.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("networking.rate_limit_rps", 0)
	v.SetDefault("networking.rate_limit_burst", 20)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "strata.db")
	v.SetDefault("storage.vector_dimensions", 256)

	v.SetDefault("judgment.provider", "none")
	v.SetDefault("judgment.timeout", "10s")
	v.SetDefault("judgment.health_cooldown", "30s")
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.dimensions", 256)

	v.SetDefault("consolidation.high_threshold", 0.7)
	v.SetDefault("consolidation.low_threshold", 0.4)
	v.SetDefault("consolidation.batch_size", 200)
	v.SetDefault("consolidation.max_batches", 10)
	v.SetDefault("consolidation.grouped_types", []string{"conversation"})
	v.SetDefault("consolidation.type_weights", map[string]float64{
		"decision":       0.8,
		"task_execution": 0.6,
		"conversation":   0.5,
		"event":          0.4,
		"action":         0.5,
	})
	v.SetDefault("consolidation.unknown_type_weight", 0.5)
	v.SetDefault("consolidation.keywords", []string{"important", "critical"})
	v.SetDefault("consolidation.keyword_boost", 0.2)
	v.SetDefault("consolidation.judgment_boost", 0.2)
	v.SetDefault("consolidation.default_importance", 0.5)
	v.SetDefault("consolidation.retention.tier1", "24h")
	v.SetDefault("consolidation.retention.tier2", "720h")
	v.SetDefault("consolidation.retention.tier3", "8760h")
	v.SetDefault("consolidation.schedule", "")

	v.SetDefault("retrieval.max_candidates", 50)
	v.SetDefault("retrieval.digest_length", 200)
	v.SetDefault("retrieval.relevance_floor", 0.3)
	v.SetDefault("retrieval.default_max_results", 10)
	v.SetDefault("retrieval.max_results", 50)
	v.SetDefault("retrieval.semantic_tier3", false)
	v.SetDefault("retrieval.cache_ttl", "5m")
	v.SetDefault("retrieval.cache_max_cost", 1<<20)

	v.SetDefault("coherence.imbalance_ratio", 0.8)
	v.SetDefault("coherence.stale_threshold", 100)
	v.SetDefault("coherence.sample_size", 20)
	v.SetDefault("coherence.min_sample", 5)

	v.SetDefault("archive.backend", "filesystem")
	v.SetDefault("archive.path", "archive")
	v.SetDefault("archive.minio.bucket", "strata-archive")

	v.SetDefault("events.backend", "log")
	v.SetDefault("events.publish_timeout", "2s")
	v.SetDefault("events.redis.addr", "127.0.0.1:6379")
	v.SetDefault("events.redis.channel_prefix", "strata:")
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix STRATA_).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, strataerr.Errorf(strataerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// SearchPaths lists the directories probed for strata.yaml, in order.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "strata"))
	}
	return append(paths, "/etc/strata")
}

// ResolvePath returns explicit when set, otherwise the first strata.yaml
// found on SearchPaths, otherwise "" (defaults only).
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, dir := range SearchPaths() {
		candidate := filepath.Join(dir, "strata.yaml")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
