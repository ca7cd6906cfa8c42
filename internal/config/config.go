// Package config provides configuration loading for contextcore.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/contextcore/internal/embeddings"
	"github.com/fyrsmithlabs/contextcore/internal/evolution"
	"github.com/fyrsmithlabs/contextcore/internal/logging"
	"github.com/fyrsmithlabs/contextcore/internal/retriever"
	"github.com/fyrsmithlabs/contextcore/internal/storage"
	"github.com/fyrsmithlabs/contextcore/internal/telemetry"
	"github.com/fyrsmithlabs/contextcore/internal/vectorindex"
)

const (
	// envPrefix namespaces contextcore environment variables so unrelated
	// process environment never leaks into the config.
	envPrefix = "CONTEXTCORE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Config is the root configuration for contextcore.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Index      IndexConfig      `koanf:"index"`
	Chromem    ChromemConfig    `koanf:"chromem"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Storage    StorageConfig    `koanf:"storage"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Evolution  EvolutionConfig  `koanf:"evolution"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
}

// StoreConfig configures the primary record store.
type StoreConfig struct {
	// Provider is "sqlite" (default) or "memory".
	Provider string `koanf:"provider"`
	// DataDir holds the SQLite database. ":memory:" for in-process.
	DataDir string `koanf:"data_dir"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Provider is "chromem" (default), "qdrant", or "memory".
	Provider string `koanf:"provider"`
}

// ChromemConfig configures the embedded chromem vector index.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant vector index.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "tei" (default) or "static".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	// CacheSize enables an LRU embedding cache when positive.
	CacheSize int `koanf:"cache_size"`
}

// StorageConfig tunes the storage service.
type StorageConfig struct {
	BatchSize          int           `koanf:"batch_size"`
	MaxVersions        int           `koanf:"max_versions"`
	IndexMaxRetries    uint64        `koanf:"index_max_retries"`
	IndexRetryInterval time.Duration `koanf:"index_retry_interval"`
	FailureBufferSize  int           `koanf:"failure_buffer_size"`
}

// RetrievalConfig tunes retrieval and re-ranking.
type RetrievalConfig struct {
	Weights                   WeightsConfig `koanf:"weights"`
	DefaultLimit              int           `koanf:"default_limit"`
	CandidateMultiplier       int           `koanf:"candidate_multiplier"`
	FreshnessDecayRate        float64       `koanf:"freshness_decay_rate"`
	EntityConfidenceThreshold float64       `koanf:"entity_confidence_threshold"`
	DuplicateThreshold        float64       `koanf:"duplicate_threshold"`
	EarlyStopCount            int           `koanf:"early_stop_count"`
	EarlyStopConfidence       float64       `koanf:"early_stop_confidence"`
	TierTimeout               time.Duration `koanf:"tier_timeout"`
	UsageWorkers              int           `koanf:"usage_workers"`
	UsageWritesPerSecond      float64       `koanf:"usage_writes_per_second"`
}

// WeightsConfig holds the ranking score weights.
type WeightsConfig struct {
	Semantic   float64 `koanf:"semantic"`
	Freshness  float64 `koanf:"freshness"`
	Usage      float64 `koanf:"usage"`
	Confidence float64 `koanf:"confidence"`
}

// EvolutionConfig tunes confidence evolution and the decay scheduler.
type EvolutionConfig struct {
	SmoothingAlpha         float64       `koanf:"smoothing_alpha"`
	DecayRate              float64       `koanf:"decay_rate"`
	MinConfidenceThreshold float64       `koanf:"min_confidence_threshold"`
	Epsilon                float64       `koanf:"epsilon"`
	BatchSize              int           `koanf:"batch_size"`
	DeleteFlagged          bool          `koanf:"delete_flagged"`
	SweepInterval          time.Duration `koanf:"sweep_interval"`
	Workspaces             []string      `koanf:"workspaces"`
}

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CONTEXTCORE_STORE_DATA_DIR, CONTEXTCORE_QDRANT_HOST, ...)
//  2. YAML config file (~/.config/contextcore/config.yaml by default)
//  3. Hardcoded defaults
//
// The file must have 0600 or 0400 permissions and be under 1MB. A
// missing file is not an error; defaults and environment apply.
//
// Environment variables are mapped by stripping the CONTEXTCORE_ prefix
// and splitting on the first underscore into section.field_name:
//
//	CONTEXTCORE_STORE_DATA_DIR   -> store.data_dir
//	CONTEXTCORE_QDRANT_HOST      -> qdrant.host
//	CONTEXTCORE_EMBEDDINGS_MODEL -> embeddings.model
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "contextcore", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the file descriptor to avoid a
		// TOCTOU race between stat and read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	return finish(k)
}

// LoadBytes loads configuration from in-memory YAML plus environment
// overrides. Useful for tests and embedded setups.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")
	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config bytes: %w", err)
		}
	}
	return finish(k)
}

func finish(k *koanf.Koanf) (*Config, error) {
	// Environment overrides. CONTEXTCORE_STORE_DATA_DIR -> store.data_dir:
	// split on the first underscore after the prefix so field names keep
	// their underscores.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip the permission check on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
// Per-package tunables default inside the packages themselves; only
// wiring-level fields are defaulted here.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "sqlite"
	}
	if cfg.Store.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.DataDir = filepath.Join(home, ".config", "contextcore", "data")
		}
	}

	// chromem is the default index: embedded, no external deps.
	if cfg.Index.Provider == "" {
		cfg.Index.Provider = "chromem"
	}
	if cfg.Chromem.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Chromem.Path = filepath.Join(home, ".config", "contextcore", "vectorindex")
		}
	}
	if cfg.Chromem.Collection == "" {
		cfg.Chromem.Collection = "contextcore_default"
	}
	if cfg.Chromem.VectorSize == 0 {
		cfg.Chromem.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "contextcore_default"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 384
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.Evolution.SweepInterval == 0 {
		cfg.Evolution.SweepInterval = 24 * time.Hour
	}

	cfg.Telemetry.ApplyDefaults()
}

// Validate checks the assembled configuration, delegating tunables to
// the packages that own them.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	switch c.Store.Provider {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store: unknown provider %q (expected sqlite or memory)", c.Store.Provider)
	}
	if c.Store.Provider == "sqlite" && c.Store.DataDir == "" {
		return fmt.Errorf("store: data_dir required for sqlite")
	}

	switch c.Index.Provider {
	case "chromem", "qdrant", "memory":
	default:
		return fmt.Errorf("index: unknown provider %q (expected chromem, qdrant, or memory)", c.Index.Provider)
	}

	rc := c.RetrieverConfig()
	rc.ApplyDefaults()
	if err := rc.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}

	ec := c.EvolutionEngineConfig()
	ec.ApplyDefaults()
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("evolution: %w", err)
	}

	if c.Evolution.SweepInterval < 0 {
		return fmt.Errorf("evolution: sweep_interval must be non-negative")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// VectorIndexConfig maps the index sections onto the vectorindex package.
func (c *Config) VectorIndexConfig() vectorindex.Config {
	return vectorindex.Config{
		Provider: c.Index.Provider,
		Chromem: vectorindex.ChromemConfig{
			Path:       c.Chromem.Path,
			Collection: c.Chromem.Collection,
			VectorSize: c.Chromem.VectorSize,
			Compress:   c.Chromem.Compress,
		},
		Qdrant: vectorindex.QdrantConfig{
			Host:       c.Qdrant.Host,
			Port:       c.Qdrant.Port,
			Collection: c.Qdrant.Collection,
			VectorSize: c.Qdrant.VectorSize,
			UseTLS:     c.Qdrant.UseTLS,
		},
	}
}

// EmbeddingsProviderConfig maps the embeddings section onto the
// embeddings package.
func (c *Config) EmbeddingsProviderConfig() embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  c.Embeddings.Provider,
		Model:     c.Embeddings.Model,
		BaseURL:   c.Embeddings.BaseURL,
		CacheSize: c.Embeddings.CacheSize,
	}
}

// StorageServiceConfig maps the storage section onto the storage package.
func (c *Config) StorageServiceConfig() storage.Config {
	return storage.Config{
		BatchSize:          c.Storage.BatchSize,
		MaxVersions:        c.Storage.MaxVersions,
		IndexMaxRetries:    c.Storage.IndexMaxRetries,
		IndexRetryInterval: c.Storage.IndexRetryInterval,
		FailureBufferSize:  c.Storage.FailureBufferSize,
	}
}

// RetrieverConfig maps the retrieval section onto the retriever package.
func (c *Config) RetrieverConfig() retriever.Config {
	return retriever.Config{
		Weights: retriever.Weights{
			Semantic:   c.Retrieval.Weights.Semantic,
			Freshness:  c.Retrieval.Weights.Freshness,
			Usage:      c.Retrieval.Weights.Usage,
			Confidence: c.Retrieval.Weights.Confidence,
		},
		DefaultLimit:              c.Retrieval.DefaultLimit,
		CandidateMultiplier:       c.Retrieval.CandidateMultiplier,
		FreshnessDecayRate:        c.Retrieval.FreshnessDecayRate,
		EntityConfidenceThreshold: c.Retrieval.EntityConfidenceThreshold,
		DuplicateThreshold:        c.Retrieval.DuplicateThreshold,
		EarlyStopCount:            c.Retrieval.EarlyStopCount,
		EarlyStopConfidence:       c.Retrieval.EarlyStopConfidence,
		TierTimeout:               c.Retrieval.TierTimeout,
		UsageWorkers:              c.Retrieval.UsageWorkers,
		UsageWritesPerSecond:      c.Retrieval.UsageWritesPerSecond,
	}
}

// EvolutionEngineConfig maps the evolution section onto the evolution
// package. Scheduler settings (sweep_interval, workspaces) stay on the
// config; they wire the scheduler, not the engine.
func (c *Config) EvolutionEngineConfig() evolution.Config {
	return evolution.Config{
		SmoothingAlpha:         c.Evolution.SmoothingAlpha,
		DecayRate:              c.Evolution.DecayRate,
		MinConfidenceThreshold: c.Evolution.MinConfidenceThreshold,
		Epsilon:                c.Evolution.Epsilon,
		BatchSize:              c.Evolution.BatchSize,
		DeleteFlagged:          c.Evolution.DeleteFlagged,
	}
}
