// Package config loads engine configuration from defaults, an optional YAML
// file and NIM_MEMORY_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/dedup"
)

// EnvPrefix prefixes every environment override, followed by the group
// name, e.g. NIM_MEMORY_CACHE_CAPACITY.
const EnvPrefix = "NIM_MEMORY"

// Config is the complete engine configuration.
type Config struct {
	Memory   MemoryConfig   `yaml:"memory"`
	Cache    CacheConfig    `yaml:"cache"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Store    StoreConfig    `yaml:"store"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Log      LogConfig      `yaml:"log"`
}

// Environment keys come from field names split on case changes, e.g.
// CollectionPrefix reads NIM_MEMORY_MEMORY_COLLECTION_PREFIX.

// MemoryConfig mirrors memory.Config.
type MemoryConfig struct {
	Dimension         int    `yaml:"dimension" split_words:"true"`
	CollectionPrefix  string `yaml:"collection_prefix" split_words:"true"`
	BatchSize         int    `yaml:"batch_size" split_words:"true"`
	DefaultMemoryType string `yaml:"default_memory_type" split_words:"true"`
	SearchLimit       int    `yaml:"search_limit" split_words:"true"`
}

// CacheConfig selects the embedding cache.
type CacheConfig struct {
	// Kind is "lru", "ristretto" or "none".
	Kind     string `yaml:"kind" split_words:"true"`
	Capacity int    `yaml:"capacity" split_words:"true"`
}

// DedupConfig configures duplicate detection.
type DedupConfig struct {
	// Strategy is "exact", "similarity" or "none".
	Strategy  string  `yaml:"strategy" split_words:"true"`
	Threshold float32 `yaml:"threshold" split_words:"true"`
	// Policy is "off", "reject" or "return_existing".
	Policy string `yaml:"policy" split_words:"true"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	// Backend is "inmem" or "chromem".
	Backend string `yaml:"backend" split_words:"true"`
	// Path is the SQLite journal for the inmem backend. Empty keeps data
	// in memory only.
	Path string `yaml:"path" split_words:"true"`
}

// EmbedderConfig selects and configures the embedder.
type EmbedderConfig struct {
	// Provider is "local", "openai" or "onnx".
	Provider string        `yaml:"provider" split_words:"true"`
	Model    string        `yaml:"model" split_words:"true"`
	BaseURL  string        `yaml:"base_url" split_words:"true"`
	APIKey   string        `yaml:"api_key" split_words:"true"`
	Timeout  time.Duration `yaml:"timeout" split_words:"true"`
	MaxBatch int           `yaml:"max_batch" split_words:"true"`

	ModelPath         string `yaml:"model_path" split_words:"true"`
	TokenizerPath     string `yaml:"tokenizer_path" split_words:"true"`
	SharedLibraryPath string `yaml:"shared_library_path" split_words:"true"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Memory: MemoryConfig{
			Dimension:         memory.DefaultDimension,
			CollectionPrefix:  memory.DefaultCollectionPrefix,
			BatchSize:         memory.DefaultBatchSize,
			DefaultMemoryType: memory.DefaultMemoryType,
			SearchLimit:       memory.DefaultSearchLimit,
		},
		Cache: CacheConfig{
			Kind:     "lru",
			Capacity: 1000,
		},
		Dedup: DedupConfig{
			Strategy:  "exact",
			Threshold: dedup.DefaultThreshold,
			Policy:    string(memory.DedupOff),
		},
		Store: StoreConfig{
			Backend: "inmem",
		},
		Embedder: EmbedderConfig{
			Provider: "local",
			Timeout:  30 * time.Second,
			MaxBatch: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file or empty path is skipped) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, configError(fmt.Errorf("parse %s: %w", path, err))
			}
		case errors.Is(err, os.ErrNotExist):
			// Defaults and environment only.
		default:
			return nil, configError(fmt.Errorf("read %s: %w", path, err))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides each group from NIM_MEMORY_<GROUP>_<FIELD>.
func (c *Config) applyEnv() error {
	groups := []struct {
		name   string
		target interface{}
	}{
		{"MEMORY", &c.Memory},
		{"CACHE", &c.Cache},
		{"DEDUP", &c.Dedup},
		{"STORE", &c.Store},
		{"EMBEDDER", &c.Embedder},
		{"LOG", &c.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.name, g.target); err != nil {
			return configError(fmt.Errorf("environment %s_%s: %w", EnvPrefix, g.name, err))
		}
	}
	return nil
}

// Validate checks every group and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := c.MemoryConfig().Validate(); err != nil {
		var merr *memory.Error
		if errors.As(err, &merr) {
			add("memory: %v", merr.Err)
		} else {
			add("memory: %v", err)
		}
	}

	switch strings.ToLower(c.Cache.Kind) {
	case "lru", "ristretto":
		if c.Cache.Capacity <= 0 {
			add("cache.capacity must be positive, got %d", c.Cache.Capacity)
		}
	case "none", "":
	default:
		add("unknown cache.kind %q", c.Cache.Kind)
	}

	if _, ok := dedup.ParseStrategy(strings.ToLower(c.Dedup.Strategy)); !ok {
		add("unknown dedup.strategy %q", c.Dedup.Strategy)
	}
	if c.Dedup.Threshold < -1 || c.Dedup.Threshold > 1 {
		add("dedup.threshold must be within [-1, 1], got %v", c.Dedup.Threshold)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "inmem":
	case "chromem":
		if c.Store.Path != "" {
			add("store.path is only supported by the inmem backend")
		}
	default:
		add("unknown store.backend %q", c.Store.Backend)
	}

	switch strings.ToLower(c.Embedder.Provider) {
	case "local":
	case "openai":
		if c.Embedder.APIKey == "" && c.Embedder.BaseURL == "" {
			add("embedder.api_key or embedder.base_url is required for openai")
		}
	case "onnx":
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			add("embedder.model_path and embedder.tokenizer_path are required for onnx")
		}
	default:
		add("unknown embedder.provider %q", c.Embedder.Provider)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		add("unknown log.format %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return configError(errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// MemoryConfig converts the memory and dedup groups to memory.Config.
func (c *Config) MemoryConfig() memory.Config {
	return memory.Config{
		Dimension:         c.Memory.Dimension,
		CollectionPrefix:  c.Memory.CollectionPrefix,
		BatchSize:         c.Memory.BatchSize,
		DefaultMemoryType: c.Memory.DefaultMemoryType,
		SearchLimit:       c.Memory.SearchLimit,
		DedupPolicy:       memory.DedupPolicy(strings.ToLower(c.Dedup.Policy)),
	}
}

func configError(err error) error {
	return &memory.Error{Op: "config", Kind: memory.KindConfig, Err: err}
}
