package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mem0_alice", cfg.CollectionName("alice"))
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults(128)
	assert.Equal(t, 128, cfg.Dimension)
	assert.Equal(t, DefaultCollectionPrefix, cfg.CollectionPrefix)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultSearchLimit, cfg.SearchLimit)
	assert.Equal(t, DedupOff, cfg.DedupPolicy)

	cfg = Config{}.withDefaults(0)
	assert.Equal(t, DefaultDimension, cfg.Dimension)

	cfg = Config{Dimension: 64, CollectionPrefix: "agents"}.withDefaults(128)
	assert.Equal(t, 64, cfg.Dimension)
	assert.Equal(t, "agents_bob", cfg.CollectionName("bob"))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero dimension", func(c *Config) { c.Dimension = 0 }, "dimension must be positive"},
		{"empty prefix", func(c *Config) { c.CollectionPrefix = "" }, "collection prefix is empty"},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }, "batch size must be positive"},
		{"zero limit", func(c *Config) { c.SearchLimit = 0 }, "search limit must be positive"},
		{"bad policy", func(c *Config) { c.DedupPolicy = "merge" }, `unknown dedup policy "merge"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsKind(err, KindConfig))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
