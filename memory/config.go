package memory

import (
	"errors"
	"fmt"
	"strings"
)

// DedupPolicy decides what Add does when content repeats an existing memory.
type DedupPolicy string

const (
	// DedupOff stores every Add. Registrations are still kept so callers can
	// pre-check with the Deduplicator.
	DedupOff DedupPolicy = "off"
	// DedupReject fails the Add with a DuplicateError.
	DedupReject DedupPolicy = "reject"
	// DedupReturnExisting returns the existing memory without writing.
	DedupReturnExisting DedupPolicy = "return_existing"
)

// Config holds SimpleManager configuration. Zero fields take defaults when
// the manager is constructed.
type Config struct {
	// Dimension is the embedding length. Default: the embedder's
	// Dimensions(), falling back to 384.
	Dimension int

	// CollectionPrefix names per-user collections as <prefix>_<userID>.
	// Default: "mem0"
	CollectionPrefix string

	// BatchSize is the chunk size used by batch operations.
	// Default: 32
	BatchSize int

	// DefaultMemoryType is applied to memories added without a type.
	// Default: "general"
	DefaultMemoryType string

	// SearchLimit is used when Search is called with a non-positive limit.
	// Default: 10
	SearchLimit int

	// DedupPolicy applies when a Deduplicator is attached.
	// Default: DedupOff
	DedupPolicy DedupPolicy
}

// Defaults.
const (
	DefaultDimension        = 384
	DefaultCollectionPrefix = "mem0"
	DefaultBatchSize        = 32
	DefaultSearchLimit      = 10
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Dimension:         DefaultDimension,
		CollectionPrefix:  DefaultCollectionPrefix,
		BatchSize:         DefaultBatchSize,
		DefaultMemoryType: DefaultMemoryType,
		SearchLimit:       DefaultSearchLimit,
		DedupPolicy:       DedupOff,
	}
}

func (c Config) withDefaults(embedderDims int) Config {
	if c.Dimension <= 0 {
		c.Dimension = embedderDims
		if c.Dimension <= 0 {
			c.Dimension = DefaultDimension
		}
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = DefaultCollectionPrefix
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DefaultMemoryType == "" {
		c.DefaultMemoryType = DefaultMemoryType
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if c.DedupPolicy == "" {
		c.DedupPolicy = DedupOff
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var problems []string
	if c.Dimension <= 0 {
		problems = append(problems, fmt.Sprintf("dimension must be positive, got %d", c.Dimension))
	}
	if c.CollectionPrefix == "" {
		problems = append(problems, "collection prefix is empty")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, fmt.Sprintf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.SearchLimit <= 0 {
		problems = append(problems, fmt.Sprintf("search limit must be positive, got %d", c.SearchLimit))
	}
	switch c.DedupPolicy {
	case DedupOff, DedupReject, DedupReturnExisting:
	default:
		problems = append(problems, fmt.Sprintf("unknown dedup policy %q", c.DedupPolicy))
	}
	if len(problems) > 0 {
		return &Error{Op: "config", Kind: KindConfig, Err: errors.New(strings.Join(problems, "; "))}
	}
	return nil
}

// CollectionName returns the collection holding userID's memories.
func (c Config) CollectionName(userID string) string {
	return c.CollectionPrefix + "_" + userID
}
