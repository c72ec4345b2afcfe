// Package engine assembles a memory engine from configuration: it picks the
// embedder, vector store, cache and deduplicator and hands them to a
// memory.SimpleManager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-memory/config"
	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/internal/metrics"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/dedup"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/local"
	"github.com/becomeliminal/nim-memory/memory/embedder/openai"
	"github.com/becomeliminal/nim-memory/memory/store/chromem"
	"github.com/becomeliminal/nim-memory/memory/store/inmem"
	"github.com/becomeliminal/nim-memory/memory/store/sqlite"
)

// Engine owns the components of a running memory engine.
type Engine struct {
	cfg      *config.Config
	store    memory.VectorStore
	embedder memory.Embedder
	cache    cache.Cache
	dedup    *dedup.Deduplicator
	metrics  *metrics.Recorder
	manager  *memory.SimpleManager

	closers []func() error
}

// Option configures the engine.
type Option func(*Engine)

// WithEmbedder uses e instead of the configured embedder.
func WithEmbedder(e memory.Embedder) Option {
	return func(eng *Engine) {
		eng.embedder = e
	}
}

// WithStore uses s instead of the configured store. The engine closes it.
func WithStore(s memory.VectorStore) Option {
	return func(eng *Engine) {
		eng.store = s
	}
}

// WithMetrics sets the metrics recorder. Default: metrics.Default.
func WithMetrics(r *metrics.Recorder) Option {
	return func(eng *Engine) {
		eng.metrics = r
	}
}

// New builds an engine from cfg. A nil cfg uses config.Default(). The id
// index is rebuilt from the store before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, &memory.Error{Op: "engine", Kind: memory.KindConfig, Err: err}
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.Default
	}

	if err := e.build(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context) error {
	if e.embedder == nil {
		emb, closeFn, err := newEmbedder(e.cfg)
		if err != nil {
			return err
		}
		e.embedder = emb
		if closeFn != nil {
			e.closers = append(e.closers, closeFn)
		}
	}

	if e.store == nil {
		store, err := newStore(ctx, e.cfg.Store)
		if err != nil {
			return err
		}
		e.store = store
	}
	e.closers = append(e.closers, e.store.Close)

	c, err := newCache(e.cfg.Cache)
	if err != nil {
		return err
	}
	e.cache = c
	if r, ok := c.(*cache.Ristretto); ok {
		e.closers = append(e.closers, func() error { r.Close(); return nil })
	}

	strategy, _ := dedup.ParseStrategy(strings.ToLower(e.cfg.Dedup.Strategy))
	if strategy != dedup.None {
		e.dedup = dedup.NewWithThreshold(strategy, e.cfg.Dedup.Threshold)
	}

	opts := []memory.Option{memory.WithMetrics(e.metrics)}
	if e.cache != nil {
		opts = append(opts, memory.WithCache(e.cache))
	}
	if e.dedup != nil {
		opts = append(opts, memory.WithDeduplicator(e.dedup))
	}
	mgr, err := memory.NewSimpleManager(e.store, e.embedder, e.cfg.MemoryConfig(), opts...)
	if err != nil {
		return err
	}
	e.manager = mgr

	n, err := mgr.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	logging.Infof("[ENGINE] Ready: store=%s embedder=%s cache=%s dedup=%s/%s memories=%d",
		e.cfg.Store.Backend, e.cfg.Embedder.Provider, e.cfg.Cache.Kind,
		e.cfg.Dedup.Strategy, e.cfg.Dedup.Policy, n)
	return nil
}

func newEmbedder(cfg *config.Config) (memory.Embedder, func() error, error) {
	ec := cfg.Embedder
	switch strings.ToLower(ec.Provider) {
	case "local":
		return local.New(cfg.Memory.Dimension), nil, nil
	case "openai":
		emb, err := openai.New(openai.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: cfg.Memory.Dimension,
			Timeout:    ec.Timeout,
			MaxBatch:   ec.MaxBatch,
		})
		if err != nil {
			return nil, nil, &memory.Error{Op: "engine", Kind: memory.KindConfig, Err: err}
		}
		return emb, nil, nil
	case "onnx":
		return newONNXEmbedder(cfg)
	default:
		return nil, nil, &memory.Error{Op: "engine", Kind: memory.KindConfig,
			Err: fmt.Errorf("unknown embedder provider %q", ec.Provider)}
	}
}

func newStore(ctx context.Context, sc config.StoreConfig) (memory.VectorStore, error) {
	switch strings.ToLower(sc.Backend) {
	case "inmem":
		if sc.Path == "" {
			return inmem.New(), nil
		}
		journal, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, &memory.Error{Op: "engine", Kind: memory.KindStorage, Err: err}
		}
		store, err := inmem.Open(ctx, journal)
		if err != nil {
			journal.Close()
			return nil, &memory.Error{Op: "engine", Kind: memory.KindStorage, Err: err}
		}
		return store, nil
	case "chromem":
		return chromem.New()
	default:
		return nil, &memory.Error{Op: "engine", Kind: memory.KindConfig,
			Err: fmt.Errorf("unknown store backend %q", sc.Backend)}
	}
}

func newCache(cc config.CacheConfig) (cache.Cache, error) {
	switch strings.ToLower(cc.Kind) {
	case "lru":
		return cache.NewLRU(cc.Capacity), nil
	case "ristretto":
		c, err := cache.NewRistretto(cc.Capacity)
		if err != nil {
			return nil, &memory.Error{Op: "engine", Kind: memory.KindConfig, Err: err}
		}
		return c, nil
	default:
		return nil, nil
	}
}

// Manager returns the memory manager.
func (e *Engine) Manager() *memory.SimpleManager {
	return e.manager
}

// Store returns the vector store.
func (e *Engine) Store() memory.VectorStore {
	return e.store
}

// Embedder returns the embedder.
func (e *Engine) Embedder() memory.Embedder {
	return e.embedder
}

// Metrics returns the metrics recorder.
func (e *Engine) Metrics() *metrics.Recorder {
	return e.metrics
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Close releases every component in reverse order of construction.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	_ = logging.Sync()
	return errors.Join(errs...)
}
