// Package openai embeds text through any OpenAI-compatible /embeddings
// endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/memory"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "text-embedding-3-small"

// Config configures the remote embedder.
type Config struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL overrides the API root, e.g. a local inference server.
	// Default: the OpenAI API.
	BaseURL string

	// Model names the embedding model. Default: text-embedding-3-small.
	Model string

	// Dimensions is the requested vector size (default: 384).
	Dimensions int

	// Timeout bounds each request. Zero means no client-side timeout.
	Timeout time.Duration

	// MaxBatch caps the number of texts sent in one request (default: 64).
	MaxBatch int
}

// Embedder calls an OpenAI-compatible embeddings API.
type Embedder struct {
	client     openai.Client
	model      string
	dimensions int
	maxBatch   int
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

// New creates a remote embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("APIKey or BaseURL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}

	// The caller owns retry policy.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Embedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   cfg.MaxBatch,
	}, nil
}

// Embed converts a single text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most MaxBatch inputs.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(e.model),
		Dimensions:     openai.Int(int64(e.dimensions)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("malformed response: %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			return nil, fmt.Errorf("malformed response: bad embedding index %d", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("malformed response: %w: got %d, want %d",
				memory.ErrDimensionMismatch, len(d.Embedding), e.dimensions)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}

	logging.Debugf("[OPENAI] Embedded %d texts with %s (tokens=%d)", len(texts), e.model, resp.Usage.TotalTokens)
	return out, nil
}

// classify maps API failures onto memory error kinds.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &memory.Error{Op: "embed", Kind: memory.KindAuthentication, Err: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &memory.Error{Op: "embed", Kind: memory.KindTimeout, Err: err}
		}
	}
	return fmt.Errorf("embeddings request: %w", err)
}
