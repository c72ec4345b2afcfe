package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/becomeliminal/nim-memory/internal/logging"
)

// BatchOpType is the kind of a batched operation.
type BatchOpType string

const (
	BatchAdd    BatchOpType = "add"
	BatchUpdate BatchOpType = "update"
	BatchDelete BatchOpType = "delete"
)

// BatchOp is one operation in a batch.
type BatchOp struct {
	Type       BatchOpType
	MemoryID   string // Update and Delete
	Content    string // Add and Update
	MemoryType string // Add
	Metadata   map[string]string
}

// AddOp builds an add operation.
func AddOp(content, memoryType string) BatchOp {
	return BatchOp{Type: BatchAdd, Content: content, MemoryType: memoryType}
}

// UpdateOp builds an update operation.
func UpdateOp(memoryID, content string) BatchOp {
	return BatchOp{Type: BatchUpdate, MemoryID: memoryID, Content: content}
}

// DeleteOp builds a delete operation.
func DeleteOp(memoryID string) BatchOp {
	return BatchOp{Type: BatchDelete, MemoryID: memoryID}
}

// BatchResult tallies the outcome of a batch.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Errors     []string     `json:"errors,omitempty"`
	Items      []MemoryItem `json:"items,omitempty"`
}

// AllSucceeded reports whether no operation failed or was skipped.
func (r *BatchResult) AllSucceeded() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// SuccessRate is Successful/Total, or 1 for an empty batch.
func (r *BatchResult) SuccessRate() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Successful) / float64(r.Total)
}

func (r *BatchResult) addError(index int, op BatchOp, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("op #%d (%s): %v", index, op.Type, err))
}

// BatchProcessor applies operations in fixed-size chunks.
type BatchProcessor struct {
	BatchSize       int
	ContinueOnError bool
}

// NewBatchProcessor returns a continue-on-error processor.
func NewBatchProcessor(batchSize int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchProcessor{BatchSize: batchSize, ContinueOnError: true}
}

// Split chunks ops into slices of at most BatchSize.
func (p *BatchProcessor) Split(ops []BatchOp) [][]BatchOp {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	var chunks [][]BatchOp
	for start := 0; start < len(ops); start += size {
		end := start + size
		if end > len(ops) {
			end = len(ops)
		}
		chunks = append(chunks, ops[start:end])
	}
	return chunks
}

// OptimizeBatchSize suggests a chunk size for n operations.
func OptimizeBatchSize(n int) int {
	switch {
	case n < 10:
		return n
	case n < 100:
		return 10
	case n < 1000:
		return 32
	default:
		return 64
	}
}

// prefetcher is implemented by managers that can warm their embedding
// cache for a chunk of texts in one call.
type prefetcher interface {
	Prefetch(ctx context.Context, texts []string) error
}

// Apply runs ops for userID against mgr. Add operations are scoped to
// userID; Update and Delete address memories by ID. With ContinueOnError
// unset, the first failure stops the batch and the remaining operations
// are counted as skipped. A cancelled context is checked between chunks.
func (p *BatchProcessor) Apply(ctx context.Context, mgr Manager, userID string, ops []BatchOp) *BatchResult {
	result := &BatchResult{Total: len(ops)}
	pf, canPrefetch := mgr.(prefetcher)

	index := 0
	for _, chunk := range p.Split(ops) {
		if err := ctx.Err(); err != nil {
			result.Skipped += len(ops) - index
			result.Errors = append(result.Errors, fmt.Sprintf("batch stopped at op #%d: %v", index, err))
			return result
		}

		if canPrefetch {
			if err := pf.Prefetch(ctx, chunkTexts(chunk)); err != nil {
				logging.Warnf("[MEMORY] Batch prefetch failed, embedding one by one: %v", err)
			}
		}

		for _, op := range chunk {
			item, err := applyOp(ctx, mgr, userID, op)
			if err != nil {
				result.addError(index, op, err)
				if !p.ContinueOnError {
					result.Skipped += len(ops) - index - 1
					return result
				}
			} else {
				result.Successful++
				if item != nil {
					result.Items = append(result.Items, *item)
				}
			}
			index++
		}
	}

	logging.Debugf("[MEMORY] Batch finished: total=%d ok=%d failed=%d", result.Total, result.Successful, result.Failed)
	return result
}

func applyOp(ctx context.Context, mgr Manager, userID string, op BatchOp) (*MemoryItem, error) {
	switch op.Type {
	case BatchAdd:
		return mgr.Add(ctx, userID, op.Content, AddOptions{MemoryType: op.MemoryType, Metadata: op.Metadata})
	case BatchUpdate:
		return mgr.Update(ctx, op.MemoryID, op.Content)
	case BatchDelete:
		return nil, mgr.Delete(ctx, op.MemoryID)
	default:
		return nil, invalidArgument("batch", "unknown operation type %q", op.Type)
	}
}

func chunkTexts(chunk []BatchOp) []string {
	texts := make([]string, 0, len(chunk))
	for _, op := range chunk {
		if op.Type != BatchDelete && op.Content != "" {
			texts = append(texts, op.Content)
		}
	}
	return texts
}

// Prefetch embeds the texts missing from the cache with a single batch call
// and caches the results. Without a cache it does nothing.
func (m *SimpleManager) Prefetch(ctx context.Context, texts []string) error {
	if m.cache == nil || len(texts) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(texts))
	var missing []string
	for _, t := range texts {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if !m.cache.Contains(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	start := time.Now()
	vecs, err := EmbedBatch(ctx, m.embedder, missing)
	m.metrics.ObserveEmbed(start, err)
	if err != nil {
		return wrapError("prefetch", KindEmbedding, err)
	}
	if len(vecs) != len(missing) {
		return wrapError("prefetch", KindEmbedding, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing)))
	}
	for i, vec := range vecs {
		if len(vec) != m.config.Dimension {
			return wrapError("prefetch", KindEmbedding, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), m.config.Dimension))
		}
		m.cache.Put(missing[i], vec)
	}
	return nil
}
