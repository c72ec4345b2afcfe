//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/internal/mathutil"
	"github.com/becomeliminal/nim-memory/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Empty uses the runtime's
	// default search path.
	SharedLibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength is the padded token length (default: 128).
	MaxSequenceLength int
}

// Embedder generates embeddings using ONNX Runtime with mean pooling.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLen     int
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// New creates a new ONNX embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("ModelPath is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("TokenizerPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384 // Default for all-MiniLM-L6-v2
	}
	if cfg.MaxSequenceLength < 3 {
		cfg.MaxSequenceLength = 128
	}

	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("initialize ONNX runtime: %w", err)
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load BERT tokenizer: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect ONNX model: %w", err)
	}
	logging.Infof("[ONNX] Model %s: %d inputs, %d outputs", cfg.ModelPath, len(inputs), len(outputs))

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
	}, nil
}

// Embed converts text to embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch runs one inference over all texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batch := len(texts)
	inputIDs := make([]int64, 0, batch*e.maxLen)
	attentionMask := make([]int64, 0, batch*e.maxLen)
	for _, text := range texts {
		ids, mask := e.tokenizer.Encode(text, e.maxLen)
		inputIDs = append(inputIDs, ids...)
		attentionMask = append(attentionMask, mask...)
	}
	tokenTypeIDs := make([]int64, batch*e.maxLen)

	shape := ort.NewShape(int64(batch), int64(e.maxLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	// Outputs are allocated by Run.
	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	return e.pool(tensor.GetShape(), tensor.GetData(), attentionMask, batch)
}

// pool turns model output into one unit vector per input. Output is either
// pooled [batch, hidden] or token-level [batch, seq, hidden], which is mean
// pooled over attended tokens.
func (e *Embedder) pool(shape ort.Shape, data []float32, mask []int64, batch int) ([][]float32, error) {
	out := make([][]float32, batch)
	switch len(shape) {
	case 2:
		hidden := int(shape[1])
		if int(shape[0]) != batch || hidden != e.dimensions {
			return nil, fmt.Errorf("output shape %v does not match batch %d, dimension %d", shape, batch, e.dimensions)
		}
		for b := 0; b < batch; b++ {
			vec := make([]float32, hidden)
			copy(vec, data[b*hidden:(b+1)*hidden])
			out[b] = mathutil.Normalize(vec)
		}
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if int(shape[0]) != batch || hidden != e.dimensions || seqLen != e.maxLen {
			return nil, fmt.Errorf("output shape %v does not match batch %d, dimension %d", shape, batch, e.dimensions)
		}
		for b := 0; b < batch; b++ {
			vec := make([]float32, hidden)
			var attended float32
			for i := 0; i < seqLen; i++ {
				if mask[b*seqLen+i] == 0 {
					continue
				}
				attended++
				offset := (b*seqLen + i) * hidden
				for j := 0; j < hidden; j++ {
					vec[j] += data[offset+j]
				}
			}
			for j := range vec {
				vec[j] /= attended
			}
			out[b] = mathutil.Normalize(vec)
		}
	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
