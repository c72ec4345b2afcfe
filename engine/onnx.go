//go:build onnx

package engine

import (
	"github.com/becomeliminal/nim-memory/config"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *config.Config) (memory.Embedder, func() error, error) {
	emb, err := onnx.New(onnx.Config{
		ModelPath:         cfg.Embedder.ModelPath,
		TokenizerPath:     cfg.Embedder.TokenizerPath,
		SharedLibraryPath: cfg.Embedder.SharedLibraryPath,
		Dimensions:        cfg.Memory.Dimension,
	})
	if err != nil {
		return nil, nil, &memory.Error{Op: "engine", Kind: memory.KindEmbedding, Err: err}
	}
	return emb, emb.Close, nil
}
