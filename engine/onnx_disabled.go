//go:build !onnx

package engine

import (
	"errors"

	"github.com/becomeliminal/nim-memory/config"
	"github.com/becomeliminal/nim-memory/memory"
)

func newONNXEmbedder(*config.Config) (memory.Embedder, func() error, error) {
	return nil, nil, &memory.Error{
		Op:   "engine",
		Kind: memory.KindConfig,
		Err:  errors.New("onnx embedder requires building with -tags onnx"),
	}
}
