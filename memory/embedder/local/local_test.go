package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
)

func TestDefaults(t *testing.T) {
	assert.Equal(t, 384, New(0).Dimensions())
	assert.Equal(t, 128, New(128).Dimensions())
}

func TestEmbedRange(t *testing.T) {
	e := New(128)
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, 128)
	for _, v := range vec {
		assert.True(t, v >= -1 && v <= 1, "component %v out of range", v)
	}
}

func TestDeterministic(t *testing.T) {
	e := New(256)
	a, err := e.Embed(context.Background(), "same text")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Embed(context.Background(), "other text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEmbedBatchMatchesEmbed(t *testing.T) {
	e := New(64)
	ctx := context.Background()
	texts := []string{"hello", "world", "test"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}

	viaHelper, err := memory.EmbedBatch(ctx, e, texts)
	require.NoError(t, err)
	assert.Equal(t, batch, viaHelper)
}

func TestKnownComponents(t *testing.T) {
	// SHA-256("") starts with 0xe3; at 32 dimensions component i is byte i.
	vec := textToEmbedding("", 32)
	assert.InDelta(t, (float32(0xe3)/255-0.5)*2, vec[0], 1e-6)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
