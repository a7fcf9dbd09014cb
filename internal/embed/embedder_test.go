package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedderProducesFixedDimension(t *testing.T) {
	e := NewLocal(384)
	vec, err := e.Encode(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Len(t, vec, 384)
}

func TestLocalEmbedderIsDeterministic(t *testing.T) {
	e := NewLocal(64)
	a, err := e.Encode(context.Background(), "same text")
	require.NoError(t, err)
	b, err := e.Encode(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalEmbedderDistinguishesDifferentText(t *testing.T) {
	e := NewLocal(64)
	a, err := e.Encode(context.Background(), "brown fox jumps")
	require.NoError(t, err)
	b, err := e.Encode(context.Background(), "completely unrelated sentence about cars")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{Dim: 384})
	require.Error(t, err)
}
