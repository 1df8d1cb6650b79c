package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashEmbedderIsDeterministicAndUnitNorm(t *testing.T) {
	e := NewHashEmbedder("hash-64", 64)
	rows, err := e.Embed(context.Background(), []string{"Zeus rules Olympus", "Zeus rules Olympus", "the", ""})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, rows[0], rows[1])
	for _, r := range rows {
		assert.Len(t, r, 64)
		assert.InDelta(t, 1.0, norm(r), 1e-5)
	}
}

func TestHashEmbedderSharedVocabularyIsCloser(t *testing.T) {
	e := NewHashEmbedder("hash", 0)
	assert.Equal(t, DefaultHashDimension, e.Dimension())

	rows, err := e.Embed(context.Background(), []string{
		"Zeus hurled thunderbolts from the peak of Mount Olympus",
		"From Mount Olympus, Zeus hurled his thunderbolts",
		"The spaceship docked at the orbital station for refuelling",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(rows[0], rows[1]), dot(rows[0], rows[2]))
}

func TestFactoryResolvesHashModels(t *testing.T) {
	f := NewFactory(FactoryConfig{Provider: ProviderOpenAI, APIKeyEnv: "ISLAND_TEST_MISSING_KEY"})

	e, err := f.ForModel("hash-128")
	require.NoError(t, err)
	assert.Equal(t, 128, e.Dimension())
	assert.Equal(t, "hash-128", e.ModelName())

	again, err := f.ForModel("hash-128")
	require.NoError(t, err)
	assert.Same(t, e, again)

	_, err = f.ForModel("")
	assert.Error(t, err)

	_, err = f.ForModel("text-embedding-3-small")
	assert.Error(t, err, "missing API key must fail")
}

func TestResolveDimension(t *testing.T) {
	assert.Equal(t, 1536, resolveDimension("text-embedding-3-small", 0))
	assert.Equal(t, 42, resolveDimension("text-embedding-3-small", 42))
	assert.Equal(t, 0, resolveDimension("custom", 0))
}
