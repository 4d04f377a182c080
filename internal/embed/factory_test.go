package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Provider Parsing
// ============================================================================

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input string
		want  ProviderType
	}{
		{"ollama", ProviderOllama},
		{"OLLAMA", ProviderOllama},
		{"static", ProviderStatic},
		{"hash", ProviderStatic},
		{"Static", ProviderStatic},
		{"", ProviderOllama},
		{"unknown", ProviderOllama},
	}

	for _, tt := range tests {
		t.Run("parse_"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProvider(tt.input))
		})
	}
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("ollama"))
	assert.True(t, IsValidProvider("static"))
	assert.True(t, IsValidProvider("OLLAMA"))
	assert.False(t, IsValidProvider("mlx"))
	assert.False(t, IsValidProvider(""))
}

// ============================================================================
// Factory Construction
// ============================================================================

func TestNewEmbedder_StaticProvider(t *testing.T) {
	embedder, err := NewEmbedder(context.Background(), ProviderStatic, "")
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	// Static provider is wrapped in the default cache
	cached, ok := embedder.(*CachedEmbedder)
	require.True(t, ok, "factory should wrap embedders with the LRU cache")
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
}

func TestNewEmbedder_CacheDisabledViaEnv(t *testing.T) {
	t.Setenv("RAGTUNE_EMBED_CACHE", "false")

	embedder, err := NewEmbedder(context.Background(), ProviderStatic, "")
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.IsType(t, &StaticEmbedder{}, embedder, "cache wrapper should be skipped")
}

func TestNewEmbedder_EnvOverridesProvider(t *testing.T) {
	t.Setenv("RAGTUNE_EMBEDDER", "static")

	// Requested provider is ollama, but the env override wins; no Ollama
	// server is needed for this test to pass.
	embedder, err := NewEmbedder(context.Background(), ProviderOllama, "")
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	info := GetInfo(context.Background(), embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
}

// ============================================================================
// GetInfo
// ============================================================================

func TestGetInfo_UnwrapsCachedEmbedder(t *testing.T) {
	inner := NewStaticEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)
	defer func() { _ = cached.Close() }()

	info := GetInfo(context.Background(), cached)

	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "static", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
	assert.True(t, info.Available)
}
