package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name         string
		provider     string
		anthropicKey string
		openaiKey    string
		expected     string
	}{
		{name: "explicit anthropic provider", provider: "anthropic", expected: ProviderAnthropic},
		{name: "explicit provider is lowercased", provider: "OpenAI", expected: ProviderOpenAI},
		{name: "explicit local provider", provider: "local", anthropicKey: "k", expected: ProviderLocal},
		{name: "anthropic key present", anthropicKey: "k", openaiKey: "k", expected: ProviderAnthropic},
		{name: "openai key present", openaiKey: "k", expected: ProviderOpenAI},
		{name: "no configuration", expected: ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvAnthropicAPIKey, tt.anthropicKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openaiKey)

			assert.Equal(t, tt.expected, DetectProvider())
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("local by default", func(t *testing.T) {
		svc, err := New(Config{})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, svc.Provider())
		assert.Equal(t, DefaultLocalModel, svc.Model())
		assert.NoError(t, svc.Close())
	})

	t.Run("remote with explicit key", func(t *testing.T) {
		svc, err := New(Config{Provider: "openai", APIKey: "k", Model: "m", CacheSize: 5})
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, "m", svc.Model())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Config{Provider: "jina"})
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvAnthropicAPIKey, "env-key")
		t.Setenv(EnvModel, "claude-test")

		svc, err := NewFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, svc.Provider())
		assert.Equal(t, "claude-test", svc.Model())
	})
}
