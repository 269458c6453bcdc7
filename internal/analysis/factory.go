package analysis

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables consulted by NewFromEnv
const (
	EnvProvider        = "GOCONTEXT_KB_PROVIDER"
	EnvModel           = "GOCONTEXT_KB_MODEL"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
)

// Config holds analysis service configuration
type Config struct {
	Provider  string
	Model     string
	APIKey    string // Falls back to the provider's key variable
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	CacheSize int
}

// NewFromEnv creates a service based on environment variables
// Priority:
// 1. GOCONTEXT_KB_PROVIDER (anthropic, openai, local)
// 2. Check for API keys: ANTHROPIC_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Service, error) {
	return New(Config{
		Provider:  DetectProvider(),
		Model:     os.Getenv(EnvModel),
		RateLimit: DefaultRateLimit,
		Burst:     DefaultBurst,
		CacheSize: DefaultCacheSize,
	})
}

// New creates a service with explicit configuration
func New(cfg Config) (Service, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := HTTPOptions{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		Cache:     cache,
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(opts)
	case ProviderOpenAI:
		return NewOpenAIProvider(opts)
	case ProviderLocal, "":
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvAnthropicAPIKey) != "" {
		return ProviderAnthropic
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
