package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderLocal     = "local"

	// Default models
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultLocalModel     = "outline-v1"

	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultOpenAIBaseURL    = "https://api.openai.com"

	anthropicVersion = "2023-06-01"

	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 512
	DefaultCacheSize = 10000

	// Requests per second shared by all workers; zero disables limiting
	DefaultRateLimit = 5.0
	DefaultBurst     = 2

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// HTTPOptions configures a remote provider
type HTTPOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration // Per call, including retries
	RateLimit float64       // Requests per second
	Burst     int
	MaxTokens int
	Cache     *Cache
	Retry     *RetryConfig
}

// remote holds what the HTTP providers share: client, limiter, cache and retry policy
type remote struct {
	provider   string
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache
	retry      RetryConfig
}

func newRemote(provider, envKey, defaultModel, defaultURL string, opts HTTPOptions) (*remote, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, envKey)
	}

	r := &remote{
		provider:  provider,
		apiKey:    apiKey,
		model:     opts.Model,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
		cache:   opts.Cache,
		retry:   DefaultRetryConfig(),
	}
	if r.model == "" {
		r.model = defaultModel
	}
	if r.baseURL == "" {
		r.baseURL = defaultURL
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxTokens <= 0 {
		r.maxTokens = DefaultMaxTokens
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.Retry != nil {
		r.retry = *opts.Retry
	}
	return r, nil
}

// complete runs one prompt through the cache, the limiter and the retry loop
func (r *remote) complete(ctx context.Context, hash, prompt string, call func(ctx context.Context, prompt string) (string, error)) (*Summary, error) {
	if r.cache != nil {
		if s, ok := r.cache.Get(hash); ok {
			return s, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := retryWithBackoff(ctx, r.retry, func() (string, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return call(ctx, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, r.provider, err)
	}

	s := &Summary{
		Text:     strings.TrimSpace(text),
		Provider: r.provider,
		Model:    r.model,
		Hash:     hash,
	}
	// Empty results are surfaced to the caller but never cached
	if r.cache != nil && s.Text != "" {
		r.cache.Set(hash, s)
	}
	return s, nil
}

// post sends a JSON request and decodes a JSON response. Client errors other
// than 429 are permanent.
func (r *remote) post(ctx context.Context, path string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return permanent(apiErr)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (r *remote) Provider() string { return r.provider }

func (r *remote) Model() string { return r.model }

func (r *remote) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

// AnthropicProvider implements Service using the Anthropic messages API
type AnthropicProvider struct {
	*remote
}

// NewAnthropicProvider creates a new Anthropic analysis service
func NewAnthropicProvider(opts HTTPOptions) (*AnthropicProvider, error) {
	r, err := newRemote(ProviderAnthropic, EnvAnthropicAPIKey, DefaultAnthropicModel, DefaultAnthropicBaseURL, opts)
	if err != nil {
		return nil, err
	}
	return &AnthropicProvider{remote: r}, nil
}

func (a *AnthropicProvider) AnalyzeFile(ctx context.Context, req FileRequest) (*Summary, error) {
	if err := ValidateFileRequest(req); err != nil {
		return nil, err
	}
	return a.complete(ctx, FileRequestHash(a.provider, a.model, req), filePrompt(req), a.callAPI)
}

func (a *AnthropicProvider) BuildDirectoryKnowledge(ctx context.Context, req DirectoryRequest) (*Summary, error) {
	if err := ValidateDirectoryRequest(req); err != nil {
		return nil, err
	}
	return a.complete(ctx, DirectoryRequestHash(a.provider, a.model, req), directoryPrompt(req), a.callAPI)
}

func (a *AnthropicProvider) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":      a.model,
		"max_tokens": a.maxTokens,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var apiResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	if err := a.post(ctx, "/v1/messages", headers, reqBody, &apiResp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// OpenAIProvider implements Service using the OpenAI chat completions API
type OpenAIProvider struct {
	*remote
}

// NewOpenAIProvider creates a new OpenAI analysis service
func NewOpenAIProvider(opts HTTPOptions) (*OpenAIProvider, error) {
	r, err := newRemote(ProviderOpenAI, EnvOpenAIAPIKey, DefaultOpenAIModel, DefaultOpenAIBaseURL, opts)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{remote: r}, nil
}

func (o *OpenAIProvider) AnalyzeFile(ctx context.Context, req FileRequest) (*Summary, error) {
	if err := ValidateFileRequest(req); err != nil {
		return nil, err
	}
	return o.complete(ctx, FileRequestHash(o.provider, o.model, req), filePrompt(req), o.callAPI)
}

func (o *OpenAIProvider) BuildDirectoryKnowledge(ctx context.Context, req DirectoryRequest) (*Summary, error) {
	if err := ValidateDirectoryRequest(req); err != nil {
		return nil, err
	}
	return o.complete(ctx, DirectoryRequestHash(o.provider, o.model, req), directoryPrompt(req), o.callAPI)
}

func (o *OpenAIProvider) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":       o.model,
		"max_tokens":  o.maxTokens,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{
		"Authorization": "Bearer " + o.apiKey,
	}
	if err := o.post(ctx, "/v1/chat/completions", headers, reqBody, &apiResp); err != nil {
		return "", err
	}

	if len(apiResp.Choices) == 0 {
		return "", nil
	}
	return apiResp.Choices[0].Message.Content, nil
}
