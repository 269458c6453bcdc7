package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/gocontext-kb/internal/analysis"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// FileName is the configuration file looked up in the source root
const FileName = ".gocontext-kb.toml"

// Environment variables that override file values
const (
	EnvWorkers      = "GOCONTEXT_KB_WORKERS"
	EnvConcurrency  = "GOCONTEXT_KB_CONCURRENCY"
	EnvFailFast     = "GOCONTEXT_KB_FAIL_FAST"
	EnvDryRun       = "GOCONTEXT_KB_DRY_RUN"
	EnvComparator   = "GOCONTEXT_KB_COMPARATOR"
	EnvMaxFileSize  = "GOCONTEXT_KB_MAX_FILE_SIZE"
	EnvKnowledgeDir = "GOCONTEXT_KB_KNOWLEDGE_DIR"
	EnvProvider     = analysis.EnvProvider
	EnvModel        = analysis.EnvModel
	EnvJournalPath  = "GOCONTEXT_KB_JOURNAL"
	EnvLogLevel     = "GOCONTEXT_KB_LOG_LEVEL"
	EnvLogFormat    = "GOCONTEXT_KB_LOG_FORMAT"
	EnvDebounce     = "GOCONTEXT_KB_DEBOUNCE"
)

// DefaultMaxFileSize keeps generated files and data dumps out of the analysis service
const DefaultMaxFileSize = 1 << 20

// Duration is a time.Duration written as a string ("60s", "500ms") in TOML
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the complete configuration of the indexer and its surfaces
type Config struct {
	Index    IndexConfig    `toml:"index"`
	Analysis AnalysisConfig `toml:"analysis"`
	Journal  JournalConfig  `toml:"journal"`
	Log      LogConfig      `toml:"log"`
	Watch    WatchConfig    `toml:"watch"`
}

// IndexConfig controls discovery, planning and execution
type IndexConfig struct {
	Workers      int      `toml:"workers"`     // Validation workers during discovery
	Concurrency  int      `toml:"concurrency"` // Tasks running at once inside a level
	FailFast     bool     `toml:"fail_fast"`
	DryRun       bool     `toml:"dry_run"`
	Comparator   string   `toml:"comparator"` // auto, hash or mtime
	MTimeEpsilon Duration `toml:"mtime_epsilon"`
	MaxFileSize  int64    `toml:"max_file_size"`
	IgnoreRules  []string `toml:"ignore"`
	KnowledgeDir string   `toml:"knowledge_dir"`
	ClonesDir    string   `toml:"clones_dir"`
	GitClones    bool     `toml:"git_clones"` // Index repositories under ClonesDir as separate units
}

// AnalysisConfig selects and tunes the analysis service
type AnalysisConfig struct {
	Provider  string   `toml:"provider"`
	Model     string   `toml:"model"`
	APIKeyEnv string   `toml:"api_key_env"` // Variable holding the key; empty uses the provider default
	BaseURL   string   `toml:"base_url"`
	Timeout   Duration `toml:"timeout"`
	RateLimit float64  `toml:"rate_limit"` // Requests per second, 0 for unlimited
	Burst     int      `toml:"burst"`
	CacheSize int      `toml:"cache_size"`
}

// JournalConfig controls the run journal
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Relative paths resolve against the source root
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// WatchConfig controls watch mode
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Workers:      runtime.NumCPU(),
			Concurrency:  4,
			Comparator:   string(handler.PolicyAuto),
			MTimeEpsilon: Duration(handler.DefaultEpsilon),
			MaxFileSize:  DefaultMaxFileSize,
			KnowledgeDir: handler.DefaultKnowledgeDir,
			ClonesDir:    handler.DefaultClonesDir,
			GitClones:    true,
		},
		Analysis: AnalysisConfig{
			Provider:  analysis.ProviderLocal,
			Timeout:   Duration(analysis.DefaultTimeout),
			RateLimit: analysis.DefaultRateLimit,
			Burst:     analysis.DefaultBurst,
			CacheSize: analysis.DefaultCacheSize,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(handler.DefaultKnowledgeDir, "journal.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
	}
}

// Load reads the TOML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error when
// path is empty or names the default file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", types.ErrInvalidConfig, path, err)
			}
		case errors.Is(err, os.ErrNotExist) && filepath.Base(path) == FileName:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForRoot loads <root>/.gocontext-kb.toml when present
func LoadForRoot(root string) (*Config, error) {
	return Load(filepath.Join(root, FileName))
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	integer(EnvWorkers, &c.Index.Workers)
	integer(EnvConcurrency, &c.Index.Concurrency)
	boolean(EnvFailFast, &c.Index.FailFast)
	boolean(EnvDryRun, &c.Index.DryRun)
	str(EnvComparator, &c.Index.Comparator)
	str(EnvKnowledgeDir, &c.Index.KnowledgeDir)
	str(EnvProvider, &c.Analysis.Provider)
	str(EnvModel, &c.Analysis.Model)
	str(EnvJournalPath, &c.Journal.Path)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)

	if v, ok := lookup(EnvMaxFileSize); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %v", EnvMaxFileSize, err))
		} else {
			c.Index.MaxFileSize = n
		}
	}
	if v, ok := lookup(EnvDebounce); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %v", EnvDebounce, err))
		} else {
			c.Watch.Debounce = Duration(d)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", types.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks every field and reports all problems at once
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Index.Workers < 1 {
		add("index.workers must be at least 1, got %d", c.Index.Workers)
	}
	if c.Index.Concurrency < 1 {
		add("index.concurrency must be at least 1, got %d", c.Index.Concurrency)
	}
	if _, err := handler.ParsePolicy(c.Index.Comparator); err != nil {
		add("index.comparator: %v", err)
	}
	if c.Index.MTimeEpsilon < 0 {
		add("index.mtime_epsilon must not be negative")
	}
	if c.Index.MaxFileSize < 0 {
		add("index.max_file_size must not be negative")
	}
	if err := checkRelDir(c.Index.KnowledgeDir); err != nil {
		add("index.knowledge_dir: %v", err)
	}
	if err := checkRelDir(c.Index.ClonesDir); err != nil {
		add("index.clones_dir: %v", err)
	}

	switch strings.ToLower(c.Analysis.Provider) {
	case analysis.ProviderLocal, analysis.ProviderAnthropic, analysis.ProviderOpenAI:
	default:
		add("analysis.provider %q is not one of local, anthropic, openai", c.Analysis.Provider)
	}
	if c.Analysis.Timeout <= 0 {
		add("analysis.timeout must be positive")
	}
	if c.Analysis.RateLimit < 0 {
		add("analysis.rate_limit must not be negative")
	}
	if c.Analysis.Burst < 0 {
		add("analysis.burst must not be negative")
	}
	if c.Analysis.CacheSize < 0 {
		add("analysis.cache_size must not be negative")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		add("journal.path is required when the journal is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format %q is not one of text, json", c.Log.Format)
	}

	if c.Watch.Debounce <= 0 {
		add("watch.debounce must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func checkRelDir(dir string) error {
	if dir == "" {
		return errors.New("must not be empty")
	}
	if filepath.IsAbs(dir) {
		return errors.New("must be relative to the source root")
	}
	clean := filepath.Clean(dir)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%q must stay inside the source root", dir)
	}
	return nil
}

// HandlerOptions converts the index section for the handlers
func (c *Config) HandlerOptions() handler.Options {
	policy, _ := handler.ParsePolicy(c.Index.Comparator)
	return handler.Options{
		KnowledgeDir: c.Index.KnowledgeDir,
		ClonesDir:    c.Index.ClonesDir,
		IgnoreRules:  append([]string(nil), c.Index.IgnoreRules...),
		MaxFileSize:  c.Index.MaxFileSize,
		Comparator: handler.Comparator{
			Policy:  policy,
			Epsilon: time.Duration(c.Index.MTimeEpsilon),
		},
	}
}

// AnalysisServiceConfig converts the analysis section, resolving the API key
func (c *Config) AnalysisServiceConfig() analysis.Config {
	cfg := analysis.Config{
		Provider:  strings.ToLower(c.Analysis.Provider),
		Model:     c.Analysis.Model,
		BaseURL:   c.Analysis.BaseURL,
		Timeout:   time.Duration(c.Analysis.Timeout),
		RateLimit: c.Analysis.RateLimit,
		Burst:     c.Analysis.Burst,
		CacheSize: c.Analysis.CacheSize,
	}
	if c.Analysis.APIKeyEnv != "" {
		cfg.APIKey = os.Getenv(c.Analysis.APIKeyEnv)
	}
	return cfg
}

// JournalPath returns the journal location for a source root, or "" when disabled
func (c *Config) JournalPath(root string) string {
	if !c.Journal.Enabled || c.Journal.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.Journal.Path) {
		return c.Journal.Path
	}
	return filepath.Join(root, c.Journal.Path)
}
