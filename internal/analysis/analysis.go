package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderFailed      = errors.New("analysis provider failed")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrNoProviderEnabled   = errors.New("no analysis provider configured")
)

// Summary is the text an analysis service produced for one file or directory
type Summary struct {
	Text     string
	Provider string
	Model    string
	Hash     string // Request hash, used as the cache key
}

// FileRequest asks for the analysis of one source file
type FileRequest struct {
	Path    string // Absolute path, for diagnostics
	RelPath string // Slash-separated path relative to the indexable unit
	Content []byte
}

// ChildSummary is an already-resolved child of a directory
type ChildSummary struct {
	Name    string
	IsDir   bool
	Summary string
}

// DirectoryRequest asks for the synthesis of one directory from its children
type DirectoryRequest struct {
	Path     string
	RelPath  string
	Children []ChildSummary // Sorted by name
}

// Service generates summaries. Implementations must be safe for concurrent use,
// return the same summary for identical input, and report failures as errors
// rather than empty summaries.
type Service interface {
	// AnalyzeFile summarizes one source file
	AnalyzeFile(ctx context.Context, req FileRequest) (*Summary, error)

	// BuildDirectoryKnowledge synthesizes a directory from its children's summaries
	BuildDirectoryKnowledge(ctx context.Context, req DirectoryRequest) (*Summary, error)

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the service
	Close() error
}

// Cache provides in-memory LRU caching of summaries by request hash
type Cache struct {
	cache *lru.Cache[string, Summary]
}

// NewCache creates a new summary cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, Summary](maxLen)
	if err != nil {
		cache, _ = lru.New[string, Summary](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get retrieves a copy of a cached summary
func (c *Cache) Get(hash string) (*Summary, bool) {
	s, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return &s, true
}

// Set stores a summary in cache with automatic LRU eviction
func (c *Cache) Set(hash string, s *Summary) {
	c.cache.Add(hash, *s)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// FileRequestHash identifies a file request by path and content
func FileRequestHash(provider, model string, req FileRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "file\x00%s\x00%s\x00%s\x00", provider, model, req.RelPath)
	h.Write(req.Content)
	return hex.EncodeToString(h.Sum(nil))
}

// DirectoryRequestHash identifies a directory request by path and child summaries
func DirectoryRequestHash(provider, model string, req DirectoryRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "dir\x00%s\x00%s\x00%s\x00", provider, model, req.RelPath)
	for _, c := range req.Children {
		fmt.Fprintf(h, "%s\x00%t\x00%d\x00%s\x00", c.Name, c.IsDir, len(c.Summary), c.Summary)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateFileRequest validates a file request
func ValidateFileRequest(req FileRequest) error {
	if req.RelPath == "" {
		return fmt.Errorf("%w: relative path is required", ErrInvalidInput)
	}
	return nil
}

// ValidateDirectoryRequest validates a directory request
func ValidateDirectoryRequest(req DirectoryRequest) error {
	if req.RelPath == "" {
		return fmt.Errorf("%w: relative path is required", ErrInvalidInput)
	}
	if len(req.Children) == 0 {
		return fmt.Errorf("%w: directory %s has no children", ErrInvalidInput, req.RelPath)
	}
	for i, c := range req.Children {
		if c.Name == "" {
			return fmt.Errorf("%w: child at index %d has no name", ErrInvalidInput, i)
		}
		if strings.TrimSpace(c.Summary) == "" {
			return fmt.Errorf("%w: child %s has an empty summary", ErrInvalidInput, c.Name)
		}
	}
	return nil
}
