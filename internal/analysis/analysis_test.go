package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	cache := NewCache(2)

	cache.Set("a", &Summary{Text: "A"})
	cache.Set("b", &Summary{Text: "B"})
	cache.Set("c", &Summary{Text: "C"})

	assert.Equal(t, 2, cache.Size())
	_, ok := cache.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	got, ok := cache.Get("c")
	require.True(t, ok)
	got.Text = "mutated"

	again, _ := cache.Get("c")
	assert.Equal(t, "C", again.Text, "cache must hand out copies")

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestRequestHashes(t *testing.T) {
	req := FileRequest{RelPath: "a.py", Content: []byte("x = 1\n")}
	h1 := FileRequestHash(ProviderLocal, "m", req)

	assert.Equal(t, h1, FileRequestHash(ProviderLocal, "m", req))
	assert.NotEqual(t, h1, FileRequestHash(ProviderLocal, "m", FileRequest{RelPath: "b.py", Content: req.Content}))
	assert.NotEqual(t, h1, FileRequestHash(ProviderLocal, "other", req))
	assert.Len(t, h1, 64)

	dir := DirectoryRequest{RelPath: "pkg", Children: []ChildSummary{{Name: "a", Summary: "bc"}}}
	shifted := DirectoryRequest{RelPath: "pkg", Children: []ChildSummary{{Name: "ab", Summary: "c"}}}
	assert.NotEqual(t,
		DirectoryRequestHash(ProviderLocal, "m", dir),
		DirectoryRequestHash(ProviderLocal, "m", shifted),
		"field boundaries must be unambiguous")
}

func TestValidateRequests(t *testing.T) {
	assert.ErrorIs(t, ValidateFileRequest(FileRequest{}), ErrInvalidInput)
	assert.NoError(t, ValidateFileRequest(FileRequest{RelPath: "empty.txt"}))

	tests := []struct {
		name string
		req  DirectoryRequest
		ok   bool
	}{
		{"missing path", DirectoryRequest{Children: []ChildSummary{{Name: "a", Summary: "s"}}}, false},
		{"no children", DirectoryRequest{RelPath: "pkg"}, false},
		{"unnamed child", DirectoryRequest{RelPath: "pkg", Children: []ChildSummary{{Summary: "s"}}}, false},
		{"blank summary", DirectoryRequest{RelPath: "pkg", Children: []ChildSummary{{Name: "a", Summary: " \n"}}}, false},
		{"valid", DirectoryRequest{RelPath: "pkg", Children: []ChildSummary{{Name: "a", Summary: "s"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDirectoryRequest(tt.req)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	fast := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient error", func(t *testing.T) {
		calls := 0
		result, err := retryWithBackoff(context.Background(), fast, func() (string, error) {
			calls++
			if calls < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), fast, func() (int, error) {
			calls++
			return 0, fmt.Errorf("error %d", calls)
		})
		assert.EqualError(t, err, "error 3")
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		base := errors.New("bad request")
		calls := 0
		_, err := retryWithBackoff(context.Background(), fast, func() (int, error) {
			calls++
			return 0, permanent(base)
		})
		assert.ErrorIs(t, err, base)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, fast, func() (int, error) {
			calls++
			cancel()
			return 0, errors.New("boom")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
