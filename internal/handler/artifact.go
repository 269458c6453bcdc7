package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// KnowledgeFileName is the per-directory synthesis artifact
	KnowledgeFileName = "KNOWLEDGE.md"
	// CacheSuffix is appended to a source file name to form its analysis artifact
	CacheSuffix = ".analysis.json"

	frontMatterDelim = "---"
)

// ErrMalformedArtifact is returned when an artifact cannot be decoded
var ErrMalformedArtifact = errors.New("malformed artifact")

// CacheArtifact is the per-file analysis written next to its mirrored location
type CacheArtifact struct {
	SourcePath    string    `json:"source_path"` // Relative to the unit root, slash separated
	SourceSize    int64     `json:"source_size"`
	SourceModTime time.Time `json:"source_mod_time"`
	SourceHash    string    `json:"source_hash,omitempty"` // SHA-256 hex; empty when unknown
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
	Summary       string    `json:"summary"`
}

// KnowledgeArtifact is the per-directory synthesis: YAML front matter plus markdown body
type KnowledgeArtifact struct {
	SourceDir   string    `yaml:"source_dir"`
	Children    []string  `yaml:"children"`
	Provider    string    `yaml:"provider,omitempty"`
	Model       string    `yaml:"model,omitempty"`
	GeneratedAt time.Time `yaml:"generated_at"`

	Body string `yaml:"-"`
}

// ReadCacheArtifact decodes a cache artifact
func ReadCacheArtifact(path string) (*CacheArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a CacheArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArtifact, path, err)
	}
	return &a, nil
}

// WriteCacheArtifact atomically writes a cache artifact, creating parent directories
func WriteCacheArtifact(path string, a *CacheArtifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache artifact: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// ReadKnowledgeArtifact decodes a knowledge artifact
func ReadKnowledgeArtifact(path string) (*KnowledgeArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeKnowledge(path, data)
}

func decodeKnowledge(path string, data []byte) (*KnowledgeArtifact, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, fmt.Errorf("%w: %s: missing front matter", ErrMalformedArtifact, path)
	}
	// Keep the newline after the opening delimiter so empty front matter still matches.
	rest := text[len(frontMatterDelim):]
	closing := "\n" + frontMatterDelim + "\n"
	end := strings.Index(rest, closing)
	if end < 0 {
		return nil, fmt.Errorf("%w: %s: unterminated front matter", ErrMalformedArtifact, path)
	}

	var a KnowledgeArtifact
	if end > 0 {
		if err := yaml.Unmarshal([]byte(rest[1:end+1]), &a); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArtifact, path, err)
		}
	}
	a.Body = strings.TrimPrefix(rest[end+len(closing):], "\n")
	return &a, nil
}

// WriteKnowledgeArtifact atomically writes a knowledge artifact, creating parent directories
func WriteKnowledgeArtifact(path string, a *KnowledgeArtifact) error {
	meta, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal knowledge front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(meta)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(a.Body)
	if !strings.HasSuffix(a.Body, "\n") {
		buf.WriteByte('\n')
	}
	return writeAtomic(path, buf.Bytes())
}

// RemoveArtifact deletes an artifact and then prunes empty parent directories up to stopAt
func RemoveArtifact(path, stopAt string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	stopAt = filepath.Clean(stopAt)
	for dir := filepath.Dir(path); dir != stopAt && strings.HasPrefix(dir, stopAt+string(filepath.Separator)); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in the destination directory and renames it into place
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	var tmp *os.File
	var err error
	// A concurrent RemoveArtifact may prune a freshly created empty directory; retry once.
	for attempt := 0; attempt < 2; attempt++ {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create artifact directory: %w", err)
		}
		tmp, err = os.CreateTemp(dir, ".tmp-*")
		if !os.IsNotExist(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
