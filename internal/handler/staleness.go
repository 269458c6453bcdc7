package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// Policy selects how a cache artifact is compared with its source
type Policy string

const (
	// PolicyAuto trusts matching size and mtime, and hashes only when metadata is ambiguous
	PolicyAuto Policy = "auto"
	// PolicyHash always compares content hashes
	PolicyHash Policy = "hash"
	// PolicyMTime compares size and mtime within Epsilon, never reading content
	PolicyMTime Policy = "mtime"

	// DefaultEpsilon covers the 2s timestamp granularity of FAT-like filesystems
	DefaultEpsilon = 2 * time.Second
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAuto, PolicyHash, PolicyMTime:
		return p, nil
	case "":
		return PolicyAuto, nil
	default:
		return "", fmt.Errorf("unknown staleness policy %q (want auto, hash or mtime)", s)
	}
}

// Comparator decides whether a cache artifact still describes its source.
// The zero value uses PolicyAuto with no epsilon.
type Comparator struct {
	Policy  Policy
	Epsilon time.Duration
}

// DefaultComparator returns the auto policy with DefaultEpsilon
func DefaultComparator() Comparator {
	return Comparator{Policy: PolicyAuto, Epsilon: DefaultEpsilon}
}

// Verdict is the outcome of one comparison
type Verdict struct {
	Stale  bool
	Reason string
}

// Compare checks the artifact record against the current source state.
// A non-nil error means the source could not be read; callers treat that as stale.
func (c Comparator) Compare(sourcePath string, info fs.FileInfo, rec *CacheArtifact) (Verdict, error) {
	sizeMatch := info.Size() == rec.SourceSize
	mtimeMatch := c.withinEpsilon(info.ModTime(), rec.SourceModTime)

	policy := c.Policy
	if policy == "" {
		policy = PolicyAuto
	}
	// Without a recorded hash, metadata is all we have.
	if rec.SourceHash == "" && policy != PolicyMTime {
		policy = PolicyMTime
	}

	switch policy {
	case PolicyMTime:
		return c.metadataVerdict(sizeMatch, mtimeMatch, info, rec), nil

	case PolicyAuto:
		if !sizeMatch {
			return Verdict{Stale: true, Reason: fmt.Sprintf("size changed: %d -> %d bytes", rec.SourceSize, info.Size())}, nil
		}
		if mtimeMatch {
			return Verdict{Reason: "size and mtime match"}, nil
		}
		// Same size, different mtime: ambiguous, content decides.
		return c.hashVerdict(sourcePath, rec, "mtime changed but ")
	}

	if !sizeMatch {
		return Verdict{Stale: true, Reason: fmt.Sprintf("size changed: %d -> %d bytes", rec.SourceSize, info.Size())}, nil
	}
	if !mtimeMatch {
		return c.hashVerdict(sourcePath, rec, "mtime differs, hash authoritative: ")
	}
	return c.hashVerdict(sourcePath, rec, "")
}

func (c Comparator) metadataVerdict(sizeMatch, mtimeMatch bool, info fs.FileInfo, rec *CacheArtifact) Verdict {
	switch {
	case !sizeMatch:
		return Verdict{Stale: true, Reason: fmt.Sprintf("size changed: %d -> %d bytes", rec.SourceSize, info.Size())}
	case !mtimeMatch:
		return Verdict{Stale: true, Reason: fmt.Sprintf("mtime changed by %s (epsilon %s)", info.ModTime().Sub(rec.SourceModTime).Round(time.Millisecond), c.Epsilon)}
	default:
		return Verdict{Reason: fmt.Sprintf("size and mtime match within %s", c.Epsilon)}
	}
}

func (c Comparator) hashVerdict(sourcePath string, rec *CacheArtifact, prefix string) (Verdict, error) {
	hash, err := HashFile(sourcePath)
	if err != nil {
		return Verdict{Stale: true, Reason: "source unreadable: " + err.Error()}, err
	}
	if hash != rec.SourceHash {
		return Verdict{Stale: true, Reason: prefix + "content hash differs"}, nil
	}
	return Verdict{Reason: prefix + "content hash matches"}, nil
}

func (c Comparator) withinEpsilon(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= c.Epsilon
}

// HashFile computes the SHA-256 hex digest of a file
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the content hash in the format HashFile records
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
