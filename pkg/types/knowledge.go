package types

import "errors"

// FileType distinguishes human-facing directory syntheses from per-file analyses
type FileType string

const (
	FileTypeKnowledge FileType = "knowledge"
	FileTypeCache     FileType = "cache"
)

// Status is the validation state of a knowledge artifact
type Status string

const (
	// StatusOrphaned is the provisional status assigned during knowledge-area scanning
	StatusOrphaned          Status = "orphaned"
	StatusValidFresh        Status = "valid_fresh"
	StatusValidStale        Status = "valid_stale"
	StatusConfirmedOrphaned Status = "confirmed_orphaned"
)

// IsTerminal reports whether the status was assigned by source validation
func (s Status) IsTerminal() bool {
	switch s {
	case StatusValidFresh, StatusValidStale, StatusConfirmedOrphaned:
		return true
	default:
		return false
	}
}

// KnowledgeFile pairs one artifact (existing or prospective) with its source
type KnowledgeFile struct {
	Path        string // Absolute artifact path
	HandlerType string
	FileType    FileType
	SourcePath  string // Empty until source validation resolves it
	Status      Status

	// UnitRoot is the root of the indexable unit (project root or clone root)
	UnitRoot string
}

// IsDirectory reports whether the artifact mirrors a source directory
func (kf *KnowledgeFile) IsDirectory() bool {
	return kf.FileType == FileTypeKnowledge
}

// Validate checks the record is well formed
func (kf *KnowledgeFile) Validate() error {
	if kf.Path == "" {
		return errors.New("artifact path is required")
	}
	if kf.HandlerType == "" {
		return errors.New("handler type is required")
	}
	switch kf.FileType {
	case FileTypeKnowledge, FileTypeCache:
	default:
		return errors.New("invalid file type")
	}
	switch kf.Status {
	case StatusOrphaned, StatusValidFresh, StatusValidStale, StatusConfirmedOrphaned:
	default:
		return errors.New("invalid status")
	}
	return nil
}

// ValidationResult is the outcome of resolving one artifact against the source tree
type ValidationResult struct {
	SourceExists bool
	SourcePath   string
	IsStale      bool
	Reason       string

	// Err is set when the source could not be read; the record is then treated as stale
	Err error
}

// Status maps the validation outcome onto a terminal status
func (vr ValidationResult) Status() Status {
	switch {
	case !vr.SourceExists:
		return StatusConfirmedOrphaned
	case vr.IsStale || vr.Err != nil:
		return StatusValidStale
	default:
		return StatusValidFresh
	}
}

// SourceEntry is an indexable source file or directory found by walking a unit
type SourceEntry struct {
	Path        string
	IsDir       bool
	HandlerType string
	UnitRoot    string
}
