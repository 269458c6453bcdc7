package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/gocontext-kb/internal/analysis"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// AnalyzeFileTask (re)generates the cache artifact of one source file
type AnalyzeFileTask struct {
	Base
	unitRoot string
}

// NewAnalyzeFileTask creates an analysis task writing target from source
func NewAnalyzeFileTask(id, source, target, unitRoot string) *AnalyzeFileTask {
	return &AnalyzeFileTask{Base: NewBase(id, target, source), unitRoot: unitRoot}
}

func (t *AnalyzeFileTask) Type() types.TaskType { return types.TaskAnalyzeFile }

func (t *AnalyzeFileTask) CanRunConcurrentlyWith(other Task) bool { return !conflicts(t, other) }

func (t *AnalyzeFileTask) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	rel := unitRel(t.unitRoot, t.source)

	// Stat before reading so a concurrent edit leaves the record older than the file.
	info, err := os.Stat(t.source)
	if err != nil {
		return Outcome{}, fmt.Errorf("stat source: %w", err)
	}
	content, err := os.ReadFile(t.source)
	if err != nil {
		return Outcome{}, fmt.Errorf("read source: %w", err)
	}

	sum, err := ec.Analysis.AnalyzeFile(ctx, analysis.FileRequest{Path: t.source, RelPath: rel, Content: content})
	if err != nil {
		return Outcome{}, &types.AnalysisServiceError{Op: "analyze_file", Path: t.source, Err: err}
	}
	if sum == nil || strings.TrimSpace(sum.Text) == "" {
		return Outcome{}, &types.AnalysisServiceError{Op: "analyze_file", Path: t.source, Err: types.ErrEmptySummary}
	}

	artifact := &handler.CacheArtifact{
		SourcePath:    rel,
		SourceSize:    info.Size(),
		SourceModTime: info.ModTime(),
		SourceHash:    handler.HashBytes(content),
		Provider:      sum.Provider,
		Model:         sum.Model,
		GeneratedAt:   time.Now().UTC(),
		Summary:       sum.Text,
	}
	if err := handler.WriteCacheArtifact(t.target, artifact); err != nil {
		return Outcome{}, err
	}
	ec.Store(t.target, sum.Text)

	return Outcome{Status: types.TaskSucceeded, Message: fmt.Sprintf("analyzed %s (%d bytes)", rel, len(content))}, nil
}

// ChildRef is a direct child that takes part in a directory synthesis
type ChildRef struct {
	Name     string
	IsDir    bool
	Source   string
	Artifact string
}

// BuildKnowledgeBaseTask (re)builds the knowledge artifact of one directory
type BuildKnowledgeBaseTask struct {
	Base
	unitRoot string
	children []ChildRef
}

// NewBuildKnowledgeBaseTask creates a synthesis task; children must be sorted by name
func NewBuildKnowledgeBaseTask(id, source, target, unitRoot string, children []ChildRef) *BuildKnowledgeBaseTask {
	return &BuildKnowledgeBaseTask{
		Base:     NewBase(id, target, source),
		unitRoot: unitRoot,
		children: append([]ChildRef(nil), children...),
	}
}

func (t *BuildKnowledgeBaseTask) Type() types.TaskType { return types.TaskBuildKnowledgeBase }

func (t *BuildKnowledgeBaseTask) CanRunConcurrentlyWith(other Task) bool { return !conflicts(t, other) }

// Children returns the synthesis inputs
func (t *BuildKnowledgeBaseTask) Children() []ChildRef {
	return append([]ChildRef(nil), t.children...)
}

func (t *BuildKnowledgeBaseTask) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	rel := unitRel(t.unitRoot, t.source)
	if len(t.children) == 0 {
		return Outcome{}, fmt.Errorf("directory %s has no indexable children", rel)
	}

	req := analysis.DirectoryRequest{Path: t.source, RelPath: rel}
	names := make([]string, 0, len(t.children))
	for _, c := range t.children {
		summary, err := childSummary(ec, c)
		if err != nil {
			return Outcome{}, err
		}
		req.Children = append(req.Children, analysis.ChildSummary{Name: c.Name, IsDir: c.IsDir, Summary: summary})

		name := c.Name
		if c.IsDir {
			name += "/"
		}
		names = append(names, name)
	}

	sum, err := ec.Analysis.BuildDirectoryKnowledge(ctx, req)
	if err != nil {
		return Outcome{}, &types.AnalysisServiceError{Op: "build_directory_knowledge", Path: t.source, Err: err}
	}
	if sum == nil || strings.TrimSpace(sum.Text) == "" {
		return Outcome{}, &types.AnalysisServiceError{Op: "build_directory_knowledge", Path: t.source, Err: types.ErrEmptySummary}
	}

	artifact := &handler.KnowledgeArtifact{
		SourceDir:   rel,
		Children:    names,
		Provider:    sum.Provider,
		Model:       sum.Model,
		GeneratedAt: time.Now().UTC(),
		Body:        sum.Text,
	}
	if err := handler.WriteKnowledgeArtifact(t.target, artifact); err != nil {
		return Outcome{}, err
	}
	ec.Store(t.target, sum.Text)

	return Outcome{Status: types.TaskSucceeded, Message: fmt.Sprintf("built %s from %d children", rel, len(names))}, nil
}

// childSummary prefers the summary produced earlier in this run, then the artifact on disk
func childSummary(ec *ExecutionContext, c ChildRef) (string, error) {
	if s, ok := ec.Load(c.Artifact); ok {
		return s, nil
	}
	if c.IsDir {
		a, err := handler.ReadKnowledgeArtifact(c.Artifact)
		if err != nil {
			return "", fmt.Errorf("read child knowledge %s: %w", c.Name, err)
		}
		return a.Body, nil
	}
	a, err := handler.ReadCacheArtifact(c.Artifact)
	if err != nil {
		return "", fmt.Errorf("read child analysis %s: %w", c.Name, err)
	}
	return a.Summary, nil
}

// CleanupTask removes an orphaned artifact after re-checking its source
type CleanupTask struct {
	Base
	file      types.KnowledgeFile
	pruneStop string // Empty directories are pruned up to, not including, this one
}

// NewCleanupTask creates a cleanup task for an orphaned artifact
func NewCleanupTask(id string, file types.KnowledgeFile) *CleanupTask {
	return &CleanupTask{Base: NewBase(id, file.Path, ""), file: file}
}

func (t *CleanupTask) Type() types.TaskType { return types.TaskCleanup }

func (t *CleanupTask) CanRunConcurrentlyWith(other Task) bool { return !conflicts(t, other) }

// artifactRooted is implemented by handlers that know where their storage area starts
type artifactRooted interface {
	ArtifactRoot(sourceRoot string) string
}

func (t *CleanupTask) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	h, ok := ec.Handlers.Get(t.file.HandlerType)
	if !ok {
		return Outcome{}, fmt.Errorf("no handler registered for type %q", t.file.HandlerType)
	}

	// The plan may be stale by now: the source can have reappeared since discovery.
	kf := t.file
	kf.Status = types.StatusOrphaned
	kf.SourcePath = ""
	res := h.ValidateKnowledgeFile(ctx, &kf, ec.SourceRoot)
	if res.SourceExists {
		return Outcome{Status: types.TaskNoop, Message: "source exists again: " + res.SourcePath}, nil
	}

	stopAt := t.pruneStop
	if stopAt == "" {
		stopAt = filepath.Dir(t.target)
		if ar, ok := h.(artifactRooted); ok {
			stopAt = ar.ArtifactRoot(ec.SourceRoot)
		}
	}
	if err := handler.RemoveArtifact(t.target, stopAt); err != nil {
		return Outcome{}, fmt.Errorf("remove artifact: %w", err)
	}

	msg := "removed orphaned artifact"
	if res.Reason != "" {
		msg += ": " + res.Reason
	}
	return Outcome{Status: types.TaskSucceeded, Message: msg}, nil
}

func unitRel(unitRoot, path string) string {
	if unitRoot == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(unitRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
