package handler

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dshills/gocontext-kb/pkg/types"
)

const (
	// TypeProject identifies the whole-project handler
	TypeProject = "project"

	// DefaultKnowledgeDir is the artifact root, relative to the source root
	DefaultKnowledgeDir = ".knowledge"
	// DefaultClonesDir holds imported repositories, relative to the source root
	DefaultClonesDir = "repos"
)

// Options configures the concrete handlers
type Options struct {
	KnowledgeDir string   // Relative to the source root (default ".knowledge")
	ClonesDir    string   // Relative to the source root (default "repos")
	ClonesOwned  bool     // A GitCloneHandler indexes ClonesDir, so the project skips it
	IgnoreRules  []string // Gitignore-like rules added after DefaultIgnoreRules
	MaxFileSize  int64    // Files above this size are not analyzed; 0 disables the limit
	Comparator   Comparator
}

func (o Options) withDefaults() Options {
	if o.KnowledgeDir == "" {
		o.KnowledgeDir = DefaultKnowledgeDir
	}
	if o.ClonesDir == "" {
		o.ClonesDir = DefaultClonesDir
	}
	if o.Comparator.Policy == "" {
		o.Comparator.Policy = PolicyAuto
	}
	return o
}

// ProjectHandler treats the whole source tree as one indexable unit.
//
// Artifacts mirror the tree under <root>/<KnowledgeDir>/project:
//
//	pkg/          -> .knowledge/project/pkg/KNOWLEDGE.md
//	pkg/a.py      -> .knowledge/project/pkg/a.py.analysis.json
//
// The knowledge directory and the clones directory are never indexed by this handler.
type ProjectHandler struct {
	opts    Options
	matcher *Matcher
}

// NewProjectHandler creates a project handler
func NewProjectHandler(opts Options) *ProjectHandler {
	opts = opts.withDefaults()
	rules := []string{"/" + filepath.ToSlash(opts.KnowledgeDir) + "/"}
	if opts.ClonesOwned {
		rules = append(rules, "/"+filepath.ToSlash(opts.ClonesDir)+"/")
	}
	rules = append(rules, opts.IgnoreRules...)
	return &ProjectHandler{opts: opts, matcher: NewMatcher(rules...)}
}

func (p *ProjectHandler) Type() string { return TypeProject }

func (p *ProjectHandler) unit(sourceRoot string) *unit {
	return &unit{
		handlerType: TypeProject,
		root:        filepath.Clean(sourceRoot),
		area:        filepath.Join(sourceRoot, p.opts.KnowledgeDir, TypeProject),
		matcher:     p.matcher,
		maxFileSize: p.opts.MaxFileSize,
		comparator:  p.opts.Comparator,
	}
}

// CanHandle claims every non-ignored path outside the knowledge and clones directories
func (p *ProjectHandler) CanHandle(relPath string) bool {
	rel := normalizeRel(relPath)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	if rel == "" || rel == "." {
		return true
	}
	return !p.matcher.ShouldIgnore(rel, false)
}

func (p *ProjectHandler) ScanKnowledgeArea(ctx context.Context, sourceRoot string) ([]*types.KnowledgeFile, error) {
	return p.unit(sourceRoot).scanArea(ctx)
}

func (p *ProjectHandler) ScanSourceArea(ctx context.Context, sourceRoot string) ([]types.SourceEntry, error) {
	return p.unit(sourceRoot).scanSources(ctx)
}

func (p *ProjectHandler) ValidateKnowledgeFile(ctx context.Context, kf *types.KnowledgeFile, sourceRoot string) types.ValidationResult {
	return p.unit(sourceRoot).validate(ctx, kf)
}

func (p *ProjectHandler) KnowledgePath(sourcePath, sourceRoot string) (string, error) {
	return p.unit(sourceRoot).knowledgePath(sourcePath)
}

func (p *ProjectHandler) CachePath(sourcePath, sourceRoot string) (string, error) {
	return p.unit(sourceRoot).cachePath(sourcePath)
}

func (p *ProjectHandler) ParentSource(sourcePath, sourceRoot string) (string, bool) {
	return p.unit(sourceRoot).parent(sourcePath)
}

// ArtifactRoot returns the directory holding this handler's artifacts
func (p *ProjectHandler) ArtifactRoot(sourceRoot string) string {
	return p.unit(sourceRoot).area
}
