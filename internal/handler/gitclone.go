package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/gocontext-kb/pkg/types"
)

// TypeGitClone identifies the imported-repository handler
const TypeGitClone = "gitclone"

// GitCloneHandler treats every repository under <root>/<ClonesDir> as an isolated,
// read-only indexable unit. A directory qualifies when it contains a .git entry.
//
// Artifacts live outside the clone, under <root>/<KnowledgeDir>/repos/<name>:
//
//	repos/lib/          -> .knowledge/repos/lib/KNOWLEDGE.md
//	repos/lib/x/y.go    -> .knowledge/repos/lib/x/y.go.analysis.json
//
// The handler never writes inside a clone.
type GitCloneHandler struct {
	opts    Options
	matcher *Matcher
}

// NewGitCloneHandler creates an imported-repository handler
func NewGitCloneHandler(opts Options) *GitCloneHandler {
	opts = opts.withDefaults()
	return &GitCloneHandler{opts: opts, matcher: NewMatcher(opts.IgnoreRules...)}
}

func (g *GitCloneHandler) Type() string { return TypeGitClone }

func (g *GitCloneHandler) clonesRoot(sourceRoot string) string {
	return filepath.Join(sourceRoot, g.opts.ClonesDir)
}

// ArtifactRoot returns the directory holding the per-repository artifact areas
func (g *GitCloneHandler) ArtifactRoot(sourceRoot string) string {
	return filepath.Join(sourceRoot, g.opts.KnowledgeDir, "repos")
}

func (g *GitCloneHandler) unit(sourceRoot, name string) *unit {
	return &unit{
		handlerType: TypeGitClone,
		root:        filepath.Join(g.clonesRoot(sourceRoot), name),
		area:        filepath.Join(g.ArtifactRoot(sourceRoot), name),
		matcher:     g.matcher,
		maxFileSize: g.opts.MaxFileSize,
		comparator:  g.opts.Comparator,
	}
}

// repoName returns the repository a path under the clones directory belongs to
func (g *GitCloneHandler) repoName(sourcePath, sourceRoot string) (string, error) {
	rel, err := filepath.Rel(g.clonesRoot(sourceRoot), sourcePath)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is not inside an imported repository", sourcePath)
	}
	name, _, _ := strings.Cut(rel, "/")
	return name, nil
}

func (g *GitCloneHandler) unitFor(sourcePath, sourceRoot string) (*unit, error) {
	name, err := g.repoName(sourcePath, sourceRoot)
	if err != nil {
		return nil, err
	}
	return g.unit(sourceRoot, name), nil
}

// CanHandle claims paths inside a repository directory under the clones directory
func (g *GitCloneHandler) CanHandle(relPath string) bool {
	rel := normalizeRel(relPath)
	prefix := filepath.ToSlash(g.opts.ClonesDir) + "/"
	if !strings.HasPrefix(rel, prefix) {
		return false
	}
	inRepo := strings.TrimPrefix(rel, prefix)
	if inRepo == "" {
		return false
	}
	_, within, _ := strings.Cut(inRepo, "/")
	return within == "" || !g.matcher.ShouldIgnore(within, false)
}

// repos lists imported repositories, sorted by name
func (g *GitCloneHandler) repos(sourceRoot string) ([]string, error) {
	entries, err := os.ReadDir(g.clonesRoot(sourceRoot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if isClone(filepath.Join(g.clonesRoot(sourceRoot), e.Name())) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isClone(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (g *GitCloneHandler) ScanKnowledgeArea(ctx context.Context, sourceRoot string) ([]*types.KnowledgeFile, error) {
	areaRoot := g.ArtifactRoot(sourceRoot)
	entries, err := os.ReadDir(areaRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &types.DiscoveryError{Handler: TypeGitClone, Path: areaRoot, Err: err}
	}

	var files []*types.KnowledgeFile
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		found, err := g.unit(sourceRoot, e.Name()).scanArea(ctx)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func (g *GitCloneHandler) ScanSourceArea(ctx context.Context, sourceRoot string) ([]types.SourceEntry, error) {
	names, err := g.repos(sourceRoot)
	if err != nil {
		// An unreadable clones directory simply offers no sources.
		return nil, nil
	}
	var entries []types.SourceEntry
	for _, name := range names {
		found, err := g.unit(sourceRoot, name).scanSources(ctx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func (g *GitCloneHandler) ValidateKnowledgeFile(ctx context.Context, kf *types.KnowledgeFile, sourceRoot string) types.ValidationResult {
	u, err := g.unitFor(kf.UnitRoot, sourceRoot)
	if err != nil {
		return types.ValidationResult{Reason: "artifact does not belong to an imported repository: " + err.Error()}
	}
	if _, err := os.Stat(u.root); errors.Is(err, os.ErrNotExist) || !isClone(u.root) {
		source, _ := u.sourceFor(kf)
		return types.ValidationResult{SourcePath: source, Reason: "repository is no longer imported"}
	}
	return u.validate(ctx, kf)
}

func (g *GitCloneHandler) KnowledgePath(sourcePath, sourceRoot string) (string, error) {
	u, err := g.unitFor(sourcePath, sourceRoot)
	if err != nil {
		return "", err
	}
	return u.knowledgePath(sourcePath)
}

func (g *GitCloneHandler) CachePath(sourcePath, sourceRoot string) (string, error) {
	u, err := g.unitFor(sourcePath, sourceRoot)
	if err != nil {
		return "", err
	}
	return u.cachePath(sourcePath)
}

func (g *GitCloneHandler) ParentSource(sourcePath, sourceRoot string) (string, bool) {
	u, err := g.unitFor(sourcePath, sourceRoot)
	if err != nil {
		return "", false
	}
	return u.parent(sourcePath)
}
