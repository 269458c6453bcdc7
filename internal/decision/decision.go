package decision

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dshills/gocontext-kb/internal/discovery"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// Engine turns validated knowledge files and new sources into decisions.
// It performs no I/O: ancestry comes from each handler's path mapping.
type Engine struct {
	registry *handler.Registry
}

// New creates a decision engine
func New(registry *handler.Registry) *Engine {
	return &Engine{registry: registry}
}

type sourceKey struct {
	handlerType string
	path        string
}

// Decide maps every record and new source to exactly one decision, then
// propagates rebuilds up the directory hierarchy.
func (e *Engine) Decide(sourceRoot string, records []discovery.Record, newSources []types.SourceEntry) []types.Decision {
	decisions := make([]types.Decision, 0, len(records)+len(newSources))
	for _, r := range records {
		decisions = append(decisions, fromRecord(r))
	}
	for _, s := range newSources {
		decisions = append(decisions, fromNewSource(s))
	}

	e.propagate(sourceRoot, decisions)
	Sort(decisions)
	return decisions
}

func fromRecord(r discovery.Record) types.Decision {
	kf := r.File
	d := types.Decision{
		File:        kf,
		SourcePath:  kf.SourcePath,
		IsDir:       kf.IsDirectory(),
		HandlerType: kf.HandlerType,
		UnitRoot:    kf.UnitRoot,
	}
	reason := r.Validation.Reason

	switch kf.Status {
	case types.StatusValidFresh:
		d.Action = types.ActionSkip
		d.Reason = "fresh: " + reason
	case types.StatusValidStale:
		if kf.IsDirectory() {
			d.Action = types.ActionRebuildDirectoryKnowledge
		} else {
			d.Action = types.ActionAnalyzeFile
		}
		d.Reason = "stale: " + reason
	default:
		// Unvalidated records are never trusted; removal is re-checked before it happens.
		d.Action = types.ActionDeleteOrphan
		d.Reason = "orphaned: " + reason
	}
	return d
}

func fromNewSource(s types.SourceEntry) types.Decision {
	d := types.Decision{
		SourcePath:  s.Path,
		IsDir:       s.IsDir,
		HandlerType: s.HandlerType,
		UnitRoot:    s.UnitRoot,
	}
	if s.IsDir {
		d.Action = types.ActionRebuildDirectoryKnowledge
		d.Reason = "new directory: no knowledge artifact yet"
	} else {
		d.Action = types.ActionAnalyzeFile
		d.Reason = "new file: no analysis artifact yet"
	}
	return d
}

// propagate turns every skipped ancestor directory of a work decision into a rebuild
func (e *Engine) propagate(sourceRoot string, decisions []types.Decision) {
	dirs := make(map[sourceKey]int)
	for i, d := range decisions {
		if d.IsDir && d.Action != types.ActionDeleteOrphan {
			dirs[sourceKey{d.HandlerType, d.SourcePath}] = i
		}
	}

	// marked holds directories whose ancestry has already been walked; it also
	// terminates walks over handlers whose parent mapping loops.
	marked := make(map[sourceKey]bool)
	for i := range decisions {
		d := decisions[i]
		if !d.RequiresWork() {
			continue
		}
		h, ok := e.registry.Get(d.HandlerType)
		if !ok {
			continue
		}

		cur := d.SourcePath
		for {
			parent, ok := h.ParentSource(cur, sourceRoot)
			if !ok {
				break
			}
			key := sourceKey{d.HandlerType, parent}
			if marked[key] {
				break
			}
			marked[key] = true

			if idx, ok := dirs[key]; ok && decisions[idx].Action == types.ActionSkip {
				decisions[idx].Action = types.ActionRebuildDirectoryKnowledge
				decisions[idx].Reason = "descendant requires re-analysis: " + relTo(sourceRoot, d.SourcePath)
			}
			cur = parent
		}
	}
}

// Sort orders decisions by handler, subject path, then action
func Sort(decisions []types.Decision) {
	sort.SliceStable(decisions, func(i, j int) bool {
		a, b := decisions[i], decisions[j]
		if a.HandlerType != b.HandlerType {
			return a.HandlerType < b.HandlerType
		}
		if sa, sb := subject(a), subject(b); sa != sb {
			return sa < sb
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.ArtifactPath() < b.ArtifactPath()
	})
}

func subject(d types.Decision) string {
	if d.SourcePath != "" {
		return d.SourcePath
	}
	return d.ArtifactPath()
}

// Count tallies decisions per action
func Count(decisions []types.Decision) map[types.Action]int {
	counts := make(map[types.Action]int)
	for _, d := range decisions {
		counts[d.Action]++
	}
	return counts
}

// Validate checks that every decision is well formed
func Validate(decisions []types.Decision) error {
	for _, d := range decisions {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("decision for %s: %w", subject(d), err)
		}
	}
	return nil
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
