package plan

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// Generator turns decisions into an execution plan
type Generator struct {
	handlers  *handler.Registry
	factories *Factories
	logger    *slog.Logger
}

// Option configures a Generator
type Option func(*Generator)

// WithFactories replaces the default task factories
func WithFactories(f *Factories) Option {
	return func(g *Generator) { g.factories = f }
}

// WithLogger sets the generator logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a plan generator over the handlers of a run
func NewGenerator(handlers *handler.Registry, opts ...Option) *Generator {
	g := &Generator{
		handlers:  handlers,
		factories: DefaultFactories(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// node is one decision during plan construction
type node struct {
	decision types.Decision
	handler  handler.Handler
	artifact string
	task     Task
}

// Generate builds the plan. Skip decisions produce no task; a dependency cycle
// returns a *types.DependencyCycleError and no plan.
func (g *Generator) Generate(sourceRoot string, decisions []types.Decision) (*ExecutionPlan, error) {
	nodes := make([]*node, 0, len(decisions))
	for _, d := range decisions {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s decision for %s: %w", d.Action, d.SourcePath, err)
		}
		n := &node{decision: d}
		if h, ok := g.handlers.Get(d.HandlerType); ok {
			n.handler = h
		} else if d.Action != types.ActionDeleteOrphan {
			return nil, fmt.Errorf("no handler registered for type %q (%s)", d.HandlerType, d.SourcePath)
		}
		if d.File != nil {
			n.artifact = d.File.Path
		} else {
			artifact, err := handler.ArtifactPath(n.handler, d.SourcePath, sourceRoot, d.IsDir)
			if err != nil {
				return nil, fmt.Errorf("map %s to an artifact: %w", d.SourcePath, err)
			}
			n.artifact = artifact
		}
		nodes = append(nodes, n)
	}

	children := childrenByParent(nodes, sourceRoot)

	byID := make(map[string]*node)
	var tasks []Task
	skipped := 0
	for _, n := range nodes {
		if n.decision.Action == types.ActionSkip {
			skipped++
			continue
		}
		env := FactoryEnv{SourceRoot: sourceRoot, Handler: n.handler}
		if n.decision.IsDir && n.decision.Action != types.ActionDeleteOrphan {
			env.Children = childRefs(children[parentKey(n.decision.HandlerType, n.decision.SourcePath)])
		}
		task, err := g.factories.Create(n.decision, env)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[task.ID()]; dup {
			return nil, fmt.Errorf("duplicate task %s", task.ID())
		}
		n.task = task
		byID[task.ID()] = n
		tasks = append(tasks, task)
	}

	for _, n := range nodes {
		if n.task == nil || n.decision.Action != types.ActionRebuildDirectoryKnowledge {
			continue
		}
		for _, c := range children[parentKey(n.decision.HandlerType, n.decision.SourcePath)] {
			if c.task != nil && c.decision.RequiresWork() {
				if err := addDependency(n.task, c.task.ID()); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := linkCleanups(nodes); err != nil {
		return nil, err
	}

	p, err := New(tasks, skipped)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("plan generated",
		slog.Int("tasks", p.Len()),
		slog.Int("levels", len(p.levels)),
		slog.Int("skipped", skipped))
	return p, nil
}

func parentKey(handlerType, dir string) string {
	return handlerType + "\x00" + dir
}

// childrenByParent groups every surviving source under its parent directory.
// Deleted artifacts are not children of anything.
func childrenByParent(nodes []*node, sourceRoot string) map[string][]*node {
	children := make(map[string][]*node)
	for _, n := range nodes {
		if n.decision.Action == types.ActionDeleteOrphan || n.handler == nil {
			continue
		}
		parent, ok := n.handler.ParentSource(n.decision.SourcePath, sourceRoot)
		if !ok {
			continue
		}
		key := parentKey(n.decision.HandlerType, parent)
		children[key] = append(children[key], n)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool {
			return filepath.Base(list[i].decision.SourcePath) < filepath.Base(list[j].decision.SourcePath)
		})
	}
	return children
}

func childRefs(nodes []*node) []ChildRef {
	refs := make([]ChildRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, ChildRef{
			Name:     filepath.Base(n.decision.SourcePath),
			IsDir:    n.decision.IsDir,
			Source:   n.decision.SourcePath,
			Artifact: n.artifact,
		})
	}
	return refs
}

// linkCleanups makes the cleanup of an orphaned knowledge artifact wait for the
// cleanups of its direct children in the artifact tree: cache artifacts next to
// it and knowledge artifacts one directory below.
func linkCleanups(nodes []*node) error {
	byDir := make(map[string][]*node)
	knowledgeByGrandparent := make(map[string][]*node)
	var knowledge []*node
	for _, n := range nodes {
		if n.task == nil || n.decision.Action != types.ActionDeleteOrphan {
			continue
		}
		dir := filepath.Dir(n.artifact)
		if n.decision.File.IsDirectory() {
			knowledge = append(knowledge, n)
			knowledgeByGrandparent[filepath.Dir(dir)] = append(knowledgeByGrandparent[filepath.Dir(dir)], n)
			continue
		}
		byDir[dir] = append(byDir[dir], n)
	}

	for _, k := range knowledge {
		dir := filepath.Dir(k.artifact)
		for _, c := range byDir[dir] {
			if err := addDependency(k.task, c.task.ID()); err != nil {
				return err
			}
		}
		for _, c := range knowledgeByGrandparent[dir] {
			if err := addDependency(k.task, c.task.ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func addDependency(t Task, id string) error {
	d, ok := t.(Dependent)
	if !ok {
		return fmt.Errorf("task %s does not accept dependencies", t.ID())
	}
	d.AddDependency(id)
	return nil
}
