package plan

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

var errNoFactory = errors.New("no task factory registered")

// FactoryEnv is what a factory may consult besides the decision itself
type FactoryEnv struct {
	SourceRoot string
	Handler    handler.Handler
	Children   []ChildRef // Directory decisions only, sorted by name
}

// TaskFactory turns one decision into a task
type TaskFactory func(d types.Decision, env FactoryEnv) (Task, error)

// Factories maps decision actions to task factories. Adding a task variant is
// one Task implementation plus one Register call.
type Factories struct {
	byAction map[types.Action]TaskFactory
}

// NewFactories returns an empty factory registry
func NewFactories() *Factories {
	return &Factories{byAction: make(map[types.Action]TaskFactory)}
}

// DefaultFactories registers the analyze, build and cleanup factories
func DefaultFactories() *Factories {
	f := NewFactories()
	f.Register(types.ActionAnalyzeFile, newAnalyzeFileTask)
	f.Register(types.ActionRebuildDirectoryKnowledge, newBuildKnowledgeBaseTask)
	f.Register(types.ActionDeleteOrphan, newCleanupTask)
	return f
}

// Register installs or replaces the factory for an action
func (f *Factories) Register(action types.Action, factory TaskFactory) {
	f.byAction[action] = factory
}

// Create builds the task for a decision
func (f *Factories) Create(d types.Decision, env FactoryEnv) (Task, error) {
	factory, ok := f.byAction[d.Action]
	if !ok {
		return nil, fmt.Errorf("%w for action %q", errNoFactory, d.Action)
	}
	return factory(d, env)
}

// TaskID derives the stable identifier of the task for a decision
func TaskID(d types.Decision, sourceRoot string) string {
	switch d.Action {
	case types.ActionAnalyzeFile:
		return fmt.Sprintf("analyze:%s:%s", d.HandlerType, relTo(sourceRoot, d.SourcePath))
	case types.ActionRebuildDirectoryKnowledge:
		return fmt.Sprintf("build:%s:%s", d.HandlerType, relTo(sourceRoot, d.SourcePath))
	case types.ActionDeleteOrphan:
		return fmt.Sprintf("cleanup:%s:%s", d.HandlerType, relTo(sourceRoot, d.ArtifactPath()))
	}
	return fmt.Sprintf("%s:%s:%s", d.Action, d.HandlerType, relTo(sourceRoot, d.SourcePath))
}

func newAnalyzeFileTask(d types.Decision, env FactoryEnv) (Task, error) {
	target, err := decisionTarget(d, env)
	if err != nil {
		return nil, err
	}
	return NewAnalyzeFileTask(TaskID(d, env.SourceRoot), d.SourcePath, target, unitRootOf(d, env)), nil
}

func newBuildKnowledgeBaseTask(d types.Decision, env FactoryEnv) (Task, error) {
	target, err := decisionTarget(d, env)
	if err != nil {
		return nil, err
	}
	return NewBuildKnowledgeBaseTask(TaskID(d, env.SourceRoot), d.SourcePath, target, unitRootOf(d, env), env.Children), nil
}

func newCleanupTask(d types.Decision, env FactoryEnv) (Task, error) {
	if d.File == nil {
		return nil, fmt.Errorf("cleanup decision for %s has no artifact", d.SourcePath)
	}
	t := NewCleanupTask(TaskID(d, env.SourceRoot), *d.File)
	if ar, ok := env.Handler.(artifactRooted); ok {
		t.pruneStop = filepath.Clean(ar.ArtifactRoot(env.SourceRoot))
	}
	return t, nil
}

// decisionTarget returns the existing artifact or the one the handler maps the source to
func decisionTarget(d types.Decision, env FactoryEnv) (string, error) {
	if d.File != nil {
		return d.File.Path, nil
	}
	if env.Handler == nil {
		return "", fmt.Errorf("no handler for %s", d.SourcePath)
	}
	return handler.ArtifactPath(env.Handler, d.SourcePath, env.SourceRoot, d.IsDir)
}

func unitRootOf(d types.Decision, env FactoryEnv) string {
	if d.UnitRoot != "" {
		return d.UnitRoot
	}
	return env.SourceRoot
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
