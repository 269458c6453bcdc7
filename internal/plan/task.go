package plan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/gocontext-kb/internal/analysis"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// Task is one atomic unit of work in an execution plan
type Task interface {
	ID() string
	Type() types.TaskType

	// Target is the artifact path the task writes or removes
	Target() string

	// Source is the source path the task reads, empty for cleanups
	Source() string

	// Dependencies returns the IDs of tasks that must finish first, sorted
	Dependencies() []string

	Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error)

	// CanRunConcurrentlyWith reports whether both tasks may share a level
	CanRunConcurrentlyWith(other Task) bool
}

// Dependent is implemented by tasks whose dependencies are wired by the generator
type Dependent interface {
	AddDependency(id string)
}

// Outcome is what a task reports on success
type Outcome struct {
	Status  types.TaskStatus
	Message string
}

// Base carries the identity every task variant shares. Embed it by value.
type Base struct {
	id     string
	target string
	source string
	deps   []string
}

// NewBase creates the shared part of a task
func NewBase(id, target, source string) Base {
	return Base{id: id, target: target, source: source}
}

func (b *Base) ID() string     { return b.id }
func (b *Base) Target() string { return b.target }
func (b *Base) Source() string { return b.source }

func (b *Base) Dependencies() []string {
	deps := append([]string(nil), b.deps...)
	sort.Strings(deps)
	return deps
}

// AddDependency records a prerequisite; duplicates are ignored
func (b *Base) AddDependency(id string) {
	for _, d := range b.deps {
		if d == id {
			return
		}
	}
	b.deps = append(b.deps, id)
}

// conflicts reports whether two tasks must not run at the same time: they share
// a target, or one is a cleanup whose pruning may remove the directory the other
// writes into. Cleanups never conflict with each other; pruning skips
// directories that are not empty or already gone.
func conflicts(a, b Task) bool {
	if a.Target() == b.Target() {
		return true
	}
	return prunes(a, b) || prunes(b, a)
}

// prunes reports whether cleanup t may remove the directory writer w writes into.
// Only the cleanup's parent directory and its ancestors below the prune stop
// are candidates.
func prunes(t, w Task) bool {
	c, ok := t.(*CleanupTask)
	if !ok || w.Type() == types.TaskCleanup {
		return false
	}
	dir := filepath.Dir(w.Target())
	if c.pruneStop != "" && !strings.HasPrefix(dir, c.pruneStop+string(filepath.Separator)) {
		return false
	}
	parent := filepath.Dir(c.Target())
	return dir == parent || strings.HasPrefix(parent, dir+string(filepath.Separator))
}

// ExecutionContext is shared by every task of one run. The scratch map lets a
// directory task pick up summaries its children produced in earlier levels.
type ExecutionContext struct {
	SourceRoot string
	Progress   func(string)
	Analysis   analysis.Service
	Handlers   *handler.Registry
	Logger     *slog.Logger

	mu      sync.Mutex
	scratch map[string]string

	progressMu sync.Mutex
}

// NewExecutionContext creates the per-run context. A nil logger discards output.
func NewExecutionContext(sourceRoot string, svc analysis.Service, handlers *handler.Registry, progress func(string), logger *slog.Logger) *ExecutionContext {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecutionContext{
		SourceRoot: sourceRoot,
		Progress:   progress,
		Analysis:   svc,
		Handlers:   handlers,
		Logger:     logger,
		scratch:    make(map[string]string),
	}
}

// Store records a value produced by a task, keyed by artifact path
func (c *ExecutionContext) Store(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scratch == nil {
		c.scratch = make(map[string]string)
	}
	c.scratch[key] = value
}

// Load returns a value stored earlier in the run
func (c *ExecutionContext) Load(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.scratch[key]
	return v, ok
}

// Report sends a progress message when a callback is installed. Calls are
// serialized so the callback never runs concurrently with itself.
func (c *ExecutionContext) Report(format string, args ...any) {
	if c.Progress == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.Progress(msg)
}
