package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/gocontext-kb/internal/plan"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// Engine executes plans level by level
type Engine struct {
	concurrency int
	dryRun      bool
	failFast    bool
	logger      *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithConcurrency bounds the number of tasks running at once inside a level
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithDryRun traverses the plan without executing any task
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// WithFailFast stops scheduling new levels after the first failing level
func WithFailFast(failFast bool) Option {
	return func(e *Engine) { e.failFast = failFast }
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an execution engine. Concurrency defaults to NumCPU.
func New(opts ...Option) *Engine {
	e := &Engine{
		concurrency: runtime.NumCPU(),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Concurrency returns the per-level task limit
func (e *Engine) Concurrency() int { return e.concurrency }

// DryRun reports whether the engine skips task side effects
func (e *Engine) DryRun() bool { return e.dryRun }

// Execute runs every level of p in order. Task failures are recorded in the
// result, never returned. The returned error is non-nil only when ctx was
// cancelled; the partial result is still returned in that case.
func (e *Engine) Execute(ctx context.Context, p *plan.ExecutionPlan, ec *plan.ExecutionContext) (*types.ExecutionResult, error) {
	result := &types.ExecutionResult{
		DryRun:    e.dryRun,
		StartTime: time.Now(),
	}
	defer func() { result.EndTime = time.Now() }()

	levels := p.Levels()
	failed := make(map[string]bool)

	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			ec.Report("cancelled before level %d/%d", i+1, len(levels))
			e.logger.Warn("execution cancelled", slog.Int("level", i), slog.Any("error", err))
			return result, err
		}
		if e.failFast && result.Failed > 0 {
			result.StoppedEarly = true
			ec.Report("stopping after failures: %d levels not run", len(levels)-i)
			e.logger.Info("fail-fast stopped execution",
				slog.Int("levels_run", i),
				slog.Int("levels_skipped", len(levels)-i))
			break
		}

		ec.Report("level %d/%d: %d tasks", i+1, len(levels), len(level))
		levelStart := time.Now()

		results := e.executeLevel(ctx, i, level, ec, failed)
		for _, r := range results {
			if r.Failed() {
				failed[r.TaskID] = true
			}
			result.Record(r)
		}
		result.LevelsExecuted++

		e.logger.Debug("level complete",
			slog.Int("level", i),
			slog.Int("tasks", len(level)),
			slog.Duration("duration", time.Since(levelStart)))
	}

	ec.Report("done: %d succeeded, %d noop, %d failed",
		result.FilesAnalyzed+result.KnowledgeBuilt+result.OrphansDeleted, result.Noops, result.Failed)
	return result, nil
}

// executeLevel runs one level under the concurrency limit and waits for all of
// it. failed is only read here; the caller updates it between levels.
func (e *Engine) executeLevel(ctx context.Context, index int, level []plan.Task, ec *plan.ExecutionContext, failed map[string]bool) []types.TaskResult {
	results := make([]types.TaskResult, len(level))

	// A plain group: one task's failure must not cancel its peers.
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for j, task := range level {
		g.Go(func() error {
			results[j] = e.runTask(ctx, index, task, ec, failed)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) runTask(ctx context.Context, level int, task plan.Task, ec *plan.ExecutionContext, failed map[string]bool) types.TaskResult {
	res := types.TaskResult{
		TaskID: task.ID(),
		Type:   task.Type(),
		Target: task.Target(),
		Level:  level,
	}

	for _, dep := range task.Dependencies() {
		if failed[dep] {
			res.Status = types.TaskFailed
			res.Err = &types.TaskExecutionError{
				TaskID: task.ID(),
				Target: task.Target(),
				Err:    fmt.Errorf("dependency %s failed", dep),
			}
			res.Message = "not run: dependency failed"
			ec.Report("skip %s: dependency %s failed", task.ID(), dep)
			return res
		}
	}

	ec.Report("start %s", task.ID())
	start := time.Now()

	if e.dryRun {
		res.Status = types.TaskDryRun
		res.Message = "dry run"
	} else {
		out, err := task.Execute(ctx, ec)
		if err != nil {
			res.Status = types.TaskFailed
			res.Err = &types.TaskExecutionError{TaskID: task.ID(), Target: task.Target(), Err: err}
			res.Message = err.Error()
			e.logger.Warn("task failed",
				slog.String("task", task.ID()),
				slog.String("target", task.Target()),
				slog.Any("error", err))
		} else {
			res.Status = out.Status
			if res.Status == "" {
				res.Status = types.TaskSucceeded
			}
			res.Message = out.Message
		}
	}

	res.Duration = time.Since(start)
	ec.Report("finish %s: %s", task.ID(), res.Status)
	e.logger.Debug("task finished",
		slog.String("task", task.ID()),
		slog.String("status", string(res.Status)),
		slog.Duration("duration", res.Duration))
	return res
}
