package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-kb/internal/plan"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// recorder tracks which tasks ran, in what order and how many at once
type recorder struct {
	mu      sync.Mutex
	order   []string
	running atomic.Int32
	peak    atomic.Int32
}

func (r *recorder) enter(id string) {
	n := r.running.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func (r *recorder) leave() { r.running.Add(-1) }

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// fakeTask is a plan task with scripted behavior
type fakeTask struct {
	plan.Base
	typ    types.TaskType
	rec    *recorder
	err    error
	status types.TaskStatus
	delay  time.Duration
	onRun  func()
}

func newFakeTask(rec *recorder, id string, deps ...string) *fakeTask {
	t := &fakeTask{Base: plan.NewBase(id, "/artifacts/"+id, "/src/"+id), typ: types.TaskAnalyzeFile, rec: rec}
	for _, d := range deps {
		t.AddDependency(d)
	}
	return t
}

func (t *fakeTask) Type() types.TaskType                       { return t.typ }
func (t *fakeTask) CanRunConcurrentlyWith(other plan.Task) bool { return true }

func (t *fakeTask) Execute(ctx context.Context, ec *plan.ExecutionContext) (plan.Outcome, error) {
	t.rec.enter(t.ID())
	defer t.rec.leave()
	if t.onRun != nil {
		t.onRun()
	}
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.err != nil {
		return plan.Outcome{}, t.err
	}
	return plan.Outcome{Status: t.status, Message: "ok"}, nil
}

func buildPlan(t *testing.T, tasks ...*fakeTask) *plan.ExecutionPlan {
	t.Helper()
	list := make([]plan.Task, len(tasks))
	for i, task := range tasks {
		list[i] = task
	}
	p, err := plan.New(list, 0)
	require.NoError(t, err)
	return p
}

func newContext(progress func(string)) *plan.ExecutionContext {
	return plan.NewExecutionContext("/src", nil, nil, progress, nil)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// TestExecute_LevelOrdering verifies a task never starts before every task of
// the previous level finished
func TestExecute_LevelOrdering(t *testing.T) {
	rec := &recorder{}
	a := newFakeTask(rec, "a")
	a.delay = 20 * time.Millisecond
	b := newFakeTask(rec, "b")
	c := newFakeTask(rec, "c", "a", "b")
	c.typ = types.TaskBuildKnowledgeBase
	d := newFakeTask(rec, "d", "c")
	d.typ = types.TaskBuildKnowledgeBase

	res, err := New(WithConcurrency(4)).Execute(context.Background(), buildPlan(t, a, b, c, d), newContext(nil))
	require.NoError(t, err)

	order := rec.ran()
	require.Len(t, order, 4)
	assert.Greater(t, indexOf(order, "c"), indexOf(order, "a"))
	assert.Greater(t, indexOf(order, "c"), indexOf(order, "b"))
	assert.Equal(t, "d", order[3])

	assert.Equal(t, 3, res.LevelsExecuted)
	assert.Equal(t, 2, res.FilesAnalyzed)
	assert.Equal(t, 2, res.KnowledgeBuilt)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1.0, res.SuccessRate())
	assert.False(t, res.EndTime.Before(res.StartTime))
	for _, r := range res.Results {
		if r.TaskID == "d" {
			assert.Equal(t, 2, r.Level)
		}
	}
}

// TestExecute_BoundedConcurrency verifies no more than the configured number
// of tasks run at once
func TestExecute_BoundedConcurrency(t *testing.T) {
	rec := &recorder{}
	var tasks []*fakeTask
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"} {
		task := newFakeTask(rec, id)
		task.delay = 10 * time.Millisecond
		tasks = append(tasks, task)
	}

	res, err := New(WithConcurrency(2)).Execute(context.Background(), buildPlan(t, tasks...), newContext(nil))
	require.NoError(t, err)

	assert.Len(t, rec.ran(), 8)
	assert.LessOrEqual(t, rec.peak.Load(), int32(2))
	assert.Equal(t, 8, res.FilesAnalyzed)
}

// TestExecute_FailureIsRecorded verifies failures are kept as data and
// dependents of a failed task are not run
func TestExecute_FailureIsRecorded(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	a := newFakeTask(rec, "a")
	a.err = &types.AnalysisServiceError{Op: "analyze_file", Path: "/src/a", Err: boom}
	b := newFakeTask(rec, "b")
	parent := newFakeTask(rec, "parent", "a", "b")
	parent.typ = types.TaskBuildKnowledgeBase
	other := newFakeTask(rec, "other", "b")
	other.typ = types.TaskBuildKnowledgeBase

	res, err := New().Execute(context.Background(), buildPlan(t, a, b, parent, other), newContext(nil))
	require.NoError(t, err)

	assert.NotContains(t, rec.ran(), "parent")
	assert.Contains(t, rec.ran(), "other")
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.FilesAnalyzed)
	assert.Equal(t, 1, res.KnowledgeBuilt)
	assert.InDelta(t, 0.5, res.SuccessRate(), 0.001)
	require.Len(t, res.Errors, 2)

	var first types.TaskResult
	for _, r := range res.Results {
		if r.TaskID == "a" {
			first = r
		}
	}
	assert.True(t, errors.Is(first.Err, types.ErrTaskExecution))
	assert.True(t, errors.Is(first.Err, types.ErrAnalysisService))
	assert.True(t, errors.Is(first.Err, boom))

	var te *types.TaskExecutionError
	require.True(t, errors.As(first.Err, &te))
	assert.Equal(t, "a", te.TaskID)
	assert.Equal(t, "/artifacts/a", te.Target)
}

// TestExecute_FailFast verifies no new level starts after a failing level but
// the failing level itself completes
func TestExecute_FailFast(t *testing.T) {
	rec := &recorder{}
	a := newFakeTask(rec, "a")
	a.err = errors.New("boom")
	b := newFakeTask(rec, "b")
	b.delay = 10 * time.Millisecond
	c := newFakeTask(rec, "c", "b")

	res, err := New(WithFailFast(true)).Execute(context.Background(), buildPlan(t, a, b, c), newContext(nil))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, rec.ran())
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 1, res.LevelsExecuted)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Results, 2)
}

// TestExecute_DryRun verifies dry-run traverses every task without executing any
func TestExecute_DryRun(t *testing.T) {
	rec := &recorder{}
	a := newFakeTask(rec, "a")
	b := newFakeTask(rec, "b", "a")
	c := newFakeTask(rec, "c", "b")
	p := buildPlan(t, a, b, c)

	var messages []string
	res, err := New(WithDryRun(true)).Execute(context.Background(), p, newContext(func(m string) {
		messages = append(messages, m)
	}))
	require.NoError(t, err)

	assert.Empty(t, rec.ran())
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.LevelsExecuted)
	require.Len(t, res.Results, 3)
	for i, r := range res.Results {
		assert.Equal(t, types.TaskDryRun, r.Status)
		level, ok := p.LevelOf(r.TaskID)
		require.True(t, ok)
		assert.Equal(t, level, r.Level)
		assert.Equal(t, p.Tasks()[i].ID(), r.TaskID)
	}
	assert.Equal(t, 0, res.FilesAnalyzed)
	assert.Contains(t, messages, "level 1/3: 1 tasks")
	assert.Contains(t, messages, "start a")
	assert.Contains(t, messages, "finish c: dry_run")
}

// TestExecute_Cancellation verifies a cancelled context stops execution at the
// next level boundary
func TestExecute_Cancellation(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newFakeTask(rec, "a")
	a.onRun = cancel
	b := newFakeTask(rec, "b", "a")

	res, err := New().Execute(ctx, buildPlan(t, a, b), newContext(nil))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, []string{"a"}, rec.ran())
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.LevelsExecuted)
	assert.Equal(t, 1, res.FilesAnalyzed)
}

// TestExecute_NoopOutcome verifies task-reported statuses are counted
func TestExecute_NoopOutcome(t *testing.T) {
	rec := &recorder{}
	a := newFakeTask(rec, "a")
	a.typ = types.TaskCleanup
	a.status = types.TaskNoop
	b := newFakeTask(rec, "b")
	b.typ = types.TaskCleanup

	res, err := New().Execute(context.Background(), buildPlan(t, a, b), newContext(nil))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Noops)
	assert.Equal(t, 1, res.OrphansDeleted)
}

// TestExecute_EmptyPlan verifies an empty plan yields an empty result
func TestExecute_EmptyPlan(t *testing.T) {
	p, err := plan.New(nil, 3)
	require.NoError(t, err)

	var messages []string
	res, err := New().Execute(context.Background(), p, newContext(func(m string) {
		messages = append(messages, m)
	}))
	require.NoError(t, err)

	assert.Empty(t, res.Results)
	assert.Equal(t, 0, res.LevelsExecuted)
	assert.Equal(t, 1.0, res.SuccessRate())
	require.Len(t, messages, 1)
	assert.True(t, strings.HasPrefix(messages[0], "done:"))
}

// TestNew_Defaults verifies option handling
func TestNew_Defaults(t *testing.T) {
	e := New(WithConcurrency(0), WithLogger(nil))
	assert.Greater(t, e.Concurrency(), 0)
	assert.False(t, e.DryRun())

	e = New(WithConcurrency(3), WithDryRun(true))
	assert.Equal(t, 3, e.Concurrency())
	assert.True(t, e.DryRun())
}
