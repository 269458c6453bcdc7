package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-kb/pkg/types"
)

func setupTestJournal(t *testing.T) *SQLiteJournal {
	// Use in-memory database for testing
	j, err := NewSQLiteJournal(":memory:")
	require.NoError(t, err)
	require.NotNil(t, j)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func testRun(id, root string, started time.Time) *Run {
	return &Run{
		ID:          id,
		Root:        root,
		StartedAt:   started,
		FinishedAt:  started.Add(1500 * time.Millisecond),
		Fingerprint: "abc123",
		Tasks:       3,
		Analyzed:    2,
		Built:       1,
		Levels:      2,
		SuccessRate: 1,
		Results: []TaskRecord{
			{TaskID: "analyze:project:a.py", Type: "AnalyzeFileTask", Target: "/k/a.py.analysis.json", Status: "succeeded", Message: "analyzed a.py", Duration: 20 * time.Millisecond},
			{TaskID: "analyze:project:b.py", Type: "AnalyzeFileTask", Target: "/k/b.py.analysis.json", Status: "succeeded", Duration: 30 * time.Millisecond},
			{TaskID: "build:project:.", Type: "BuildKnowledgeBaseTask", Target: "/k/KNOWLEDGE.md", Level: 1, Status: "succeeded"},
		},
	}
}

func TestNewSQLiteJournal(t *testing.T) {
	j := setupTestJournal(t)
	assert.NotNil(t, j.db)

	version, err := SchemaVersion(context.Background(), j.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

// TestNewSQLiteJournal_File verifies the journal directory is created and the
// schema survives reopening
func TestNewSQLiteJournal_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	ctx := context.Background()

	j, err := NewSQLiteJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordRun(ctx, testRun("run-1", "/src", time.UnixMilli(1_700_000_000_000))))
	require.NoError(t, j.Close())

	j, err = NewSQLiteJournal(path)
	require.NoError(t, err)
	defer j.Close()

	run, err := j.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "/src", run.Root)
}

func TestRecordAndGetRun(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()
	started := time.UnixMilli(1_700_000_000_123)

	require.NoError(t, j.RecordRun(ctx, testRun("run-1", "/src", started)))

	run, err := j.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "/src", run.Root)
	assert.True(t, run.StartedAt.Equal(started))
	assert.Equal(t, 1500*time.Millisecond, run.Duration())
	assert.Equal(t, "abc123", run.Fingerprint)
	assert.Equal(t, 2, run.Analyzed)
	assert.Equal(t, 1, run.Built)
	assert.Equal(t, 2, run.Levels)
	assert.False(t, run.DryRun)
	assert.False(t, run.Cancelled)

	require.Len(t, run.Results, 3)
	assert.Equal(t, "analyze:project:a.py", run.Results[0].TaskID)
	assert.Equal(t, "analyzed a.py", run.Results[0].Message)
	assert.Equal(t, 20*time.Millisecond, run.Results[0].Duration)
	assert.Equal(t, 1, run.Results[2].Level)
}

func TestRecordRun_Duplicate(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordRun(ctx, testRun("run-1", "/src", time.Now())))
	err := j.RecordRun(ctx, testRun("run-1", "/src", time.Now()))
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	err = j.RecordRun(ctx, &Run{})
	assert.Error(t, err)
}

func TestGetRun_NotFound(t *testing.T) {
	j := setupTestJournal(t)

	_, err := j.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// TestListRuns verifies newest-first ordering, root filtering and limits
func TestListRuns(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, j.RecordRun(ctx, testRun("a1", "/a", base)))
	require.NoError(t, j.RecordRun(ctx, testRun("a2", "/a", base.Add(time.Minute))))
	require.NoError(t, j.RecordRun(ctx, testRun("b1", "/b", base.Add(2*time.Minute))))

	runs, err := j.ListRuns(ctx, "/a", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a2", runs[0].ID)
	assert.Equal(t, "a1", runs[1].ID)
	assert.Empty(t, runs[0].Results)

	runs, err = j.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b1", runs[0].ID)

	runs, err = j.ListRuns(ctx, "/none", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// TestRunFromResult verifies an indexing result maps onto journal columns
func TestRunFromResult(t *testing.T) {
	started := time.Now()
	res := &types.IndexingResult{
		RunID:      "run-9",
		SourceRoot: "/src",
		DryRun:     true,
		Preview:    types.PlanPreview{TotalTasks: 2},
		Duration:   time.Second,
	}
	exec := &types.ExecutionResult{LevelsExecuted: 1, StoppedEarly: true}
	exec.Record(types.TaskResult{TaskID: "t1", Type: types.TaskAnalyzeFile, Status: types.TaskSucceeded})
	exec.Record(types.TaskResult{TaskID: "t2", Type: types.TaskCleanup, Status: types.TaskFailed, Err: errors.New("boom"), Message: "boom"})
	res.Execution = exec

	run := RunFromResult(res, started, "fp")
	assert.Equal(t, "run-9", run.ID)
	assert.True(t, run.DryRun)
	assert.Equal(t, time.Second, run.Duration())
	assert.Equal(t, 2, run.Tasks)
	assert.Equal(t, 1, run.Analyzed)
	assert.Equal(t, 1, run.Failed)
	assert.True(t, run.StoppedEarly)
	assert.InDelta(t, 0.5, run.SuccessRate, 0.001)
	require.Len(t, run.Results, 2)
	assert.Equal(t, "failed", run.Results[1].Status)
	assert.Equal(t, "fp", run.Fingerprint)
}
