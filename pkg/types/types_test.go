package types

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResultStatus(t *testing.T) {
	tests := []struct {
		name   string
		result ValidationResult
		want   Status
	}{
		{"missing source", ValidationResult{SourceExists: false, Reason: "gone"}, StatusConfirmedOrphaned},
		{"stale", ValidationResult{SourceExists: true, IsStale: true, Reason: "hash changed"}, StatusValidStale},
		{"fresh", ValidationResult{SourceExists: true, Reason: "hash matches"}, StatusValidFresh},
		{"unreadable is stale", ValidationResult{SourceExists: true, Err: fs.ErrPermission, Reason: "unreadable"}, StatusValidStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.result.Status()
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsTerminal())
		})
	}

	assert.False(t, StatusOrphaned.IsTerminal())
}

func TestDecisionValidate(t *testing.T) {
	kf := &KnowledgeFile{Path: "/k/a.py.analysis.json", HandlerType: "project", FileType: FileTypeCache, Status: StatusConfirmedOrphaned}

	assert.NoError(t, Decision{Action: ActionDeleteOrphan, File: kf, Reason: "source missing"}.Validate())
	assert.ErrorIs(t, Decision{Action: ActionSkip, SourcePath: "/src/a.py"}.Validate(), ErrMissingReason)
	assert.Error(t, Decision{Action: ActionDeleteOrphan, Reason: "x"}.Validate())
	assert.Error(t, Decision{Action: ActionAnalyzeFile, Reason: "x"}.Validate())
	assert.Error(t, Decision{Action: "bogus", SourcePath: "/a", Reason: "x"}.Validate())
}

func TestKnowledgeFileValidate(t *testing.T) {
	kf := KnowledgeFile{Path: "/k/KNOWLEDGE.md", HandlerType: "project", FileType: FileTypeKnowledge, Status: StatusOrphaned}
	require.NoError(t, kf.Validate())
	assert.True(t, kf.IsDirectory())

	kf.FileType = "other"
	assert.Error(t, kf.Validate())
}

func TestAnalysisServiceErrorIsTaskExecutionError(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&AnalysisServiceError{Op: "analyze_file", Path: "a.py", Err: cause})

	assert.ErrorIs(t, err, ErrAnalysisService)
	assert.ErrorIs(t, err, ErrTaskExecution)
	assert.ErrorIs(t, err, cause)

	wrapped := &TaskExecutionError{TaskID: "analyze:a.py", Err: err}
	var svcErr *AnalysisServiceError
	assert.True(t, errors.As(wrapped, &svcErr))
	assert.Equal(t, "a.py", svcErr.Path)
}

func TestDependencyCycleErrorMessage(t *testing.T) {
	err := &DependencyCycleError{Nodes: []string{"a", "b"}, Cycle: []string{"a", "b", "a"}}
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestExecutionResultRecord(t *testing.T) {
	r := &ExecutionResult{}
	assert.Equal(t, 1.0, r.SuccessRate())

	r.Record(TaskResult{TaskID: "1", Type: TaskAnalyzeFile, Status: TaskSucceeded})
	r.Record(TaskResult{TaskID: "2", Type: TaskBuildKnowledgeBase, Status: TaskSucceeded})
	r.Record(TaskResult{TaskID: "3", Type: TaskCleanup, Status: TaskSucceeded})
	r.Record(TaskResult{TaskID: "4", Type: TaskCleanup, Status: TaskNoop})
	r.Record(TaskResult{TaskID: "5", Type: TaskAnalyzeFile, Status: TaskFailed, Err: errors.New("boom")})

	assert.Equal(t, 1, r.FilesAnalyzed)
	assert.Equal(t, 1, r.KnowledgeBuilt)
	assert.Equal(t, 1, r.OrphansDeleted)
	assert.Equal(t, 1, r.Noops)
	assert.Equal(t, 1, r.Failed)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "5", r.Errors[0].TaskID)
	assert.InDelta(t, 0.8, r.SuccessRate(), 1e-9)
}

func TestIndexingResultErrors(t *testing.T) {
	verr := &ValidationError{SourcePath: "a.py", Err: fs.ErrPermission}
	res := &IndexingResult{
		Discovery: DiscoveryStats{ValidationErrors: []error{verr}},
		Execution: &ExecutionResult{Errors: []TaskError{{TaskID: "x", Err: errors.New("boom")}}},
	}

	errs := res.Errors()
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrValidation)

	empty := &IndexingResult{}
	assert.Equal(t, 1.0, empty.SuccessRate())
	assert.Zero(t, empty.OrphansDeleted())
}
