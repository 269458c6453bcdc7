package types

import "time"

// TaskType identifies one of the atomic task variants
type TaskType string

const (
	TaskAnalyzeFile        TaskType = "AnalyzeFileTask"
	TaskBuildKnowledgeBase TaskType = "BuildKnowledgeBaseTask"
	TaskCleanup            TaskType = "CleanupTask"
)

// TaskStatus is the outcome of executing one task
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskNoop      TaskStatus = "noop"    // Nothing to do, e.g. an orphan whose source came back
	TaskDryRun    TaskStatus = "dry_run" // Traversed without side effects
)

// TaskResult captures the outcome of one task; errors are kept, not raised
type TaskResult struct {
	TaskID   string
	Type     TaskType
	Target   string
	Level    int
	Status   TaskStatus
	Message  string
	Err      error
	Duration time.Duration
}

// Failed reports whether the task failed
func (r TaskResult) Failed() bool {
	return r.Status == TaskFailed
}

// TaskError pairs a failed task with its error for reporting
type TaskError struct {
	TaskID string
	Target string
	Err    error
}

// ExecutionResult aggregates the outcome of executing one plan
type ExecutionResult struct {
	RunID  string
	DryRun bool

	Results []TaskResult

	FilesAnalyzed  int
	KnowledgeBuilt int
	OrphansDeleted int
	Noops          int
	Failed         int

	Errors []TaskError

	LevelsExecuted int
	Cancelled      bool // Context cancelled between levels
	StoppedEarly   bool // Fail-fast stopped scheduling further levels

	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the wall-clock execution time
func (r *ExecutionResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// SuccessRate returns the fraction of executed tasks that did not fail.
// A run with no tasks has a success rate of 1.
func (r *ExecutionResult) SuccessRate() float64 {
	if len(r.Results) == 0 {
		return 1
	}
	return float64(len(r.Results)-r.Failed) / float64(len(r.Results))
}

// Record appends a task result and updates the counters
func (r *ExecutionResult) Record(res TaskResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case TaskSucceeded:
		switch res.Type {
		case TaskAnalyzeFile:
			r.FilesAnalyzed++
		case TaskBuildKnowledgeBase:
			r.KnowledgeBuilt++
		case TaskCleanup:
			r.OrphansDeleted++
		}
	case TaskNoop:
		r.Noops++
	case TaskFailed:
		r.Failed++
		r.Errors = append(r.Errors, TaskError{TaskID: res.TaskID, Target: res.Target, Err: res.Err})
	}
}

// DiscoveryStats summarizes what the two discovery subphases found
type DiscoveryStats struct {
	KnowledgeFiles   int
	ByHandler        map[string]int
	Fresh            int
	Stale            int
	Orphaned         int
	NewSources       int
	ValidationErrors []error
}

// PlanPreview summarizes an execution plan without executing it
type PlanPreview struct {
	TaskCounts            map[TaskType]int
	TotalTasks            int
	Levels                int
	WidestLevel           int
	EstimatedServiceCalls int
	Skipped               int
}

// IndexingResult is returned by every Index call that hits no fatal error
type IndexingResult struct {
	RunID      string
	SourceRoot string
	DryRun     bool

	Discovery DiscoveryStats
	Decisions map[Action]int
	Preview   PlanPreview
	Execution *ExecutionResult

	Duration time.Duration
}

// FilesAnalyzed returns the number of cache artifacts (re)generated
func (r *IndexingResult) FilesAnalyzed() int {
	if r.Execution == nil {
		return 0
	}
	return r.Execution.FilesAnalyzed
}

// KnowledgeBuilt returns the number of directory syntheses (re)built
func (r *IndexingResult) KnowledgeBuilt() int {
	if r.Execution == nil {
		return 0
	}
	return r.Execution.KnowledgeBuilt
}

// OrphansDeleted returns the number of orphaned artifacts removed
func (r *IndexingResult) OrphansDeleted() int {
	if r.Execution == nil {
		return 0
	}
	return r.Execution.OrphansDeleted
}

// Errors returns every recorded non-fatal error: validation errors first, then task errors
func (r *IndexingResult) Errors() []error {
	errs := make([]error, 0, len(r.Discovery.ValidationErrors))
	errs = append(errs, r.Discovery.ValidationErrors...)
	if r.Execution != nil {
		for _, te := range r.Execution.Errors {
			errs = append(errs, te.Err)
		}
	}
	return errs
}

// SuccessRate returns the execution success rate
func (r *IndexingResult) SuccessRate() float64 {
	if r.Execution == nil {
		return 1
	}
	return r.Execution.SuccessRate()
}
