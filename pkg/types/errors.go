package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the indexing pipeline
var (
	// Fatal: returned from Index before or while building a plan
	ErrDiscovery       = errors.New("knowledge discovery failed")
	ErrDependencyCycle = errors.New("dependency cycle detected")

	// Recorded: surfaced as data in IndexingResult
	ErrValidation      = errors.New("source validation failed")
	ErrTaskExecution   = errors.New("task execution failed")
	ErrAnalysisService = errors.New("analysis service failed")

	ErrMissingReason      = errors.New("decision reason is required")
	ErrEmptySummary       = errors.New("analysis service returned an empty summary")
	ErrIndexingInProgress = errors.New("indexing already in progress")
	ErrNoHandlers         = errors.New("no handlers registered")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// DiscoveryError reports an unreadable knowledge area
type DiscoveryError struct {
	Handler string
	Path    string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%s: handler %s: %s: %v", ErrDiscovery, e.Handler, e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() []error { return []error{ErrDiscovery, e.Err} }

// ValidationError reports a source file that could not be read during validation
type ValidationError struct {
	Path       string // Artifact path
	SourcePath string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrValidation, e.SourcePath, e.Err)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// DependencyCycleError lists the tasks that could not be topologically ordered
type DependencyCycleError struct {
	Nodes []string // Every task left unordered
	Cycle []string // One witness cycle, first node repeated at the end
}

func (e *DependencyCycleError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%s: %s", ErrDependencyCycle, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("%s: %d unordered tasks", ErrDependencyCycle, len(e.Nodes))
}

func (e *DependencyCycleError) Unwrap() error { return ErrDependencyCycle }

// TaskExecutionError is captured in a TaskResult when a task fails
type TaskExecutionError struct {
	TaskID string
	Target string
	Err    error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskExecutionError) Unwrap() []error { return []error{ErrTaskExecution, e.Err} }

// AnalysisServiceError is a task failure caused by the analysis service
type AnalysisServiceError struct {
	Op   string // "analyze_file" or "build_directory_knowledge"
	Path string
	Err  error
}

func (e *AnalysisServiceError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrAnalysisService, e.Op, e.Path, e.Err)
}

func (e *AnalysisServiceError) Unwrap() []error {
	return []error{ErrAnalysisService, ErrTaskExecution, e.Err}
}
