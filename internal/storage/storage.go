package storage

import (
	"context"
	"time"

	"github.com/dshills/gocontext-kb/pkg/types"
)

// Journal is an append-only audit log of finished indexing runs. It is never
// consulted when deciding what to index.
type Journal interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, root string, limit int) ([]*Run, error)
	Close() error
}

// Run is one finished Index call
type Run struct {
	ID          string
	Root        string
	StartedAt   time.Time
	FinishedAt  time.Time
	DryRun      bool
	Fingerprint string // Plan fingerprint, comparable across runs

	Tasks        int
	Analyzed     int
	Built        int
	Deleted      int
	Noops        int
	Failed       int
	Levels       int
	SuccessRate  float64
	Cancelled    bool
	StoppedEarly bool

	// Results holds per-task rows; ListRuns leaves it empty
	Results []TaskRecord
}

// Duration returns the wall-clock length of the run
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskRecord is the journaled outcome of one task
type TaskRecord struct {
	TaskID   string
	Type     string
	Target   string
	Level    int
	Status   string
	Message  string
	Duration time.Duration
}

// RunFromResult converts an indexing result into a journal entry
func RunFromResult(res *types.IndexingResult, startedAt time.Time, fingerprint string) *Run {
	run := &Run{
		ID:          res.RunID,
		Root:        res.SourceRoot,
		StartedAt:   startedAt,
		FinishedAt:  startedAt.Add(res.Duration),
		DryRun:      res.DryRun,
		Fingerprint: fingerprint,
		Tasks:       res.Preview.TotalTasks,
		SuccessRate: res.SuccessRate(),
	}
	if ex := res.Execution; ex != nil {
		run.Analyzed = ex.FilesAnalyzed
		run.Built = ex.KnowledgeBuilt
		run.Deleted = ex.OrphansDeleted
		run.Noops = ex.Noops
		run.Failed = ex.Failed
		run.Levels = ex.LevelsExecuted
		run.Cancelled = ex.Cancelled
		run.StoppedEarly = ex.StoppedEarly
		for _, tr := range ex.Results {
			run.Results = append(run.Results, TaskRecord{
				TaskID:   tr.TaskID,
				Type:     string(tr.Type),
				Target:   tr.Target,
				Level:    tr.Level,
				Status:   string(tr.Status),
				Message:  tr.Message,
				Duration: tr.Duration,
			})
		}
	}
	return run
}
