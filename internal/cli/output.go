package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dshills/gocontext-kb/internal/indexer"
	"github.com/dshills/gocontext-kb/internal/storage"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// RunSummary is the printed outcome of one index run
type RunSummary struct {
	RunID          string   `json:"run_id"`
	Root           string   `json:"root"`
	DryRun         bool     `json:"dry_run"`
	Tasks          int      `json:"tasks"`
	Skipped        int      `json:"skipped"`
	Levels         int      `json:"levels"`
	FilesAnalyzed  int      `json:"files_analyzed"`
	KnowledgeBuilt int      `json:"knowledge_built"`
	OrphansDeleted int      `json:"orphans_deleted"`
	Noops          int      `json:"noops"`
	Failed         int      `json:"failed"`
	SuccessRate    float64  `json:"success_rate"`
	Cancelled      bool     `json:"cancelled,omitempty"`
	StoppedEarly   bool     `json:"stopped_early,omitempty"`
	DurationMS     int64    `json:"duration_ms"`
	Errors         []string `json:"errors,omitempty"`
}

func summarizeResult(res *types.IndexingResult) RunSummary {
	s := RunSummary{
		RunID:          res.RunID,
		Root:           res.SourceRoot,
		DryRun:         res.DryRun,
		Tasks:          res.Preview.TotalTasks,
		Skipped:        res.Preview.Skipped,
		Levels:         res.Preview.Levels,
		FilesAnalyzed:  res.FilesAnalyzed(),
		KnowledgeBuilt: res.KnowledgeBuilt(),
		OrphansDeleted: res.OrphansDeleted(),
		SuccessRate:    res.SuccessRate(),
		DurationMS:     res.Duration.Milliseconds(),
	}
	if exec := res.Execution; exec != nil {
		s.Noops = exec.Noops
		s.Failed = exec.Failed
		s.Cancelled = exec.Cancelled
		s.StoppedEarly = exec.StoppedEarly
	}
	for _, err := range res.Errors() {
		s.Errors = append(s.Errors, err.Error())
	}
	return s
}

func printRunSummary(w io.Writer, s RunSummary, asJSON bool) error {
	if asJSON {
		return writeJSON(w, s)
	}

	mode := "index"
	if s.DryRun {
		mode = "index (dry run)"
	}
	fmt.Fprintf(w, "%s %s: %d tasks in %d levels, %d skipped (%dms)\n",
		mode, s.Root, s.Tasks, s.Levels, s.Skipped, s.DurationMS)
	fmt.Fprintf(w, "  analyzed: %d\n  built:    %d\n  deleted:  %d\n", s.FilesAnalyzed, s.KnowledgeBuilt, s.OrphansDeleted)
	if s.Noops > 0 {
		fmt.Fprintf(w, "  noop:     %d\n", s.Noops)
	}
	if s.Failed > 0 {
		fmt.Fprintf(w, "  failed:   %d (success rate %.0f%%)\n", s.Failed, s.SuccessRate*100)
	}
	switch {
	case s.Cancelled:
		fmt.Fprintln(w, "  cancelled before all levels ran")
	case s.StoppedEarly:
		fmt.Fprintln(w, "  stopped early after failures")
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	fmt.Fprintf(w, "  run: %s\n", s.RunID)
	return nil
}

// PlanSummary is the printed outcome of a preview
type PlanSummary struct {
	Root                  string                 `json:"root"`
	KnowledgeFiles        int                    `json:"knowledge_files"`
	Fresh                 int                    `json:"fresh"`
	Stale                 int                    `json:"stale"`
	Orphaned              int                    `json:"orphaned"`
	NewSources            int                    `json:"new_sources"`
	Decisions             map[types.Action]int   `json:"decisions"`
	TaskCounts            map[types.TaskType]int `json:"task_counts"`
	Tasks                 int                    `json:"tasks"`
	Levels                int                    `json:"levels"`
	Widest                int                    `json:"widest_level"`
	EstimatedServiceCalls int                    `json:"estimated_service_calls"`
	Fingerprint           string                 `json:"fingerprint"`
	Plan                  string                 `json:"plan"`
}

func summarizeReport(r *indexer.Report) PlanSummary {
	pv := r.Plan.Preview()
	counts := make(map[types.Action]int)
	for _, d := range r.Decisions {
		counts[d.Action]++
	}
	return PlanSummary{
		Root:                  r.SourceRoot,
		KnowledgeFiles:        r.Discovery.KnowledgeFiles,
		Fresh:                 r.Discovery.Fresh,
		Stale:                 r.Discovery.Stale,
		Orphaned:              r.Discovery.Orphaned,
		NewSources:            r.Discovery.NewSources,
		Decisions:             counts,
		TaskCounts:            pv.TaskCounts,
		Tasks:                 pv.TotalTasks,
		Levels:                pv.Levels,
		Widest:                pv.WidestLevel,
		EstimatedServiceCalls: pv.EstimatedServiceCalls,
		Fingerprint:           r.Plan.Fingerprint(),
		Plan:                  r.Plan.Describe(),
	}
}

func printPlanSummary(w io.Writer, s PlanSummary, asJSON bool) error {
	if asJSON {
		return writeJSON(w, s)
	}

	fmt.Fprintf(w, "preview %s\n", s.Root)
	fmt.Fprintf(w, "  artifacts: %d (%d fresh, %d stale, %d orphaned), %d new sources\n",
		s.KnowledgeFiles, s.Fresh, s.Stale, s.Orphaned, s.NewSources)

	actions := make([]string, 0, len(s.Decisions))
	for a := range s.Decisions {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%s=%d", a, s.Decisions[types.Action(a)]))
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  decisions: %s\n", strings.Join(parts, " "))
	}

	if s.Tasks == 0 {
		fmt.Fprintln(w, "  up to date, nothing to do")
		return nil
	}
	fmt.Fprintf(w, "  %d tasks in %d levels (widest %d), at most %d analysis calls\n",
		s.Tasks, s.Levels, s.Widest, s.EstimatedServiceCalls)
	fmt.Fprintf(w, "  fingerprint: %s\n\n", s.Fingerprint)
	fmt.Fprint(w, s.Plan)
	if !strings.HasSuffix(s.Plan, "\n") {
		fmt.Fprintln(w)
	}
	return nil
}

// RunEntry is one journal row as printed by history
type RunEntry struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	DryRun       bool      `json:"dry_run"`
	Tasks        int       `json:"tasks"`
	Analyzed     int       `json:"files_analyzed"`
	Built        int       `json:"knowledge_built"`
	Deleted      int       `json:"orphans_deleted"`
	Failed       int       `json:"failed"`
	SuccessRate  float64   `json:"success_rate"`
	Cancelled    bool      `json:"cancelled,omitempty"`
	StoppedEarly bool      `json:"stopped_early,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	Results      []TaskRow `json:"results,omitempty"`
}

// TaskRow is one task result of a journaled run
type TaskRow struct {
	TaskID     string `json:"task_id"`
	Type       string `json:"type"`
	Level      int    `json:"level"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func runEntry(run *storage.Run) RunEntry {
	e := RunEntry{
		RunID:        run.ID,
		StartedAt:    run.StartedAt,
		DurationMS:   run.Duration().Milliseconds(),
		DryRun:       run.DryRun,
		Tasks:        run.Tasks,
		Analyzed:     run.Analyzed,
		Built:        run.Built,
		Deleted:      run.Deleted,
		Failed:       run.Failed,
		SuccessRate:  run.SuccessRate,
		Cancelled:    run.Cancelled,
		StoppedEarly: run.StoppedEarly,
		Fingerprint:  run.Fingerprint,
	}
	for _, tr := range run.Results {
		e.Results = append(e.Results, TaskRow{
			TaskID:     tr.TaskID,
			Type:       tr.Type,
			Level:      tr.Level,
			Status:     tr.Status,
			Message:    tr.Message,
			DurationMS: tr.Duration.Milliseconds(),
		})
	}
	return e
}

func printHistory(w io.Writer, entries []RunEntry, asJSON bool) error {
	if asJSON {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return nil
	}
	for _, e := range entries {
		flags := ""
		switch {
		case e.DryRun:
			flags = " dry-run"
		case e.Cancelled:
			flags = " cancelled"
		case e.StoppedEarly:
			flags = " stopped-early"
		}
		fmt.Fprintf(w, "%s  %s  tasks=%d analyzed=%d built=%d deleted=%d failed=%d %dms%s\n",
			e.StartedAt.Local().Format(time.DateTime), e.RunID, e.Tasks, e.Analyzed, e.Built,
			e.Deleted, e.Failed, e.DurationMS, flags)
	}
	return nil
}

func printRunDetail(w io.Writer, e RunEntry, asJSON bool) error {
	if asJSON {
		return writeJSON(w, e)
	}
	if err := printHistory(w, []RunEntry{e}, false); err != nil {
		return err
	}
	for _, t := range e.Results {
		line := fmt.Sprintf("  [%d] %-9s %s", t.Level, t.Status, t.TaskID)
		if t.Message != "" {
			line += ": " + t.Message
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
