package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/gocontext-kb/internal/analysis"
	"github.com/dshills/gocontext-kb/internal/decision"
	"github.com/dshills/gocontext-kb/internal/discovery"
	"github.com/dshills/gocontext-kb/internal/executor"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/internal/plan"
	"github.com/dshills/gocontext-kb/internal/storage"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// ErrIndexingInProgress is returned when Index is called while a run is in flight
var ErrIndexingInProgress = types.ErrIndexingInProgress

// Indexer coordinates the pipeline: discover -> decide -> plan -> execute
type Indexer struct {
	handlers *handler.Registry
	analysis analysis.Service
	journal  storage.Journal
	logger   *slog.Logger

	// Prevents concurrent runs on the same Indexer
	indexLock IndexLock

	mu   sync.RWMutex
	last *Status
}

// Config contains the settings of one run
type Config struct {
	Workers     int             // Concurrent source validations (default: runtime.NumCPU())
	Concurrency int             // Concurrent tasks per level (default: runtime.NumCPU())
	DryRun      bool            // Traverse the plan without side effects
	FailFast    bool            // Stop scheduling levels after a failing level
	Progress    func(string)    // Optional; called synchronously, must not block
	Factories   *plan.Factories // Optional task factory override
}

// Status describes the most recent finished run
type Status struct {
	RunID      string
	SourceRoot string
	StartedAt  time.Time
	Result     *types.IndexingResult
	Err        error
}

// Report is the outcome of a preview: everything up to the plan, nothing executed
type Report struct {
	SourceRoot string
	Discovery  types.DiscoveryStats
	Decisions  []types.Decision
	Plan       *plan.ExecutionPlan
}

// Option configures an Indexer
type Option func(*Indexer)

// WithJournal records every finished run in j
func WithJournal(j storage.Journal) Option {
	return func(idx *Indexer) { idx.journal = j }
}

// WithLogger sets the logger passed to every stage
func WithLogger(l *slog.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// New creates a new Indexer over the given handlers and analysis service
func New(handlers *handler.Registry, svc analysis.Service, opts ...Option) *Indexer {
	idx := &Indexer{
		handlers: handlers,
		analysis: svc,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Running reports whether a run is in flight
func (idx *Indexer) Running() bool {
	return idx.indexLock.Held()
}

// LastStatus returns the most recent finished run, or nil before the first
func (idx *Indexer) LastStatus() *Status {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.last == nil {
		return nil
	}
	s := *idx.last
	return &s
}

// Journal returns the run journal, nil when none is configured
func (idx *Indexer) Journal() storage.Journal {
	return idx.journal
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.Concurrency <= 0 {
		out.Concurrency = runtime.NumCPU()
	}
	return &out
}

// Index brings the knowledge base under root up to date. Task failures are
// recorded in the result; only fatal errors (unreadable knowledge area,
// dependency cycle, invalid root) return no result. A cancelled context
// returns the partial result together with the context error.
func (idx *Indexer) Index(ctx context.Context, root string, config *Config) (*types.IndexingResult, error) {
	// Acquire lock (non-blocking)
	if !idx.indexLock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.indexLock.Release()

	cfg := config.withDefaults()
	started := time.Now()
	runID := uuid.NewString()
	logger := idx.logger.With(slog.String("run_id", runID))

	result, fingerprint, err := idx.run(ctx, root, runID, cfg, logger)
	if result != nil {
		result.Duration = time.Since(started)
	}
	idx.finish(ctx, runID, root, started, result, fingerprint, err, logger)
	return result, err
}

func (idx *Indexer) run(ctx context.Context, root, runID string, cfg *Config, logger *slog.Logger) (*types.IndexingResult, string, error) {
	report, err := idx.prepare(ctx, root, cfg, logger)
	if err != nil {
		return nil, "", err
	}

	result := &types.IndexingResult{
		RunID:      runID,
		SourceRoot: report.SourceRoot,
		DryRun:     cfg.DryRun,
		Discovery:  report.Discovery,
		Decisions:  decision.Count(report.Decisions),
		Preview:    report.Plan.Preview(),
	}

	ec := plan.NewExecutionContext(report.SourceRoot, idx.analysis, idx.handlers, cfg.Progress, logger)
	engine := executor.New(
		executor.WithConcurrency(cfg.Concurrency),
		executor.WithDryRun(cfg.DryRun),
		executor.WithFailFast(cfg.FailFast),
		executor.WithLogger(logger),
	)
	exec, err := engine.Execute(ctx, report.Plan, ec)
	if exec != nil {
		exec.RunID = runID
		result.Execution = exec
	}
	return result, report.Plan.Fingerprint(), err
}

// Preview runs discovery, decision and planning without executing anything
func (idx *Indexer) Preview(ctx context.Context, root string, config *Config) (*Report, error) {
	return idx.prepare(ctx, root, config.withDefaults(), idx.logger)
}

func (idx *Indexer) prepare(ctx context.Context, root string, cfg *Config, logger *slog.Logger) (*Report, error) {
	if idx.handlers == nil || idx.handlers.Len() == 0 {
		return nil, types.ErrNoHandlers
	}
	if idx.analysis == nil {
		return nil, fmt.Errorf("no analysis service configured")
	}

	absRoot, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	disc, err := discovery.New(idx.handlers,
		discovery.WithWorkers(cfg.Workers),
		discovery.WithLogger(logger),
	).Discover(ctx, absRoot)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	logger.Info("discovery complete",
		slog.Int("knowledge_files", disc.Stats.KnowledgeFiles),
		slog.Int("fresh", disc.Stats.Fresh),
		slog.Int("stale", disc.Stats.Stale),
		slog.Int("orphaned", disc.Stats.Orphaned),
		slog.Int("new_sources", disc.Stats.NewSources),
		slog.Int("validation_errors", len(disc.Stats.ValidationErrors)))

	decisions := decision.New(idx.handlers).Decide(absRoot, disc.Records, disc.NewSources)

	genOpts := []plan.Option{plan.WithLogger(logger)}
	if cfg.Factories != nil {
		genOpts = append(genOpts, plan.WithFactories(cfg.Factories))
	}
	p, err := plan.NewGenerator(idx.handlers, genOpts...).Generate(absRoot, decisions)
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	pv := p.Preview()
	logger.Info("plan ready",
		slog.Int("tasks", pv.TotalTasks),
		slog.Int("levels", pv.Levels),
		slog.Int("skipped", pv.Skipped),
		slog.Int("service_calls", pv.EstimatedServiceCalls))

	return &Report{
		SourceRoot: absRoot,
		Discovery:  disc.Stats,
		Decisions:  decisions,
		Plan:       p,
	}, nil
}

// finish remembers the run and appends it to the journal. Journal failures
// are logged; they never fail the run.
func (idx *Indexer) finish(ctx context.Context, runID, root string, started time.Time, result *types.IndexingResult, fingerprint string, runErr error, logger *slog.Logger) {
	idx.mu.Lock()
	idx.last = &Status{RunID: runID, SourceRoot: root, StartedAt: started, Result: result, Err: runErr}
	idx.mu.Unlock()

	if runErr != nil && result == nil {
		logger.Error("indexing failed", slog.Any("error", runErr))
		return
	}

	logger.Info("indexing complete",
		slog.Int("files_analyzed", result.FilesAnalyzed()),
		slog.Int("knowledge_built", result.KnowledgeBuilt()),
		slog.Int("orphans_deleted", result.OrphansDeleted()),
		slog.Int("errors", len(result.Errors())),
		slog.Duration("duration", result.Duration))

	if idx.journal == nil {
		return
	}
	// The run context may already be cancelled; the journal entry should still land.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := idx.journal.RecordRun(jctx, storage.RunFromResult(result, started, fingerprint)); err != nil {
		logger.Warn("failed to journal run", slog.Any("error", err))
	}
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("source root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve source root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source root %s is not a directory", abs)
	}
	return filepath.Clean(abs), nil
}
