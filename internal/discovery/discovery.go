package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// Record pairs a validated knowledge file with the outcome that assigned its status
type Record struct {
	File       *types.KnowledgeFile
	Validation types.ValidationResult
}

// Result is the output of a complete discovery pass
type Result struct {
	Records    []Record            // Sorted by artifact path
	NewSources []types.SourceEntry // Indexable sources with no artifact, sorted by path
	Stats      types.DiscoveryStats
}

// Files returns the knowledge files in record order
func (r *Result) Files() []*types.KnowledgeFile {
	files := make([]*types.KnowledgeFile, len(r.Records))
	for i := range r.Records {
		files[i] = r.Records[i].File
	}
	return files
}

// Engine runs the two discovery subphases against every registered handler
type Engine struct {
	registry *handler.Registry
	workers  int
	logger   *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithWorkers bounds concurrent source validation (default: runtime.NumCPU())
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger used for per-record diagnostics
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates a discovery engine over the given handlers
func New(registry *handler.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		workers:  runtime.NumCPU(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover scans every knowledge area, validates each artifact against its source,
// and lists indexable sources that have no artifact yet.
func (e *Engine) Discover(ctx context.Context, sourceRoot string) (*Result, error) {
	if e.registry == nil || e.registry.Len() == 0 {
		return nil, types.ErrNoHandlers
	}

	files, err := e.ScanKnowledge(ctx, sourceRoot)
	if err != nil {
		return nil, err
	}

	records, err := e.Validate(ctx, sourceRoot, files)
	if err != nil {
		return nil, err
	}

	newSources, err := e.findNewSources(ctx, sourceRoot, files)
	if err != nil {
		return nil, err
	}

	result := &Result{Records: records, NewSources: newSources}
	result.Stats = buildStats(records, newSources)
	return result, nil
}

// ScanKnowledge is subphase 1: it walks only the artifact areas.
// Every record comes back orphaned with an empty source path.
func (e *Engine) ScanKnowledge(ctx context.Context, sourceRoot string) ([]*types.KnowledgeFile, error) {
	var files []*types.KnowledgeFile
	for _, h := range e.registry.Handlers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := h.ScanKnowledgeArea(ctx, sourceRoot)
		if err != nil {
			var de *types.DiscoveryError
			if errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, &types.DiscoveryError{Handler: h.Type(), Path: sourceRoot, Err: err}
		}
		for _, kf := range found {
			kf.Status = types.StatusOrphaned
			kf.SourcePath = ""
		}
		e.logger.Debug("knowledge area scanned", "handler", h.Type(), "artifacts", len(found))
		files = append(files, found...)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Validate is subphase 2: each record's owning handler resolves its source and
// the record receives exactly one terminal status. Unreadable sources are
// recorded as stale with the validation error attached; only cancellation aborts.
func (e *Engine) Validate(ctx context.Context, sourceRoot string, files []*types.KnowledgeFile) ([]Record, error) {
	records := make([]Record, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, kf := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, ok := e.registry.Get(kf.HandlerType)
			if !ok {
				// Nothing owns the artifact any more; treat it as orphaned.
				records[i] = Record{File: kf, Validation: types.ValidationResult{
					Reason: fmt.Sprintf("no handler registered for type %q", kf.HandlerType),
				}}
				kf.Status = types.StatusConfirmedOrphaned
				return nil
			}

			res := h.ValidateKnowledgeFile(gctx, kf, sourceRoot)
			if res.Reason == "" {
				res.Reason = "validated"
			}
			kf.SourcePath = res.SourcePath
			kf.Status = res.Status()
			records[i] = Record{File: kf, Validation: res}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range records {
		if r.Validation.Err != nil {
			e.logger.Warn("source unreadable, artifact treated as stale",
				"artifact", r.File.Path, "source", r.File.SourcePath, "error", r.Validation.Err)
		}
	}
	return records, nil
}

// findNewSources lists indexable sources whose artifact was not found in subphase 1
func (e *Engine) findNewSources(ctx context.Context, sourceRoot string, files []*types.KnowledgeFile) ([]types.SourceEntry, error) {
	seen := make(map[string]struct{}, len(files))
	for _, kf := range files {
		seen[kf.Path] = struct{}{}
	}

	var out []types.SourceEntry
	for _, h := range e.registry.Handlers() {
		entries, err := h.ScanSourceArea(ctx, sourceRoot)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &types.DiscoveryError{Handler: h.Type(), Path: sourceRoot, Err: err}
		}
		for _, entry := range entries {
			artifact, err := handler.ArtifactPath(h, entry.Path, sourceRoot, entry.IsDir)
			if err != nil {
				e.logger.Debug("source has no artifact mapping", "handler", h.Type(), "source", entry.Path, "error", err)
				continue
			}
			if _, ok := seen[artifact]; ok {
				continue
			}
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func buildStats(records []Record, newSources []types.SourceEntry) types.DiscoveryStats {
	stats := types.DiscoveryStats{
		KnowledgeFiles: len(records),
		ByHandler:      make(map[string]int),
		NewSources:     len(newSources),
	}
	for _, r := range records {
		stats.ByHandler[r.File.HandlerType]++
		switch r.File.Status {
		case types.StatusValidFresh:
			stats.Fresh++
		case types.StatusValidStale:
			stats.Stale++
		case types.StatusConfirmedOrphaned:
			stats.Orphaned++
		}
		if r.Validation.Err != nil {
			stats.ValidationErrors = append(stats.ValidationErrors, r.Validation.Err)
		}
	}
	return stats
}
