package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/internal/watcher"
)

// RunWatch indexes once, then re-indexes after every debounced batch of
// source changes until interrupted.
func RunWatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := a.watchRun(ctx, out, "initial"); err != nil {
		return err
	}

	rules := append([]string{"/" + a.cfg.Index.KnowledgeDir + "/"}, a.cfg.Index.IgnoreRules...)
	w := watcher.New(a.root,
		watcher.WithDebounce(time.Duration(a.cfg.Watch.Debounce)),
		watcher.WithIgnore(handler.NewMatcher(rules...)),
		watcher.WithLogger(a.logger),
	)
	batches, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s\n", a.root)

	for batch := range batches {
		a.logger.Info("sources changed", slog.Int("paths", len(batch.Paths)))
		a.logger.Debug("changed paths", slog.Any("paths", batch.Paths))
		if err := a.watchRun(ctx, out, fmt.Sprintf("%d changes", len(batch.Paths))); err != nil {
			return err
		}
	}
	return nil
}

// watchRun indexes once. Task failures are reported and watching continues;
// only setup errors end the watch.
func (a *app) watchRun(ctx context.Context, out io.Writer, reason string) error {
	result, err := a.indexer.Index(ctx, a.root, a.runConfig())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if result == nil {
		return err
	}

	s := summarizeResult(result)
	fmt.Fprintf(out, "[%s] %s: analyzed=%d built=%d deleted=%d failed=%d (%dms)\n",
		time.Now().Format(time.TimeOnly), reason, s.FilesAnalyzed, s.KnowledgeBuilt,
		s.OrphansDeleted, s.Failed, s.DurationMS)
	for _, e := range s.Errors {
		a.logger.Warn("index error", slog.String("error", e))
	}
	return nil
}
