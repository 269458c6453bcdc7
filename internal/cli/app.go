package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/gocontext-kb/internal/analysis"
	"github.com/dshills/gocontext-kb/internal/config"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/internal/indexer"
	"github.com/dshills/gocontext-kb/internal/logging"
	"github.com/dshills/gocontext-kb/internal/storage"
)

// app holds everything one command needs
type app struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	svc     analysis.Service
	journal *storage.SQLiteJournal
	indexer *indexer.Indexer
}

// setup resolves the root from args, loads configuration, applies persistent
// flags and wires the indexer
func setup(cmd *cobra.Command, args []string) (*app, error) {
	root, err := resolveRoot(args)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	reg, err := handler.DefaultRegistry(cfg.HandlerOptions(), cfg.Index.GitClones)
	if err != nil {
		return nil, err
	}

	svc, err := analysis.New(cfg.AnalysisServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analysis service: %w", err)
	}

	a := &app{root: root, cfg: cfg, logger: logger, svc: svc}

	opts := []indexer.Option{indexer.WithLogger(logger)}
	if path := cfg.JournalPath(root); path != "" {
		j, err := storage.NewSQLiteJournal(path)
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
		opts = append(opts, indexer.WithJournal(j))
	}

	a.indexer = indexer.New(reg, svc, opts...)
	logger.Debug("configured",
		slog.String("root", root),
		slog.String("provider", svc.Provider()),
		slog.String("model", svc.Model()),
		slog.Bool("journal", a.journal != nil))
	return a, nil
}

func loadConfig(cmd *cobra.Command, root string) (*config.Config, error) {
	path, err := optionalString(cmd, "config")
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadForRoot(root)
	}
	if err != nil {
		return nil, err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyFlags overrides configuration with the flags set on the command line
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("provider", &cfg.Analysis.Provider)
	str("model", &cfg.Analysis.Model)
	integer("workers", &cfg.Index.Workers)
	integer("concurrency", &cfg.Index.Concurrency)
	boolean("fail-fast", &cfg.Index.FailFast)
	boolean("dry-run", &cfg.Index.DryRun)

	if noJournal, err := flags.GetBool("no-journal"); err == nil && noJournal {
		cfg.Journal.Enabled = false
	}
	if flags.Lookup("debounce") != nil && flags.Changed("debounce") {
		d, err := flags.GetDuration("debounce")
		errs = append(errs, err)
		cfg.Watch.Debounce = config.Duration(d)
	}
	return errors.Join(errs...)
}

// optionalString returns a string flag, or "" when the command does not define it
func optionalString(cmd *cobra.Command, name string) (string, error) {
	if cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

// runConfig converts the index section into per-run settings
func (a *app) runConfig() *indexer.Config {
	return &indexer.Config{
		Workers:     a.cfg.Index.Workers,
		Concurrency: a.cfg.Index.Concurrency,
		DryRun:      a.cfg.Index.DryRun,
		FailFast:    a.cfg.Index.FailFast,
	}
}

func (a *app) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
	}
	return errors.Join(errs...)
}

func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 && args[0] != "" {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to access %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}
