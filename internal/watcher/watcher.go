// Package watcher turns filesystem events under a source tree into debounced
// change batches. The knowledge area and ignored paths never produce events,
// so re-indexing in response to a batch does not retrigger the watcher.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/gocontext-kb/internal/handler"
)

// DefaultDebounce is the quiet period after the last event before a batch is emitted
const DefaultDebounce = 500 * time.Millisecond

// Batch is the set of paths that changed during one debounce window
type Batch struct {
	Paths []string // Slash-separated, relative to the root, sorted
	At    time.Time
}

// Watcher watches a source tree recursively
type Watcher struct {
	root     string
	debounce time.Duration
	matcher  *handler.Matcher
	logger   *slog.Logger
}

// Option configures a Watcher
type Option func(*Watcher)

// WithDebounce sets the quiet period; non-positive values are ignored
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore sets the ignore rules applied to event paths
func WithIgnore(m *handler.Matcher) Option {
	return func(w *Watcher) {
		if m != nil {
			w.matcher = m
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher for root. By default the default knowledge directory
// and the default ignore rules are excluded.
func New(root string, opts ...Option) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		debounce: DefaultDebounce,
		matcher:  handler.NewMatcher("/" + handler.DefaultKnowledgeDir + "/"),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching and returns the batch channel. The channel is closed
// when ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan Batch, error) {
	info, err := os.Stat(w.root)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path error: %s is not a directory", w.root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.addRecursive(fsw, w.root, nil); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	out := make(chan Batch, 1)
	go w.loop(ctx, fsw, out)
	return out, nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, out chan<- Batch) {
	defer close(out)
	defer func() { _ = fsw.Close() }()

	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.handleEvent(fsw, ev, pending) {
				arm()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.Any("error", err))

		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			batch := Batch{Paths: make([]string, 0, len(pending)), At: time.Now()}
			for p := range pending {
				batch.Paths = append(batch.Paths, p)
			}
			sort.Strings(batch.Paths)
			clear(pending)

			w.logger.Debug("change batch", slog.Int("paths", len(batch.Paths)))
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleEvent records a relevant event in pending and reports whether it was relevant
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]struct{}) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	rel, ok := w.rel(ev.Name)
	if !ok {
		return false
	}

	info, err := os.Lstat(ev.Name)
	if err != nil {
		// Gone already; the path may have been a file or a directory
		if w.matcher.ShouldIgnore(rel, false) || w.matcher.ShouldIgnore(rel, true) {
			return false
		}
		pending[rel] = struct{}{}
		return true
	}

	isDir := info.IsDir()
	if w.matcher.ShouldIgnore(rel, isDir) {
		return false
	}
	if isDir {
		if !ev.Op.Has(fsnotify.Create) {
			return false
		}
		// Files may land in a new directory before it is watched
		if err := w.addRecursive(fsw, ev.Name, pending); err != nil {
			w.logger.Warn("failed to watch new directory", slog.String("path", rel), slog.Any("error", err))
		}
	}
	pending[rel] = struct{}{}
	return true
}

// addRecursive watches dir and every non-ignored directory below it. When
// pending is non-nil the files found are recorded as changed.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string, pending map[string]struct{}) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			return nil
		}
		rel, ok := w.rel(path)
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if ok && w.matcher.ShouldIgnore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if ok && pending != nil {
				pending[rel] = struct{}{}
			}
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
