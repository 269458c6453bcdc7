package handler

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dshills/gocontext-kb/pkg/types"
)

// Handler maps one storage convention between a source tree and its knowledge artifacts.
//
// Implementations are stateless with respect to the source root: every method that
// needs it receives it explicitly, so one handler value can serve concurrent runs.
type Handler interface {
	// Type returns the handler identifier recorded on every KnowledgeFile it owns
	Type() string

	// CanHandle reports whether a source path (relative to the source root) belongs to this handler
	CanHandle(relPath string) bool

	// ScanKnowledgeArea lists every artifact in the handler's storage area.
	// It must not touch the source tree. Records come back orphaned with no source path.
	ScanKnowledgeArea(ctx context.Context, sourceRoot string) ([]*types.KnowledgeFile, error)

	// ScanSourceArea lists every indexable source file and directory the handler owns
	ScanSourceArea(ctx context.Context, sourceRoot string) ([]types.SourceEntry, error)

	// ValidateKnowledgeFile resolves an artifact's source and compares it with the artifact
	ValidateKnowledgeFile(ctx context.Context, kf *types.KnowledgeFile, sourceRoot string) types.ValidationResult

	// KnowledgePath maps a source directory to its synthesis artifact
	KnowledgePath(sourcePath, sourceRoot string) (string, error)

	// CachePath maps a source file to its analysis artifact
	CachePath(sourcePath, sourceRoot string) (string, error)

	// ParentSource returns the directory whose synthesis includes sourcePath.
	// It returns false for the root of an indexable unit.
	ParentSource(sourcePath, sourceRoot string) (string, bool)
}

// ArtifactPath maps a source to whichever artifact a handler keeps for it
func ArtifactPath(h Handler, sourcePath, sourceRoot string, isDir bool) (string, error) {
	if isDir {
		return h.KnowledgePath(sourcePath, sourceRoot)
	}
	return h.CachePath(sourcePath, sourceRoot)
}

// Registry holds the handlers taking part in a run, in registration order
type Registry struct {
	handlers []Handler
	byType   map[string]Handler
}

// NewRegistry creates a registry; handler types must be unique
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{byType: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a handler
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	if _, exists := r.byType[h.Type()]; exists {
		return fmt.Errorf("duplicate handler type %q", h.Type())
	}
	r.byType[h.Type()] = h
	r.handlers = append(r.handlers, h)
	return nil
}

// Get returns the handler registered under the given type
func (r *Registry) Get(handlerType string) (Handler, bool) {
	h, ok := r.byType[handlerType]
	return h, ok
}

// Handlers returns the registered handlers in registration order
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	return len(r.handlers)
}

// HandlerFor returns the first handler that claims the source path
func (r *Registry) HandlerFor(sourcePath, sourceRoot string) (Handler, bool) {
	rel, err := filepath.Rel(sourceRoot, sourcePath)
	if err != nil {
		return nil, false
	}
	for _, h := range r.handlers {
		if h.CanHandle(rel) {
			return h, true
		}
	}
	return nil, false
}

// DefaultRegistry registers the project handler and, when gitClones is set,
// the imported-repository handler with the same options
func DefaultRegistry(opts Options, gitClones bool) (*Registry, error) {
	opts.ClonesOwned = gitClones
	handlers := []Handler{NewProjectHandler(opts)}
	if gitClones {
		handlers = append(handlers, NewGitCloneHandler(opts))
	}
	return NewRegistry(handlers...)
}
