package decision

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-kb/internal/discovery"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/pkg/types"
)

const root = "/src"

func projectRegistry(t testing.TB) *handler.Registry {
	t.Helper()
	reg, err := handler.NewRegistry(handler.NewProjectHandler(handler.Options{}))
	require.NoError(t, err)
	return reg
}

func record(fileType types.FileType, source string, status types.Status, reason string) discovery.Record {
	h := handler.NewProjectHandler(handler.Options{})
	var path string
	if fileType == types.FileTypeKnowledge {
		path, _ = h.KnowledgePath(source, root)
	} else {
		path, _ = h.CachePath(source, root)
	}
	kf := &types.KnowledgeFile{
		Path:        path,
		HandlerType: handler.TypeProject,
		FileType:    fileType,
		SourcePath:  source,
		Status:      status,
		UnitRoot:    root,
	}
	return discovery.Record{File: kf, Validation: types.ValidationResult{
		SourceExists: status != types.StatusConfirmedOrphaned,
		SourcePath:   source,
		IsStale:      status == types.StatusValidStale,
		Reason:       reason,
	}}
}

func byAction(decisions []types.Decision) map[string]types.Decision {
	out := make(map[string]types.Decision)
	for _, d := range decisions {
		out[subject(d)] = d
	}
	return out
}

// TestDecide_StatusMapping verifies each terminal status maps to its action
func TestDecide_StatusMapping(t *testing.T) {
	e := New(projectRegistry(t))
	pkg := filepath.Join(root, "pkg")

	decisions := e.Decide(root, []discovery.Record{
		record(types.FileTypeCache, filepath.Join(pkg, "a.py"), types.StatusValidFresh, "size and mtime match"),
		record(types.FileTypeCache, filepath.Join(pkg, "b.py"), types.StatusValidStale, "content hash differs"),
		record(types.FileTypeCache, filepath.Join(pkg, "deleted.py"), types.StatusConfirmedOrphaned, "source no longer exists"),
		record(types.FileTypeKnowledge, pkg, types.StatusValidFresh, "children unchanged"),
		record(types.FileTypeKnowledge, root, types.StatusValidFresh, "children unchanged"),
	}, nil)

	require.Len(t, decisions, 5)
	require.NoError(t, Validate(decisions))

	got := byAction(decisions)
	assert.Equal(t, types.ActionSkip, got[filepath.Join(pkg, "a.py")].Action)
	assert.Equal(t, types.ActionAnalyzeFile, got[filepath.Join(pkg, "b.py")].Action)
	assert.Equal(t, types.ActionDeleteOrphan, got[filepath.Join(pkg, "deleted.py")].Action)

	// Upward propagation from b.py reaches pkg and the root
	assert.Equal(t, types.ActionRebuildDirectoryKnowledge, got[pkg].Action)
	assert.Equal(t, "descendant requires re-analysis: pkg/b.py", got[pkg].Reason)
	assert.Equal(t, types.ActionRebuildDirectoryKnowledge, got[root].Action)
}

// TestDecide_OrphanDoesNotPropagate verifies deletions alone leave ancestors skipped
func TestDecide_OrphanDoesNotPropagate(t *testing.T) {
	e := New(projectRegistry(t))
	pkg := filepath.Join(root, "pkg")

	decisions := e.Decide(root, []discovery.Record{
		record(types.FileTypeCache, filepath.Join(pkg, "deleted.py"), types.StatusConfirmedOrphaned, "source no longer exists"),
		record(types.FileTypeKnowledge, pkg, types.StatusValidFresh, "children unchanged"),
	}, nil)

	got := byAction(decisions)
	assert.Equal(t, types.ActionSkip, got[pkg].Action)
	assert.Equal(t, 1, Count(decisions)[types.ActionDeleteOrphan])
}

// TestDecide_NewSources verifies sources without artifacts are scheduled
func TestDecide_NewSources(t *testing.T) {
	e := New(projectRegistry(t))
	pkg := filepath.Join(root, "pkg")

	decisions := e.Decide(root, nil, []types.SourceEntry{
		{Path: root, IsDir: true, HandlerType: handler.TypeProject, UnitRoot: root},
		{Path: pkg, IsDir: true, HandlerType: handler.TypeProject, UnitRoot: root},
		{Path: filepath.Join(pkg, "a.py"), HandlerType: handler.TypeProject, UnitRoot: root},
	})

	counts := Count(decisions)
	assert.Equal(t, 1, counts[types.ActionAnalyzeFile])
	assert.Equal(t, 2, counts[types.ActionRebuildDirectoryKnowledge])
	for _, d := range decisions {
		assert.Nil(t, d.File)
		assert.NotEmpty(t, d.Reason)
	}
}

// TestDecide_AllFresh verifies an unchanged tree produces only skips
func TestDecide_AllFresh(t *testing.T) {
	e := New(projectRegistry(t))
	pkg := filepath.Join(root, "pkg")

	decisions := e.Decide(root, []discovery.Record{
		record(types.FileTypeCache, filepath.Join(pkg, "a.py"), types.StatusValidFresh, "ok"),
		record(types.FileTypeKnowledge, pkg, types.StatusValidFresh, "ok"),
		record(types.FileTypeKnowledge, root, types.StatusValidFresh, "ok"),
	}, nil)

	for _, d := range decisions {
		assert.Equal(t, types.ActionSkip, d.Action, d.SourcePath)
		assert.False(t, d.RequiresWork())
	}
}

// TestDecide_IsPure verifies identical input gives identical output
func TestDecide_IsPure(t *testing.T) {
	e := New(projectRegistry(t))
	pkg := filepath.Join(root, "pkg")
	build := func() []discovery.Record {
		return []discovery.Record{
			record(types.FileTypeKnowledge, pkg, types.StatusValidFresh, "ok"),
			record(types.FileTypeCache, filepath.Join(pkg, "z.py"), types.StatusValidStale, "size changed"),
			record(types.FileTypeCache, filepath.Join(pkg, "a.py"), types.StatusValidFresh, "ok"),
		}
	}

	first := e.Decide(root, build(), nil)
	second := e.Decide(root, build(), nil)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Action, second[i].Action)
		assert.Equal(t, first[i].SourcePath, second[i].SourcePath)
		assert.Equal(t, first[i].Reason, second[i].Reason)
	}
	assert.Equal(t, filepath.Join(pkg, "a.py"), second[1].SourcePath)
}

// loopHandler reports a parent mapping that cycles between two directories
type loopHandler struct{ handler.ProjectHandler }

func (l *loopHandler) Type() string { return "loop" }

func (l *loopHandler) ParentSource(sourcePath, sourceRoot string) (string, bool) {
	switch filepath.Base(sourcePath) {
	case "a":
		return filepath.Join(sourceRoot, "b"), true
	case "b":
		return filepath.Join(sourceRoot, "a"), true
	case "f.py":
		return filepath.Join(sourceRoot, "a"), true
	}
	return "", false
}

// TestDecide_ParentLoopTerminates verifies propagation survives a looping handler
func TestDecide_ParentLoopTerminates(t *testing.T) {
	reg, err := handler.NewRegistry(&loopHandler{})
	require.NoError(t, err)
	e := New(reg)

	decisions := e.Decide(root, nil, []types.SourceEntry{
		{Path: filepath.Join(root, "a"), IsDir: true, HandlerType: "loop", UnitRoot: root},
		{Path: filepath.Join(root, "b"), IsDir: true, HandlerType: "loop", UnitRoot: root},
		{Path: filepath.Join(root, "f.py"), HandlerType: "loop", UnitRoot: root},
	})
	assert.Len(t, decisions, 3)
}
