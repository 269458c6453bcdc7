package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-kb/internal/analysis"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/internal/indexer"
	"github.com/dshills/gocontext-kb/internal/storage"
)

// blockingAnalysis holds the first AnalyzeFile call until released
type blockingAnalysis struct {
	analysis.Service
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAnalysis) AnalyzeFile(ctx context.Context, req analysis.FileRequest) (*analysis.Summary, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Service.AnalyzeFile(ctx, req)
}

func createTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	createTestFile(t, root, "pkg/a.go", "package pkg\n\nfunc A() {}\n")
	createTestFile(t, root, "pkg/b.go", "package pkg\n\nfunc B() {}\n")
	return root
}

func setupServer(t *testing.T, svc analysis.Service) *Server {
	t.Helper()
	if svc == nil {
		local, err := analysis.NewLocalProvider(nil)
		require.NoError(t, err)
		svc = local
	}
	reg, err := handler.DefaultRegistry(handler.Options{}, false)
	require.NoError(t, err)

	journal, err := storage.NewSQLiteJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	server, err := NewServer(indexer.New(reg, svc, indexer.WithJournal(journal)), Options{})
	require.NoError(t, err)
	return server
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// decodeResult unmarshals the JSON text content of a tool result
func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func TestServer_Initialization(t *testing.T) {
	server := setupServer(t, nil)

	assert.NotNil(t, server.mcp, "MCP server should be initialized")
	assert.NotNil(t, server.indexer, "Indexer should be initialized")
	assert.Equal(t, handler.DefaultKnowledgeDir, server.opts.KnowledgeDir)
}

// TestToolDefinitions verifies every tool requires a path
func TestToolDefinitions(t *testing.T) {
	for _, tool := range []mcp.Tool{indexKnowledgeTool(), previewPlanTool(), getStatusTool()} {
		t.Run(tool.Name, func(t *testing.T) {
			assert.Equal(t, "object", tool.InputSchema.Type)
			assert.Equal(t, []string{"path"}, tool.InputSchema.Required)
			assert.Contains(t, tool.InputSchema.Properties, "path")
			assert.NotEmpty(t, tool.Description)
		})
	}
}

func TestHandleIndexKnowledge(t *testing.T) {
	root := setupProject(t)
	server := setupServer(t, nil)

	result, err := server.handleIndexKnowledge(context.Background(), callRequest("index_knowledge", map[string]interface{}{
		"path": root,
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, float64(2), out["files_analyzed"])
	assert.Equal(t, float64(2), out["knowledge_built"])
	assert.Equal(t, float64(0), out["failed"])
	assert.Equal(t, false, out["dry_run"])
	assert.NotContains(t, out, "errors")
	assert.FileExists(t, filepath.Join(root, ".knowledge", "project", "pkg", "KNOWLEDGE.md"))
}

// TestHandleIndexKnowledge_DryRun verifies dry_run writes nothing
func TestHandleIndexKnowledge_DryRun(t *testing.T) {
	root := setupProject(t)
	server := setupServer(t, nil)

	result, err := server.handleIndexKnowledge(context.Background(), callRequest("index_knowledge", map[string]interface{}{
		"path":        root,
		"dry_run":     true,
		"concurrency": float64(2),
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, true, out["dry_run"])
	assert.Equal(t, float64(4), out["tasks"])
	assert.Equal(t, float64(0), out["files_analyzed"])
	assert.NoDirExists(t, filepath.Join(root, ".knowledge"))
}

func TestHandleIndexKnowledge_InvalidParams(t *testing.T) {
	server := setupServer(t, nil)
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing path", map[string]interface{}{}},
		{"empty path", map[string]interface{}{"path": ""}},
		{"relative path", map[string]interface{}{"path": "relative/dir"}},
		{"nonexistent path", map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing")}},
		{"file path", map[string]interface{}{"path": file}},
		{"bad concurrency", map[string]interface{}{"path": t.TempDir(), "concurrency": float64(500)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.handleIndexKnowledge(context.Background(), callRequest("index_knowledge", tt.args))
			requireMCPError(t, err, ErrorCodeInvalidParams)
		})
	}

	t.Run("arguments not an object", func(t *testing.T) {
		var req mcp.CallToolRequest
		req.Params.Arguments = "nope"
		_, err := server.handleIndexKnowledge(context.Background(), req)
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})
}

// TestHandleIndexKnowledge_InProgress verifies a concurrent call is refused
func TestHandleIndexKnowledge_InProgress(t *testing.T) {
	root := setupProject(t)
	local, err := analysis.NewLocalProvider(nil)
	require.NoError(t, err)
	svc := &blockingAnalysis{Service: local, started: make(chan struct{}), release: make(chan struct{})}
	server := setupServer(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := server.handleIndexKnowledge(context.Background(), callRequest("index_knowledge", map[string]interface{}{"path": root}))
		done <- err
	}()
	<-svc.started

	_, err = server.handleIndexKnowledge(context.Background(), callRequest("index_knowledge", map[string]interface{}{"path": root}))
	requireMCPError(t, err, ErrorCodeIndexingInProgress)

	status, err := server.handleGetStatus(context.Background(), callRequest("get_status", map[string]interface{}{"path": root}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, status)["running"])

	close(svc.release)
	require.NoError(t, <-done)
}

func TestHandlePreviewPlan(t *testing.T) {
	root := setupProject(t)
	server := setupServer(t, nil)

	result, err := server.handlePreviewPlan(context.Background(), callRequest("preview_plan", map[string]interface{}{
		"path": root,
	}))
	require.NoError(t, err)

	out := decodeResult(t, result)
	assert.Equal(t, float64(4), out["tasks"])
	assert.Equal(t, float64(3), out["levels"])
	assert.Equal(t, float64(2), out["widest"])
	assert.NotEmpty(t, out["fingerprint"])
	assert.Contains(t, out["plan"], "analyze:project:pkg/a.go")
	assert.NoDirExists(t, filepath.Join(root, ".knowledge"))

	result, err = server.handlePreviewPlan(context.Background(), callRequest("preview_plan", map[string]interface{}{
		"path":          root,
		"include_tasks": false,
	}))
	require.NoError(t, err)
	assert.NotContains(t, decodeResult(t, result), "plan")
}

func TestHandleGetStatus(t *testing.T) {
	root := setupProject(t)
	server := setupServer(t, nil)
	ctx := context.Background()

	result, err := server.handleGetStatus(ctx, callRequest("get_status", map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["indexed"])
	assert.Equal(t, false, out["running"])
	assert.NotEmpty(t, out["message"])
	assert.NotContains(t, out, "last_run")
	assert.Empty(t, out["history"])

	_, err = server.handleIndexKnowledge(ctx, callRequest("index_knowledge", map[string]interface{}{"path": root}))
	require.NoError(t, err)

	result, err = server.handleGetStatus(ctx, callRequest("get_status", map[string]interface{}{"path": root}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.Equal(t, true, out["indexed"])
	assert.NotContains(t, out, "message")

	last, ok := out["last_run"].(map[string]interface{})
	require.True(t, ok)
	runID := last["run_id"]
	assert.NotEmpty(t, runID)

	history, ok := out["history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 1)
	entry := history[0].(map[string]interface{})
	assert.Equal(t, runID, entry["run_id"])
	assert.Equal(t, float64(2), entry["files_analyzed"])
}

func TestHandleGetStatus_Limit(t *testing.T) {
	server := setupServer(t, nil)

	_, err := server.handleGetStatus(context.Background(), callRequest("get_status", map[string]interface{}{
		"path":  t.TempDir(),
		"limit": float64(0),
	}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	assert.ErrorIs(t, validatePath(""), ErrPathRequired)
	assert.ErrorIs(t, validatePath("rel"), ErrPathNotAbsolute)
	assert.ErrorIs(t, validatePath(filepath.Join(dir, "nope")), ErrPathNotFound)
	assert.ErrorIs(t, validatePath(file), ErrNotDirectory)
	assert.NoError(t, validatePath(dir))
}
