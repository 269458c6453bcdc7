package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/gocontext-kb/internal/decision"
	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/internal/indexer"
	"github.com/dshills/gocontext-kb/internal/storage"
	"github.com/dshills/gocontext-kb/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
)

// maxReportedErrors bounds the error list in tool responses
const maxReportedErrors = 5

// handleIndexKnowledge handles the index_knowledge tool invocation
func (s *Server) handleIndexKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := pathArgument(request)
	if err != nil {
		return nil, err
	}

	config := s.opts.Defaults
	config.DryRun = getBoolDefault(args, "dry_run", config.DryRun)
	config.FailFast = getBoolDefault(args, "fail_fast", config.FailFast)
	if n := getIntDefault(args, "concurrency", 0); n != 0 {
		if n < 1 || n > 64 {
			return nil, newMCPError(ErrorCodeInvalidParams, "concurrency must be between 1 and 64", map[string]interface{}{
				"param": "concurrency",
				"value": n,
			})
		}
		config.Concurrency = n
	}
	config.Progress = func(msg string) {
		s.logger.Debug("index progress", slog.String("root", path), slog.String("message", msg))
	}

	result, err := s.indexer.Index(ctx, path, &config)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"path": path,
		})
	}
	if err != nil && result == nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := resultResponse(result)
	if err != nil {
		response["error"] = err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handlePreviewPlan handles the preview_plan tool invocation
func (s *Server) handlePreviewPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := pathArgument(request)
	if err != nil {
		return nil, err
	}

	config := s.opts.Defaults
	report, err := s.indexer.Preview(ctx, path, &config)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "planning failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	pv := report.Plan.Preview()
	response := map[string]interface{}{
		"root":        report.SourceRoot,
		"discovery":   discoveryResponse(report.Discovery),
		"decisions":   decision.Count(report.Decisions),
		"tasks":       pv.TotalTasks,
		"task_counts": pv.TaskCounts,
		"levels":      pv.Levels,
		"widest":      pv.WidestLevel,
		"skipped":     pv.Skipped,
		// Upper bound on analysis calls if nothing is served from cache
		"estimated_service_calls": pv.EstimatedServiceCalls,
		"fingerprint":             report.Plan.Fingerprint(),
	}
	if getBoolDefault(args, "include_tasks", true) {
		response["plan"] = report.Plan.Describe()
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, path, err := pathArgument(request)
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", DefaultHistoryLimit)
	if limit < 1 || limit > 50 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 50", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	// The journal lives in the knowledge dir too, so look for the root synthesis
	_, statErr := os.Stat(filepath.Join(path, s.opts.KnowledgeDir, handler.TypeProject, handler.KnowledgeFileName))
	response := map[string]interface{}{
		"root":    path,
		"indexed": statErr == nil,
		"running": s.indexer.Running(),
	}
	if !s.indexer.Running() && statErr != nil {
		response["message"] = "Knowledge base not built. Use index_knowledge tool to build it."
	}

	if status := s.indexer.LastStatus(); status != nil && sameRoot(status.SourceRoot, path) {
		last := map[string]interface{}{
			"run_id":     status.RunID,
			"started_at": status.StartedAt.Format(time.RFC3339),
		}
		if status.Result != nil {
			last["result"] = resultResponse(status.Result)
		}
		if status.Err != nil {
			last["error"] = status.Err.Error()
		}
		response["last_run"] = last
	}

	if journal := s.indexer.Journal(); journal != nil {
		runs, err := journal.ListRuns(ctx, path, limit)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to read run journal", map[string]interface{}{
				"error": err.Error(),
			})
		}
		history := make([]map[string]interface{}, 0, len(runs))
		for _, run := range runs {
			history = append(history, runResponse(run))
		}
		response["history"] = history
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func resultResponse(result *types.IndexingResult) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":          result.RunID,
		"root":            result.SourceRoot,
		"dry_run":         result.DryRun,
		"files_analyzed":  result.FilesAnalyzed(),
		"knowledge_built": result.KnowledgeBuilt(),
		"orphans_deleted": result.OrphansDeleted(),
		"skipped":         result.Preview.Skipped,
		"tasks":           result.Preview.TotalTasks,
		"success_rate":    result.SuccessRate(),
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if exec := result.Execution; exec != nil {
		response["failed"] = exec.Failed
		response["noops"] = exec.Noops
		response["levels_executed"] = exec.LevelsExecuted
		response["cancelled"] = exec.Cancelled
		response["stopped_early"] = exec.StoppedEarly
	}

	if errs := result.Errors(); len(errs) > 0 {
		messages := make([]string, 0, maxReportedErrors)
		for i, e := range errs {
			if i == maxReportedErrors {
				break
			}
			messages = append(messages, e.Error())
		}
		response["errors"] = messages
		response["error_count"] = len(errs)
	}
	return response
}

func discoveryResponse(stats types.DiscoveryStats) map[string]interface{} {
	return map[string]interface{}{
		"knowledge_files":   stats.KnowledgeFiles,
		"by_handler":        stats.ByHandler,
		"fresh":             stats.Fresh,
		"stale":             stats.Stale,
		"orphaned":          stats.Orphaned,
		"new_sources":       stats.NewSources,
		"validation_errors": len(stats.ValidationErrors),
	}
}

func runResponse(run *storage.Run) map[string]interface{} {
	return map[string]interface{}{
		"run_id":          run.ID,
		"started_at":      run.StartedAt.Format(time.RFC3339),
		"duration_ms":     run.Duration().Milliseconds(),
		"dry_run":         run.DryRun,
		"tasks":           run.Tasks,
		"files_analyzed":  run.Analyzed,
		"knowledge_built": run.Built,
		"orphans_deleted": run.Deleted,
		"failed":          run.Failed,
		"success_rate":    run.SuccessRate,
		"cancelled":       run.Cancelled,
		"stopped_early":   run.StoppedEarly,
	}
}

// pathArgument extracts the arguments map and the validated, cleaned path
func pathArgument(request mcp.CallToolRequest) (map[string]interface{}, string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	if err := validatePath(path); err != nil {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return args, filepath.Clean(path), nil
}

func sameRoot(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && filepath.Clean(absA) == filepath.Clean(absB)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is accessible
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
