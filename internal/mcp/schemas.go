package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexKnowledgeTool returns the tool definition for index_knowledge
func indexKnowledgeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_knowledge",
		Description: "Bring the knowledge base of a project up to date: analyze changed files, rebuild affected directory summaries and remove orphaned artifacts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"dry_run": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, traverse the plan without writing artifacts or calling the analysis service",
					"default":     false,
				},
				"fail_fast": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, stop scheduling further levels after a level with failures",
					"default":     false,
				},
				"concurrency": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum concurrent tasks per level (1-64)",
					"minimum":     1,
					"maximum":     64,
				},
			},
			Required: []string{"path"},
		},
	}
}

// previewPlanTool returns the tool definition for preview_plan
func previewPlanTool() mcp.Tool {
	return mcp.Tool{
		Name:        "preview_plan",
		Description: "Show what index_knowledge would do for a project without doing it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"include_tasks": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include the level-by-level task listing",
					"default":     true,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query the knowledge base state and recent indexing runs for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of journal entries to return (1-50)",
					"default":     DefaultHistoryLimit,
					"minimum":     1,
					"maximum":     50,
				},
			},
			Required: []string{"path"},
		},
	}
}
