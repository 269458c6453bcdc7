// Package mcp implements the Model Context Protocol (MCP) server for the
// knowledge indexer.
//
// The server exposes three tools to AI coding assistants:
//   - index_knowledge: bring a project's knowledge base up to date
//   - preview_plan: show the tasks the next run would execute
//   - get_status: report whether a knowledge base exists and list recent runs
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Basic Usage
//
//	gocontext-kb serve
//
// # Tool: index_knowledge
//
//	Request:
//	{
//	  "name": "index_knowledge",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "dry_run": false,
//	    "fail_fast": false,
//	    "concurrency": 4
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "5c0e...",
//	  "files_analyzed": 12,
//	  "knowledge_built": 4,
//	  "orphans_deleted": 1,
//	  "failed": 0,
//	  "success_rate": 1,
//	  "duration_ms": 840
//	}
//
// Task failures do not fail the call; they are listed under "errors" (first
// five) with the total in "error_count".
//
// # Tool: preview_plan
//
// Runs discovery and planning only. The response carries the decision
// counts, the number of tasks and levels, the plan fingerprint and,
// unless include_tasks is false, the level-by-level task listing.
//
// # Tool: get_status
//
// Reports whether the knowledge directory exists, whether a run is in
// flight, the last run of this server for the project, and the most recent
// journal entries (limit, default 5).
//
// # Error Codes
//
//	-32602  Invalid params (missing, relative or nonexistent path)
//	-32603  Internal error (discovery or planning failed)
//	-32002  Indexing already in progress
package mcp
