// Package types provides shared type definitions for the gocontext-kb indexing engine.
//
// This package defines the domain types passed between the pipeline stages:
// discovery, decision, planning, and execution.
//
// # Core Types
//
// KnowledgeFile represents one generated artifact paired with the source it mirrors.
// Discovery creates every record with the provisional StatusOrphaned; source
// validation then assigns exactly one terminal status:
//
//	kf := &types.KnowledgeFile{
//	    Path:        "/repo/.knowledge/project/pkg/KNOWLEDGE.md",
//	    HandlerType: "project",
//	    FileType:    types.FileTypeKnowledge,
//	    Status:      types.StatusOrphaned,
//	}
//
// Decision is the verdict for a record (or for a source with no artifact yet):
//
//	types.ActionSkip                      // fresh, nothing to do
//	types.ActionAnalyzeFile               // (re)generate a per-file analysis
//	types.ActionRebuildDirectoryKnowledge // (re)generate a directory synthesis
//	types.ActionDeleteOrphan              // source is gone, remove the artifact
//
// Every decision carries a human-auditable Reason.
//
// # Errors
//
// Fatal errors (DiscoveryError, DependencyCycleError) are returned from Index.
// Everything else (ValidationError, TaskExecutionError, AnalysisServiceError)
// is accumulated into IndexingResult and surfaced as data:
//
//	if errors.Is(err, types.ErrDependencyCycle) {
//	    // handler bug: the artifact hierarchy is not a tree
//	}
//
//	for _, e := range result.Errors() {
//	    var svcErr *types.AnalysisServiceError
//	    if errors.As(e, &svcErr) {
//	        log.Printf("analysis failed for %s", svcErr.Path)
//	    }
//	}
//
// # Results
//
// IndexingResult always reports a success rate. A run with no tasks has a
// success rate of 1.
package types
