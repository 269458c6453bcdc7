// Package indexer coordinates the end-to-end knowledge indexing pipeline.
//
// One run moves through four stages:
//
//  1. Discovery: every handler scans its knowledge area and source area, then
//     validates each artifact against its source (fresh, stale or orphaned)
//  2. Decision: each artifact and new source is mapped to an action
//  3. Planning: actions become tasks, ordered into dependency levels
//  4. Execution: levels run in order, tasks within a level concurrently
//
// # Basic Usage
//
//	reg, _ := handler.DefaultRegistry(handler.Options{}, true)
//	svc, _ := analysis.New(analysis.Config{Provider: analysis.ProviderLocal})
//	idx := indexer.New(reg, svc, indexer.WithJournal(journal))
//
//	res, err := idx.Index(ctx, "/path/to/project", &indexer.Config{Concurrency: 4})
//	fmt.Printf("%d analyzed, %d built, %d deleted\n",
//	    res.FilesAnalyzed(), res.KnowledgeBuilt(), res.OrphansDeleted())
//
// A run is incremental: artifacts whose source did not change are skipped,
// so a second run over an unchanged tree executes no tasks.
//
// # Errors
//
// Index returns an error without a result only for fatal problems: an
// invalid root, an unreadable knowledge area, or a dependency cycle. Task
// failures are recorded in the result and never abort the run. A cancelled
// context stops scheduling at the next level boundary and returns the
// partial result together with the context error.
//
// Only one run may be in flight per Indexer; a concurrent call returns
// ErrIndexingInProgress.
//
// # Preview
//
// Preview runs the first three stages and returns the plan without touching
// the filesystem, the analysis service or the journal.
package indexer
