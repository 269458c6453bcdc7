// Package plan turns indexing decisions into an executable DAG of atomic tasks.
//
// Three task variants exist: AnalyzeFileTask writes a file's cache artifact,
// BuildKnowledgeBaseTask synthesizes a directory's knowledge artifact from its
// children, and CleanupTask removes an orphaned artifact. Tasks are created by
// factories keyed on the decision action.
//
// A directory task depends on the tasks of its direct children that do work.
// The cleanup of an orphaned knowledge artifact depends on the cleanups of the
// artifacts directly below it. Tasks are grouped into levels with Kahn's
// algorithm; tasks that must not overlap are split into adjacent sub-levels.
//
//	p, err := plan.NewGenerator(handlers).Generate(root, decisions)
//	var cycle *types.DependencyCycleError
//	if errors.As(err, &cycle) {
//	    fmt.Println(strings.Join(cycle.Cycle, " -> "))
//	}
//	fmt.Print(p.Describe())
package plan
