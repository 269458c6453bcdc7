// Package executor runs an execution plan level by level.
//
// Tasks inside a level run concurrently up to a configured limit and the next
// level starts only after the whole level has finished. Failures are recorded
// in the ExecutionResult; a task whose dependency failed is recorded as failed
// without running. Fail-fast mode stops after the level that failed, and a
// cancelled context stops execution at the next level boundary.
//
// Dry-run mode walks exactly the same levels but replaces every task with a
// no-op, so the traversal can be compared with a real run.
package executor
