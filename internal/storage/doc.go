// Package storage keeps a SQLite journal of finished indexing runs.
//
// The journal is an audit log. Artifacts on disk remain the only state that
// discovery reads, so deleting the journal never changes what gets indexed.
//
// # Database Schema
//
// Tables:
//   - runs: one row per Index call (counts, success rate, plan fingerprint)
//   - task_results: one row per executed task of a run
//   - schema_version: applied migrations, compared as semantic versions
//
// # Basic Usage
//
//	j, err := storage.NewSQLiteJournal(".knowledge/journal.db")
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//
//	err = j.RecordRun(ctx, storage.RunFromResult(result, started, plan.Fingerprint()))
//	runs, err := j.ListRuns(ctx, root, 10)
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and needs no C compiler. Building
// with the cgo_sqlite tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags cgo_sqlite ./...
//
// Connections are limited to one writer and the database runs in WAL mode.
package storage
