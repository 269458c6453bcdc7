package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrJournalDisabled is returned by history when no journal is configured
var ErrJournalDisabled = errors.New("journal is disabled")

func RunHistory(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if a.journal == nil {
		return ErrJournalDisabled
	}

	flags := cmd.Flags()
	asJSON, err := flags.GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to read --json flag: %w", err)
	}
	runID, err := optionalString(cmd, "run")
	if err != nil {
		return err
	}

	if runID != "" {
		run, err := a.journal.GetRun(cmd.Context(), runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		return printRunDetail(cmd.OutOrStdout(), runEntry(run), asJSON)
	}

	limit, err := flags.GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to read --limit flag: %w", err)
	}
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	runs, err := a.journal.ListRuns(cmd.Context(), a.root, limit)
	if err != nil {
		return err
	}
	entries := make([]RunEntry, 0, len(runs))
	for _, run := range runs {
		entries = append(entries, runEntry(run))
	}
	return printHistory(cmd.OutOrStdout(), entries, asJSON)
}
