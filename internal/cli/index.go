package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ErrTasksFailed is returned by index when the run recorded task failures
var ErrTasksFailed = errors.New("tasks failed")

func RunIndex(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to read --json flag: %w", err)
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to read --quiet flag: %w", err)
	}

	config := a.runConfig()
	if !quiet {
		config.Progress = progressPrinter(cmd.ErrOrStderr())
	}

	result, runErr := a.indexer.Index(cmd.Context(), a.root, config)
	if result == nil {
		return runErr
	}

	summary := summarizeResult(result)
	if err := printRunSummary(cmd.OutOrStdout(), summary, asJSON); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d %w", summary.Failed, ErrTasksFailed)
	}
	return nil
}

func progressPrinter(w io.Writer) func(string) {
	return func(msg string) {
		fmt.Fprintf(w, "  %s\n", msg)
	}
}
