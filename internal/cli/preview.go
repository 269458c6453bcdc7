package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func RunPreview(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to read --json flag: %w", err)
	}

	report, err := a.indexer.Preview(cmd.Context(), a.root, a.runConfig())
	if err != nil {
		return err
	}
	return printPlanSummary(cmd.OutOrStdout(), summarizeReport(report), asJSON)
}
