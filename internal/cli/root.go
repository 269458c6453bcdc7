// Package cli implements the gocontext-kb command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/gocontext-kb/internal/storage"
)

// NewRootCommand builds the command tree
func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gocontext-kb",
		Short: "Maintain an incremental knowledge base of a source tree",
		Long: `gocontext-kb keeps a mirrored knowledge base of a source tree up to date:
one analysis per source file and one KNOWLEDGE.md per directory, rebuilt only
when the sources below them change.

Artifacts are written to .knowledge/ under the project root. Settings are read
from .gocontext-kb.toml in the project root and GOCONTEXT_KB_* variables.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <root>/.gocontext-kb.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text|json")
	rootCmd.PersistentFlags().String("provider", "", "Analysis provider: local|anthropic|openai")
	rootCmd.PersistentFlags().String("model", "", "Analysis model (default: provider default)")
	rootCmd.PersistentFlags().Bool("no-journal", false, "Do not record runs in the journal")

	indexCmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Bring the knowledge base up to date",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunIndex,
	}
	indexCmd.Flags().Bool("dry-run", false, "Traverse the plan without writing artifacts or calling the analysis service")
	indexCmd.Flags().Bool("fail-fast", false, "Stop scheduling levels after a level with failures")
	addRunFlags(indexCmd)
	indexCmd.Flags().Bool("json", false, "Print machine-readable run summary")
	indexCmd.Flags().BoolP("quiet", "q", false, "Do not print progress")

	previewCmd := &cobra.Command{
		Use:   "preview [path]",
		Short: "Show what index would do without doing it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunPreview,
	}
	previewCmd.Flags().Int("workers", 0, "Concurrent source validations (default: config)")
	previewCmd.Flags().Bool("json", false, "Print machine-readable plan summary")

	serveCmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunServe,
	}
	addRunFlags(serveCmd)

	watchCmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index, then re-index whenever sources change",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunWatch,
	}
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before re-indexing (default: config)")
	watchCmd.Flags().Bool("fail-fast", false, "Stop scheduling levels after a level with failures")
	addRunFlags(watchCmd)

	historyCmd := &cobra.Command{
		Use:   "history [path]",
		Short: "List recorded runs from the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunHistory,
	}
	historyCmd.Flags().Int("limit", 10, "Maximum number of runs to list")
	historyCmd.Flags().String("run", "", "Show the task results of one run")
	historyCmd.Flags().Bool("json", false, "Print machine-readable history")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gocontext-kb %s\n", version)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "sqlite driver: %s (%s)\n", storage.DriverName, storage.BuildMode)
			}
		},
	}

	versionCmd.Flags().BoolP("verbose", "v", false, "Also print build details")

	rootCmd.AddCommand(
		indexCmd,
		previewCmd,
		serveCmd,
		watchCmd,
		historyCmd,
		versionCmd,
	)

	return rootCmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("concurrency", 0, "Maximum concurrent tasks per level (default: config)")
	cmd.Flags().Int("workers", 0, "Concurrent source validations (default: config)")
}
