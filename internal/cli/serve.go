package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/gocontext-kb/internal/mcp"
)

// RunServe serves the MCP tools over stdio until the context ends or stdin closes.
// Logs go to stderr; stdout carries only protocol messages.
func RunServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv, err := mcp.NewServer(a.indexer, mcp.Options{
		Defaults:     *a.runConfig(),
		KnowledgeDir: a.cfg.Index.KnowledgeDir,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	a.logger.Info("serving MCP over stdio", "root", a.root)
	return srv.Listen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}
