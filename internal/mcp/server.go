package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/gocontext-kb/internal/handler"
	"github.com/dshills/gocontext-kb/internal/indexer"
)

const (
	// ServerName is the MCP server name
	ServerName = "gocontext-kb"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultHistoryLimit is the number of journal entries get_status returns by default
	DefaultHistoryLimit = 5
)

// Options configures the tools exposed by a Server
type Options struct {
	// Defaults are applied to every index_knowledge call; tool arguments override them
	Defaults indexer.Config
	// KnowledgeDir is the artifact root relative to a project (default ".knowledge")
	KnowledgeDir string
	Logger       *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	indexer *indexer.Indexer
	opts    Options
	logger  *slog.Logger
}

// NewServer creates a new MCP server over an indexer
func NewServer(idx *indexer.Indexer, opts Options) (*Server, error) {
	if opts.KnowledgeDir == "" {
		opts.KnowledgeDir = handler.DefaultKnowledgeDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:     mcpServer,
		indexer: idx,
		opts:    opts,
		logger:  logger,
	}

	s.registerTools()

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen serves the protocol over arbitrary streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server listening", slog.String("name", ServerName), slog.String("version", ServerVersion))
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexKnowledgeTool(), s.handleIndexKnowledge)
	s.mcp.AddTool(previewPlanTool(), s.handlePreviewPlan)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
