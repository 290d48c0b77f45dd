// Package mcp exposes the workflows as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xeipuuv/gojsonschema"

	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	"github.com/gnana997/designflow/pkg/mcplog"
	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/remote"
	"github.com/gnana997/designflow/pkg/workflow"
)

// ServerName is reported to clients during initialisation.
const ServerName = "designflow"

// Workflows is the core the tools call into.
type Workflows interface {
	GenerateAndCommit(ctx context.Context, wc *workflow.Context) remote.Result[workflow.GenerateResult]
	VisualTest(ctx context.Context, wc *workflow.Context, targetURL string, threshold float64) remote.Result[workflow.VisualReport]
	OpenChangeRequest(ctx context.Context, wc *workflow.Context, opts workflow.ChangeRequestOptions) remote.Result[githost.PullRequest]
	AnalyzeDesign(ctx context.Context, loc figma.Locator) remote.Result[workflow.DesignAnalysis]
	CreateBranch(ctx context.Context, name, base string) remote.Result[githost.Branch]
	ListBaselines(pattern string) remote.Result[[]string]
	RepositoryInfo(ctx context.Context) remote.Result[workflow.RepositoryOverview]
}

// Options configure a Server. Every field is optional.
type Options struct {
	Version string
	Logger  *slog.Logger
	ToolLog *mcplog.Logger
	Metrics *metrics.Metrics
}

// Server is the MCP front end.
type Server struct {
	mcpServer *server.MCPServer
	flows     Workflows
	logger    *slog.Logger
	toolLog   *mcplog.Logger
	metrics   *metrics.Metrics

	tools    []server.ServerTool
	handlers map[string]server.ToolHandlerFunc
	schemas  map[string]*gojsonschema.Schema
}

// NewServer registers every tool. Each handler runs behind the observing and
// schema-validating middleware.
func NewServer(flows Workflows, opts Options) (*Server, error) {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		flows:    flows,
		logger:   opts.Logger.With("component", "mcp"),
		toolLog:  opts.ToolLog,
		metrics:  opts.Metrics,
		handlers: make(map[string]server.ToolHandlerFunc),
		schemas:  make(map[string]*gojsonschema.Schema),
	}

	defs := []server.ServerTool{
		{Tool: generateComponentTool(), Handler: s.handleGenerateComponent},
		{Tool: testImplementationTool(), Handler: s.handleTestImplementation},
		{Tool: createPullRequestTool(), Handler: s.handleCreatePullRequest},
		{Tool: analyzeDesignTool(), Handler: s.handleAnalyzeDesign},
		{Tool: createBranchTool(), Handler: s.handleCreateBranch},
		{Tool: listBaselinesTool(), Handler: s.handleListBaselines},
		{Tool: repositoryInfoTool(), Handler: s.handleRepositoryInfo},
	}
	for _, d := range defs {
		schema, err := compileSchema(d.Tool)
		if err != nil {
			return nil, fmt.Errorf("mcp: schema for %s: %w", d.Tool.Name, err)
		}
		s.schemas[d.Tool.Name] = schema
		d.Handler = chain(d.Handler, s.observeMiddleware(), s.validationMiddleware())
		s.handlers[d.Tool.Name] = d.Handler
		s.tools = append(s.tools, d)
	}

	s.mcpServer = server.NewMCPServer(
		ServerName,
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcpServer.AddTools(s.tools...)
	return s, nil
}

// Tools returns the registered tool definitions in registration order.
func (s *Server) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.Tool
	}
	return out
}

// Call runs one tool through its middleware chain, as the transport would.
func (s *Server) Call(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, ok := s.handlers[req.Params.Name]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("[%s] unknown tool %q", remote.KindNotFound, req.Params.Name)), nil
	}
	return h(ctx, req)
}

// ServeStdio serves on in and out until ctx is cancelled or in is closed.
// Protocol errors go to the structured logger, never to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(&slogWriter{logger: s.logger}, "", 0))
	return stdio.Listen(ctx, in, out)
}

// compileSchema turns a tool's input schema into a validator.
func compileSchema(t mcp.Tool) (*gojsonschema.Schema, error) {
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
}

// chain wraps h so the first middleware runs outermost.
func chain(h server.ToolHandlerFunc, mws ...server.ToolHandlerMiddleware) server.ToolHandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// slogWriter adapts the stdio server's *log.Logger output to slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Warn("mcp transport", "message", string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
