package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/remote"
	"github.com/gnana997/designflow/pkg/workflow"
)

func (s *Server) handleGenerateComponent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc, errResult := locator(req)
	if errResult != nil {
		return errResult, nil
	}
	if loc.NodeID == "" {
		return invalidArgs("a node id is required, either as node_id or in the design URL"), nil
	}

	wc := &workflow.Context{
		FileKey:       loc.FileKey,
		NodeID:        loc.NodeID,
		ComponentName: req.GetString("name", ""),
		OutputDir:     req.GetString("output_dir", ""),
		Branch:        req.GetString("branch", ""),
		BaseBranch:    req.GetString("base_branch", ""),
	}
	return toolResult(s.flows.GenerateAndCommit(ctx, wc))
}

func (s *Server) handleTestImplementation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc, errResult := locator(req)
	if errResult != nil {
		return errResult, nil
	}

	wc := &workflow.Context{
		FileKey:       loc.FileKey,
		NodeID:        loc.NodeID,
		ComponentName: req.GetString("name", ""),
	}
	return toolResult(s.flows.VisualTest(ctx, wc, req.GetString("url", ""), req.GetFloat("threshold", 0)))
}

func (s *Server) handleCreatePullRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc, errResult := locator(req)
	if errResult != nil {
		return errResult, nil
	}

	wc := &workflow.Context{
		FileKey:       loc.FileKey,
		NodeID:        loc.NodeID,
		ComponentName: req.GetString("name", ""),
		Branch:        req.GetString("branch", ""),
		BaseBranch:    req.GetString("base_branch", ""),
	}
	opts := workflow.ChangeRequestOptions{
		Title: req.GetString("title", ""),
		Draft: req.GetBool("draft", false),
	}
	return toolResult(s.flows.OpenChangeRequest(ctx, wc, opts))
}

func (s *Server) handleAnalyzeDesign(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc, errResult := locator(req)
	if errResult != nil {
		return errResult, nil
	}
	return toolResult(s.flows.AnalyzeDesign(ctx, loc))
}

func (s *Server) handleCreateBranch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.flows.CreateBranch(ctx, req.GetString("name", ""), req.GetString("base_branch", "")))
}

func (s *Server) handleListBaselines(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.flows.ListBaselines(req.GetString("pattern", "")))
}

func (s *Server) handleRepositoryInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.flows.RepositoryInfo(ctx))
}

// locator resolves the design and node_id arguments.
func locator(req mcp.CallToolRequest) (figma.Locator, *mcp.CallToolResult) {
	design, err := req.RequireString("design")
	if err != nil {
		return figma.Locator{}, invalidArgs(err.Error())
	}
	loc, err := figma.ParseLocator(design)
	if err != nil {
		return figma.Locator{}, errorResult(err)
	}
	loc, err = loc.WithNode(req.GetString("node_id", ""))
	if err != nil {
		return figma.Locator{}, errorResult(err)
	}
	return loc, nil
}

// toolResult renders a workflow outcome: the payload as indented JSON text on
// success, "[kind] message" with IsError set on failure.
func toolResult[T any](r remote.Result[T]) (*mcp.CallToolResult, error) {
	if !r.Success {
		return mcp.NewToolResultError(r.String()), nil
	}
	data, err := json.MarshalIndent(r.Data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("[%s] encode result: %v", remote.KindInternal, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(remote.Fail[struct{}](err).String())
}

func invalidArgs(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", remote.KindInvalidInput, msg))
}
