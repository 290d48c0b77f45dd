package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xeipuuv/gojsonschema"

	"github.com/gnana997/designflow/pkg/remote"
)

// observeMiddleware records every call in the metrics, the tool log and the
// structured log.
func (s *Server) observeMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, req)

			failed := err != nil || (result != nil && result.IsError)
			s.metrics.ObserveTool(req.Params.Name, failed, time.Since(start))
			if lerr := s.toolLog.Record(req.Params.Name, req.GetArguments(), start, result, err); lerr != nil {
				s.logger.Warn("tool log write failed", "error", lerr)
			}
			s.logger.Debug("tool call", "tool", req.Params.Name, "failed", failed, "duration", time.Since(start))
			return result, err
		}
	}
}

// validationMiddleware rejects arguments that do not match the tool's schema
// before the handler runs.
func (s *Server) validationMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			schema, ok := s.schemas[req.Params.Name]
			if !ok {
				return next(ctx, req)
			}
			args := req.GetArguments()
			if args == nil {
				args = map[string]any{}
			}
			res, err := schema.Validate(gojsonschema.NewGoLoader(args))
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("[%s] arguments are not a JSON object: %v", remote.KindInvalidInput, err)), nil
			}
			if !res.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("[%s] invalid arguments: %s", remote.KindInvalidInput, describe(res.Errors()))), nil
			}
			return next(ctx, req)
		}
	}
}

func describe(errs []gojsonschema.ResultError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}
