// Package mcp exposes the dispatcher's tools over the Model Context
// Protocol: newline-delimited JSON-RPC on stdio, or POST /mcp over HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/internal/tools"
)

const (
	DefaultName    = "climcp"
	DefaultVersion = "dev"
)

type Options struct {
	Name    string
	Version string
	Logger  *zap.Logger
}

// Server bridges mcp-go to the dispatcher. Every registered tool forwards
// to Dispatch, so validation and error shaping happen in one place.
type Server struct {
	mcp        *server.MCPServer
	dispatcher *dispatch.Dispatcher
	name       string
	version    string
	logger     *zap.Logger
}

func NewServer(d *dispatch.Dispatcher, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}

	s := &Server{
		mcp: server.NewMCPServer(
			opts.Name,
			opts.Version,
			server.WithToolCapabilities(true),
		),
		dispatcher: d,
		name:       opts.Name,
		version:    opts.Version,
		logger:     logging.OrNop(opts.Logger),
	}
	for _, spec := range d.Registry().List() {
		s.mcp.AddTool(toolFor(spec), s.handler(spec.Name))
	}
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio reads requests from in and writes responses to out until in
// closes or ctx is cancelled. Nothing but protocol frames is written to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("stdio")))

	s.logger.Info("serving MCP over stdio",
		zap.String("name", s.name),
		zap.String("version", s.version),
		zap.Strings("tools", s.dispatcher.Registry().Names()))

	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HandleMessage processes one raw JSON-RPC message. It returns nil for
// notifications.
func (s *Server) HandleMessage(ctx context.Context, raw json.RawMessage) mcplib.JSONRPCMessage {
	return s.mcp.HandleMessage(ctx, raw)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		resp := s.dispatcher.Dispatch(ctx, dispatch.Request{
			Tool:      name,
			Arguments: request.GetArguments(),
		})
		return toolResult(resp), nil
	}
}

// errorBody is the text payload of a failed call.
type errorBody struct {
	ID    string                 `json:"id"`
	Tool  string                 `json:"tool"`
	State dispatch.State         `json:"state"`
	Error *dispatch.ErrorPayload `json:"error"`
}

// toolResult renders a response as a single text content block holding
// JSON. Failures set isError.
func toolResult(resp dispatch.Response) *mcplib.CallToolResult {
	if !resp.OK() {
		data, err := json.Marshal(errorBody{ID: resp.ID, Tool: resp.Tool, State: resp.State, Error: resp.Error})
		if err != nil {
			return mcplib.NewToolResultError(resp.Error.Message)
		}
		return mcplib.NewToolResultError(string(data))
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return mcplib.NewToolResultError("failed to encode tool result: " + err.Error())
	}
	return mcplib.NewToolResultText(string(data))
}

// toolFor converts a registry spec to an MCP tool definition.
func toolFor(spec tools.Spec) mcplib.Tool {
	opts := []mcplib.ToolOption{mcplib.WithDescription(spec.Description)}
	for _, p := range spec.Params {
		var props []mcplib.PropertyOption
		if p.Required {
			props = append(props, mcplib.Required())
		}
		if p.Description != "" {
			props = append(props, mcplib.Description(p.Description))
		}

		switch p.Type {
		case tools.TypeString:
			opts = append(opts, mcplib.WithString(p.Name, props...))
		case tools.TypeNumber, tools.TypeInteger:
			opts = append(opts, mcplib.WithNumber(p.Name, props...))
		case tools.TypeBoolean:
			opts = append(opts, mcplib.WithBoolean(p.Name, props...))
		case tools.TypeObject:
			opts = append(opts, mcplib.WithObject(p.Name, props...))
		case tools.TypeArray:
			opts = append(opts, mcplib.WithArray(p.Name, props...))
		}
	}

	tool := mcplib.NewTool(spec.Name, opts...)

	// mcp-go has no integer option; narrow the generated number schema.
	for _, p := range spec.Params {
		if p.Type != tools.TypeInteger {
			continue
		}
		if prop, ok := tool.InputSchema.Properties[p.Name].(map[string]interface{}); ok {
			prop["type"] = string(tools.TypeInteger)
		}
	}
	return tool
}
