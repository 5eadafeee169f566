package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// SnapshotSource supplies the capability view to export. *registry.Registry
// satisfies it.
type SnapshotSource interface {
	Snapshot() core.Snapshot
}

// Server exports registered capabilities as MCP tools. Tool calls resolve
// the capability against a fresh snapshot, so a reloaded handler takes
// effect without re-exporting; the advertised tool list refreshes only on
// ExportTools.
type Server struct {
	mcpServer *server.MCPServer
	source    SnapshotSource
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for export events.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates an MCP server advertising the given implementation
// name and version.
func NewServer(name, version string, source SnapshotSource, opts ...ServerOption) (*Server, error) {
	if source == nil {
		return nil, errors.New(errors.CodeInvalidInput, "snapshot source is required", nil)
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		source:    source,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ExportTools registers every capability in the current snapshot as an MCP
// tool, replacing earlier registrations with the same name. It returns the
// number of exported tools.
func (s *Server) ExportTools() int {
	snap := s.source.Snapshot()
	caps := snap.Capabilities()
	for _, capability := range caps {
		s.mcpServer.AddTool(capabilityTool(capability), s.capabilityHandler(capability.Name))
	}
	s.logger.Info("mcp.export.applied",
		"tools", len(caps),
		"snapshot_version", snap.Version(),
	)
	return len(caps)
}

// ServeStdio exports the current snapshot and serves MCP over stdin and
// stdout, blocking until the stream closes.
func (s *Server) ServeStdio() error {
	s.ExportTools()
	return server.ServeStdio(s.mcpServer)
}

func capabilityTool(capability core.Capability) mcp.Tool {
	if raw := capability.InputSchema.Raw(); raw != nil {
		return mcp.NewToolWithRawSchema(capability.Name, capability.Description, raw)
	}
	return mcp.NewTool(capability.Name, mcp.WithDescription(capability.Description))
}

func (s *Server) capabilityHandler(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		capability, ok := s.source.Snapshot().Capability(name)
		if !ok {
			return errorResult(fmt.Sprintf("capability %q is no longer registered", name)), nil
		}
		if capability.Handler == nil {
			return errorResult(fmt.Sprintf("capability %q has no handler", name)), nil
		}
		args, _ := request.Params.Arguments.(map[string]any)
		if err := capability.InputSchema.Validate(args); err != nil {
			return errorResult("invalid arguments: " + err.Error()), nil
		}
		out, err := capability.Handler.Invoke(ctx, args)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return successResult(out), nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(msg)},
	}
}

// successResult renders handler output as text, carrying non-string output
// as structured content too.
func successResult(out any) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	switch v := out.(type) {
	case nil:
		res.Content = []mcp.Content{mcp.NewTextContent("")}
	case string:
		res.Content = []mcp.Content{mcp.NewTextContent(v)}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return errorResult("result not serializable: " + err.Error())
		}
		res.Content = []mcp.Content{mcp.NewTextContent(string(data))}
		res.StructuredContent = v
	}
	return res
}
