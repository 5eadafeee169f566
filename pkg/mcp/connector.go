package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

// Connector turns the tools of one MCP server into a skill whose
// capabilities proxy tool calls through the client.
type Connector struct {
	client *Client
	source string
	logger *slog.Logger
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithSourceName records the server name used in the imported skill's
// description and metadata.
func WithSourceName(name string) ConnectorOption {
	return func(cn *Connector) {
		if name != "" {
			cn.source = name
		}
	}
}

// WithConnectorLogger sets the logger for import events.
func WithConnectorLogger(logger *slog.Logger) ConnectorOption {
	return func(cn *Connector) {
		if logger != nil {
			cn.logger = logger
		}
	}
}

// NewConnector creates a connector over an established client.
func NewConnector(client *Client, opts ...ConnectorOption) (*Connector, error) {
	if client == nil {
		return nil, errors.New(errors.CodeInvalidInput, "mcp client is required", nil)
	}
	cn := &Connector{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(cn)
	}
	return cn, nil
}

// ImportSkill discovers the server's tools and wraps them as a skill
// descriptor ready for registration. Tool names are normalized to
// capability form; two tools normalizing to the same capability name
// abort the import.
func (cn *Connector) ImportSkill(ctx context.Context, name, version string) (*core.Skill, error) {
	tools, err := cn.client.ListTools(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "mcp tool discovery failed", err).
			WithContext("skill", name)
	}
	if len(tools) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "mcp server exposes no tools", nil).
			WithContext("skill", name)
	}

	caps := make([]core.Capability, 0, len(tools))
	seen := make(map[string]string, len(tools))
	for _, tool := range tools {
		capName := capabilityName(tool.Name)
		if capName == "" {
			return nil, errors.New(errors.CodeInvalidInput, "mcp tool name cannot be normalized", nil).
				WithContext("skill", name).
				WithContext("tool", tool.Name)
		}
		if prev, dup := seen[capName]; dup {
			return nil, errors.New(errors.CodeCapabilityConflict,
				fmt.Sprintf("tools %q and %q normalize to the same capability %q", prev, tool.Name, capName), nil).
				WithContext("skill", name)
		}
		seen[capName] = tool.Name

		caps = append(caps, core.Capability{
			Name:        capName,
			Description: toolDescription(tool),
			InputSchema: toolInputSchema(cn.logger, tool),
			Handler:     cn.toolHandler(tool.Name),
		})
		cn.logger.Debug("mcp.tool.imported", "tool", tool.Name, "capability", capName)
	}

	description := "Tools imported from an MCP server"
	source := "mcp"
	metadata := map[string]string{"source": "mcp"}
	if cn.source != "" {
		description = fmt.Sprintf("Tools imported from MCP server %q", cn.source)
		source = "mcp:" + cn.source
		metadata["server"] = cn.source
	}

	skill := &core.Skill{
		Name:         name,
		Version:      version,
		Description:  description,
		Capabilities: caps,
		Metadata:     metadata,
		Source:       source,
	}
	cn.logger.Info("mcp.skill.imported",
		"skill", name,
		"version", version,
		"capabilities", len(caps),
	)
	return skill, nil
}

func (cn *Connector) toolHandler(tool string) core.Handler {
	return core.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		res, err := cn.client.CallTool(ctx, tool, args)
		if err != nil {
			return nil, err
		}
		return toolOutput(tool, res)
	})
}

func toolDescription(tool mcp.Tool) string {
	if tool.Description != "" {
		return tool.Description
	}
	return fmt.Sprintf("MCP tool %q", tool.Name)
}

// toolInputSchema converts the advertised input schema. Tools without a
// usable schema validate nothing rather than failing the import.
func toolInputSchema(logger *slog.Logger, tool mcp.Tool) *core.Schema {
	raw := []byte(tool.RawInputSchema)
	if len(raw) == 0 {
		if tool.InputSchema.Properties == nil && tool.InputSchema.Required == nil {
			return nil
		}
		data, err := json.Marshal(tool.InputSchema)
		if err != nil {
			logger.Warn("mcp.schema.unusable", "tool", tool.Name, "error", err)
			return nil
		}
		raw = data
	}
	schema, err := core.CompileSchema(raw)
	if err != nil {
		logger.Warn("mcp.schema.unusable", "tool", tool.Name, "error", err)
		return nil
	}
	return schema
}

// capabilityName normalizes an MCP tool name to capability form: lower
// case ASCII letters and digits separated by single hyphens.
func capabilityName(tool string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(tool) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			hyphen = false
		case r == '-' || r == '_' || r == '.' || r == '/' || r == ' ':
			if b.Len() > 0 && !hyphen {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// toolOutput converts a call result to a handler return value. Structured
// content wins over text content when the server provides both.
func toolOutput(tool string, res *mcp.CallToolResult) (any, error) {
	if res == nil {
		return nil, nil
	}
	if res.IsError {
		msg := textContent(res)
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, fmt.Errorf("tool %s: %s", tool, msg)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return textContent(res), nil
}

func textContent(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}
