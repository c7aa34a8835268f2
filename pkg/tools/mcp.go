package tools

import (
	"context"
	"io"
	"time"

	"github.com/XiaoConstantine/mcp-go/pkg/client"
	mcplogging "github.com/XiaoConstantine/mcp-go/pkg/logging"
	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/mcp-go/pkg/transport"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// MCPTool delegates execution to a tool hosted on an MCP server. Stored
// traces treat it like any other tool; the server round-trip is invisible
// to replay.
type MCPTool struct {
	name        string
	description string
	schema      models.InputSchema
	client      *client.Client
	toolName    string
	metadata    *core.ToolMetadata
}

// NewMCPTool creates a new MCP-based tool.
func NewMCPTool(name, description string, schema models.InputSchema,
	client *client.Client, toolName string) *MCPTool {
	metadata := &core.ToolMetadata{
		Name:         name,
		Description:  description,
		InputSchema:  schema,
		Capabilities: extractCapabilities(description),
		Version:      "1.0.0",
	}

	return &MCPTool{
		name:        name,
		description: description,
		schema:      schema,
		client:      client,
		toolName:    toolName,
		metadata:    metadata,
	}
}

// Name returns the tool's identifier.
func (t *MCPTool) Name() string {
	return t.name
}

// Description returns human-readable explanation of the tool.
func (t *MCPTool) Description() string {
	return t.description
}

// InputSchema returns the expected parameter structure.
func (t *MCPTool) InputSchema() models.InputSchema {
	return t.schema
}

// Metadata returns the tool's metadata for intent matching.
func (t *MCPTool) Metadata() *core.ToolMetadata {
	return t.metadata
}

// CanHandle reports whether the tool's name or capabilities score above the
// registry match threshold for the intent.
func (t *MCPTool) CanHandle(ctx context.Context, intent string) bool {
	return calculateToolMatchScore(t.metadata, intent) >= matchThreshold
}

// Call forwards the call to the MCP server and returns the result.
func (t *MCPTool) Call(ctx context.Context, args map[string]interface{}) (*models.CallToolResult, error) {
	return t.client.CallTool(ctx, t.toolName, args)
}

// Execute runs the tool with provided parameters and adapts the result to
// the core interface. Replayed parameters arrive as decoded yaml, so string
// values are coerced toward the schema's declared types first.
func (t *MCPTool) Execute(ctx context.Context, params map[string]interface{}) (core.ToolResult, error) {
	result, err := t.Call(ctx, convertMCPParams(ctx, t.schema, params))
	if err != nil {
		return core.ToolResult{}, err
	}

	return core.ToolResult{
		Data:        extractContentText(result.Content),
		Metadata:    map[string]interface{}{"isError": result.IsError},
		Annotations: map[string]interface{}{},
	}, nil
}

// Validate checks if the parameters match the expected schema.
func (t *MCPTool) Validate(params map[string]interface{}) error {
	for name, param := range t.schema.Properties {
		if param.Required {
			if _, exists := params[name]; !exists {
				return errors.WithFields(
					errors.New(errors.InvalidInput, "missing required parameter"),
					errors.Fields{"tool_name": t.name, "parameter": name})
			}
		}
	}
	return nil
}

// Type returns the tool type.
func (t *MCPTool) Type() ToolType {
	return ToolTypeMCP
}

var _ core.Tool = (*MCPTool)(nil)

// MCPClientOptions contains configuration options for creating an MCP client.
type MCPClientOptions struct {
	ClientName    string
	ClientVersion string
	Logger        mcplogging.Logger
}

// NewMCPClientFromStdio creates a new MCP client using standard I/O for
// communication. This is useful for connecting to an MCP server launched as
// a subprocess.
func NewMCPClientFromStdio(reader io.Reader, writer io.Writer, options MCPClientOptions) (*client.Client, error) {
	logger := options.Logger
	if logger == nil {
		logger = mcplogging.NewStdLogger(mcplogging.InfoLevel)
	}

	t := transport.NewStdioTransport(reader, writer, logger)

	clientOptions := []client.Option{
		client.WithLogger(logger),
	}
	if options.ClientName != "" && options.ClientVersion != "" {
		clientOptions = append(clientOptions, client.WithClientInfo(options.ClientName, options.ClientVersion))
	}

	mcpClient := client.NewClient(t, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := mcpClient.Initialize(ctx); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to initialize MCP client")
	}

	return mcpClient, nil
}

// RegisterMCPTools discovers the server's tools and registers each one in
// the registry, making them addressable from stored trace steps.
func RegisterMCPTools(registry core.ToolRegistry, mcpClient *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	toolsResult, err := mcpClient.ListTools(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to list MCP tools")
	}

	for _, mcpTool := range toolsResult.Tools {
		tool := NewMCPTool(
			mcpTool.Name,
			mcpTool.Description,
			mcpTool.InputSchema,
			mcpClient,
			mcpTool.Name,
		)

		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
