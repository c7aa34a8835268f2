package tools

import (
	"context"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// ToolFunc is the signature a plain Go function must have to be wrapped as
// a tool.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (*models.CallToolResult, error)

// FuncTool adapts a ToolFunc to core.Tool so applications can expose
// capabilities without running an MCP server. Capability tags are derived
// from the description at construction.
type FuncTool struct {
	name        string
	description string
	schema      models.InputSchema
	fn          ToolFunc
	metadata    *core.ToolMetadata
}

// NewFuncTool creates a new function-based tool.
func NewFuncTool(name, description string, schema models.InputSchema, fn ToolFunc) *FuncTool {
	return &FuncTool{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
		metadata: &core.ToolMetadata{
			Name:         name,
			Description:  description,
			InputSchema:  schema,
			Capabilities: extractCapabilities(description),
			Version:      "1.0.0",
		},
	}
}

// Name returns the tool's identifier.
func (t *FuncTool) Name() string {
	return t.name
}

// Description returns a human-readable explanation of the tool.
func (t *FuncTool) Description() string {
	return t.description
}

// InputSchema returns the expected parameter structure.
func (t *FuncTool) InputSchema() models.InputSchema {
	return t.schema
}

// Metadata returns the tool's metadata for intent matching.
func (t *FuncTool) Metadata() *core.ToolMetadata {
	return t.metadata
}

// CanHandle reports whether the tool's name or capabilities score above the
// registry match threshold for the intent.
func (t *FuncTool) CanHandle(ctx context.Context, intent string) bool {
	return calculateToolMatchScore(t.metadata, intent) >= matchThreshold
}

// Call executes the wrapped function with the provided arguments.
func (t *FuncTool) Call(ctx context.Context, args map[string]interface{}) (*models.CallToolResult, error) {
	return t.fn(ctx, args)
}

// Execute runs the tool and adapts the MCP-shaped result to core.ToolResult,
// flattening text content blocks into a single string.
func (t *FuncTool) Execute(ctx context.Context, params map[string]interface{}) (core.ToolResult, error) {
	result, err := t.Call(ctx, params)
	if err != nil {
		return core.ToolResult{}, err
	}
	return core.ToolResult{
		Data:        extractContentText(result.Content),
		Metadata:    map[string]interface{}{"isError": result.IsError},
		Annotations: map[string]interface{}{},
	}, nil
}

// Validate checks that every parameter the schema marks required is present.
func (t *FuncTool) Validate(params map[string]interface{}) error {
	for name, param := range t.schema.Properties {
		if !param.Required {
			continue
		}
		if _, exists := params[name]; !exists {
			return errors.WithFields(
				errors.New(errors.InvalidInput, "missing required parameter"),
				errors.Fields{"tool_name": t.name, "parameter": name})
		}
	}
	return nil
}

// Type returns the tool type.
func (t *FuncTool) Type() ToolType {
	return ToolTypeFunc
}

var _ core.Tool = (*FuncTool)(nil)
