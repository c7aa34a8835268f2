package core

import (
	"context"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
)

// ToolMetadata contains information about a tool's capabilities and requirements.
type ToolMetadata struct {
	Name         string             // Unique identifier for the tool
	Description  string             // Human-readable description
	InputSchema  models.InputSchema // Expected input parameter structure
	Capabilities []string           // List of supported capabilities
	Version      string             // Tool version for compatibility
}

// Tool represents a capability that trace steps and the learner can invoke.
// The memoization core implements no tools itself; they are registered by
// the embedding application.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Metadata returns the tool's metadata
	Metadata() *ToolMetadata

	// CanHandle checks if the tool can handle a specific action/intent
	CanHandle(ctx context.Context, intent string) bool

	// Execute runs the tool with provided parameters
	Execute(ctx context.Context, params map[string]interface{}) (ToolResult, error)

	// Validate checks if the parameters match the expected schema
	Validate(params map[string]interface{}) error
}

// ToolResult wraps tool execution results with metadata.
type ToolResult struct {
	Data        interface{}            // The actual result data
	Metadata    map[string]interface{} // Execution metadata (timing, resources used, etc)
	Annotations map[string]interface{} // Additional context for result interpretation
}

// ToolRegistry manages available tools.
type ToolRegistry interface {
	Register(tool Tool) error
	Get(name string) (Tool, error)
	List() []Tool
	Match(intent string) []Tool
}
