package testutil

import (
	"context"
	"fmt"
	"sync"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/stretchr/testify/mock"
)

// MockLLM is a mock implementation of core.LLM.
type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) Generate(ctx context.Context, prompt string, opts ...core.GenerateOption) (*core.LLMResponse, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if response, ok := args.Get(0).(*core.LLMResponse); ok {
		return response, args.Error(1)
	}
	// Fall back to string conversion for simple cases
	return &core.LLMResponse{Content: args.String(0)}, args.Error(1)
}

func (m *MockLLM) GenerateWithJSON(ctx context.Context, prompt string, opts ...core.GenerateOption) (map[string]interface{}, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockLLM) GenerateWithFunctions(ctx context.Context, prompt string, tools []map[string]interface{}, opts ...core.GenerateOption) (*core.FunctionResponse, error) {
	args := m.Called(ctx, prompt, tools, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.FunctionResponse), args.Error(1)
}

func (m *MockLLM) ProviderName() string {
	return "mock"
}

func (m *MockLLM) ModelID() string {
	return "mock-model"
}

func (m *MockLLM) Capabilities() []core.Capability {
	return []core.Capability{}
}

var _ core.LLM = (*MockLLM)(nil)

// FakeTool is a scripted core.Tool. Execute returns the configured result
// or error and records every call.
type FakeTool struct {
	ToolName    string
	Description string
	Result      core.ToolResult
	Err         error
	ExecuteFn   func(ctx context.Context, params map[string]interface{}) (core.ToolResult, error)

	mu    sync.Mutex
	calls []map[string]interface{}
}

// NewFakeTool creates a tool that echoes output for any parameters.
func NewFakeTool(name, output string) *FakeTool {
	return &FakeTool{
		ToolName:    name,
		Description: fmt.Sprintf("fake tool %s", name),
		Result:      core.ToolResult{Data: output},
	}
}

func (t *FakeTool) Name() string {
	return t.ToolName
}

func (t *FakeTool) Metadata() *core.ToolMetadata {
	return &core.ToolMetadata{
		Name:        t.ToolName,
		Description: t.Description,
		InputSchema: models.InputSchema{Type: "object"},
		Version:     "0.0.1",
	}
}

func (t *FakeTool) CanHandle(ctx context.Context, intent string) bool {
	return true
}

func (t *FakeTool) Execute(ctx context.Context, params map[string]interface{}) (core.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()

	if t.ExecuteFn != nil {
		return t.ExecuteFn(ctx, params)
	}
	if t.Err != nil {
		return core.ToolResult{}, t.Err
	}
	return t.Result, nil
}

func (t *FakeTool) Validate(params map[string]interface{}) error {
	return nil
}

// Calls returns the parameter maps of every Execute invocation so far.
func (t *FakeTool) Calls() []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]interface{}, len(t.calls))
	copy(out, t.calls)
	return out
}

var _ core.Tool = (*FakeTool)(nil)

// DenyTools builds a gate that rejects the named tools and allows the rest.
func DenyTools(names ...string) core.SecurityGate {
	denied := make(map[string]bool, len(names))
	for _, name := range names {
		denied[name] = true
	}
	return core.GateFunc(func(ctx context.Context, toolName string, params map[string]interface{}) core.Decision {
		if denied[toolName] {
			return core.Decision{Allow: false, Reason: "denied by test gate"}
		}
		return core.Decision{Allow: true}
	})
}
