package core

import (
	"context"
)

// TokenInfo tracks token usage for cost and budget accounting.
type TokenInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates usage from another call into this one.
func (t *TokenInfo) Add(other *TokenInfo) {
	if other == nil {
		return
	}
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.TotalTokens += other.TotalTokens
}

// LLMResponse is the result of a plain text completion.
type LLMResponse struct {
	Content  string
	Usage    *TokenInfo
	Metadata map[string]interface{}
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// FunctionResponse is the result of a completion that may request tool calls.
type FunctionResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenInfo
}

type Capability string

const (
	CapabilityCompletion  Capability = "completion"
	CapabilityChat        Capability = "chat"
	CapabilityJSON        Capability = "json"
	CapabilityToolCalling Capability = "tool-calling"
)

// LLM is the model backend used by the Learner, guided replay and the
// semantic tier of the similarity scorer. Each provider handles its own
// wire format; callers only see the narrow contract below.
type LLM interface {
	// Generate produces a text completion for the given prompt.
	Generate(ctx context.Context, prompt string, options ...GenerateOption) (*LLMResponse, error)

	// GenerateWithJSON produces structured JSON output for the given prompt.
	GenerateWithJSON(ctx context.Context, prompt string, options ...GenerateOption) (map[string]interface{}, error)

	// GenerateWithFunctions produces a completion that may include tool calls,
	// constrained to the provided tool schemas.
	GenerateWithFunctions(ctx context.Context, prompt string, tools []map[string]interface{}, options ...GenerateOption) (*FunctionResponse, error)

	ProviderName() string
	ModelID() string
	Capabilities() []Capability
}

// GenerateOption represents an option for text generation.
type GenerateOption func(*GenerateOptions)

// GenerateOptions holds configuration for text generation.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// NewGenerateOptions creates a new GenerateOptions with default values.
func NewGenerateOptions() *GenerateOptions {
	return &GenerateOptions{
		MaxTokens:   8192,
		Temperature: 0.5,
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = t
	}
}

// WithStopSequences sets the stop sequences.
func WithStopSequences(sequences ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Stop = sequences
	}
}
