package llms

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicLLM implements the core.LLM interface for Anthropic's models.
type AnthropicLLM struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicLLM creates a new AnthropicLLM instance.
func NewAnthropicLLM(apiKey string, model anthropic.Model) (*AnthropicLLM, error) {
	if apiKey == "" {
		return nil, errors.New(errors.InvalidInput, "API key is required")
	}
	if !isValidAnthropicModel(string(model)) {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unsupported Anthropic model"),
			errors.Fields{"model": string(model)})
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicLLM{client: &client, model: model}, nil
}

// isValidAnthropicModel checks if the model is a valid Anthropic model.
func isValidAnthropicModel(model string) bool {
	validPrefixes := []string{
		"claude-3",
		"claude-4",
		"claude-haiku",
		"claude-sonnet",
		"claude-opus",
	}

	for _, prefix := range validPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (a *AnthropicLLM) ProviderName() string {
	return "anthropic"
}

func (a *AnthropicLLM) ModelID() string {
	return string(a.model)
}

func (a *AnthropicLLM) Capabilities() []core.Capability {
	return []core.Capability{
		core.CapabilityCompletion,
		core.CapabilityChat,
		core.CapabilityJSON,
		core.CapabilityToolCalling,
	}
}

// Generate implements the core.LLM interface.
func (a *AnthropicLLM) Generate(ctx context.Context, prompt string, options ...core.GenerateOption) (*core.LLMResponse, error) {
	logger := logging.GetLogger()
	opts := core.NewGenerateOptions()
	for _, opt := range options {
		opt(opts)
	}

	params := anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			logger.Error(ctx, "Anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to generate response"),
			errors.Fields{
				"model":      string(a.model),
				"max_tokens": opts.MaxTokens,
			})
	}

	if message == nil || len(message.Content) == 0 {
		return nil, errors.New(errors.LLMGenerationFailed, "received empty response from Anthropic API")
	}

	var responseText string
	if block := message.Content[0]; block.Type == "text" {
		responseText = block.Text
	}

	usage := usageFrom(message)
	logger.Debug(ctx, "Anthropic response: %d prompt tokens, %d completion tokens",
		usage.PromptTokens, usage.CompletionTokens)

	return &core.LLMResponse{Content: responseText, Usage: usage}, nil
}

// GenerateWithJSON implements the core.LLM interface.
func (a *AnthropicLLM) GenerateWithJSON(ctx context.Context, prompt string, options ...core.GenerateOption) (map[string]interface{}, error) {
	response, err := a.Generate(ctx, prompt, options...)
	if err != nil {
		return nil, err
	}

	return ParseJSONResponse(response.Content)
}

// GenerateWithFunctions implements the core.LLM interface. The model may
// answer with text, tool calls, or both; the caller decides what to do with
// each.
func (a *AnthropicLLM) GenerateWithFunctions(ctx context.Context, prompt string, tools []map[string]interface{}, options ...core.GenerateOption) (*core.FunctionResponse, error) {
	logger := logging.GetLogger()
	opts := core.NewGenerateOptions()
	for _, opt := range options {
		opt(opts)
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Tools:       buildAnthropicTools(tools),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			logger.Error(ctx, "Anthropic API error: status code %d", apiErr.StatusCode)
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to generate response with tools"),
			errors.Fields{"model": string(a.model)})
	}
	if message == nil {
		return nil, errors.New(errors.LLMGenerationFailed, "received nil response from Anthropic API")
	}

	response := &core.FunctionResponse{Usage: usageFrom(message)}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if response.Content == "" {
				response.Content = variant.Text
			}
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					return nil, errors.WithFields(
						errors.Wrap(err, errors.LLMGenerationFailed, "failed to decode tool call arguments"),
						errors.Fields{"tool": variant.Name})
				}
			}
			response.ToolCalls = append(response.ToolCalls, core.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}

	return response, nil
}

// buildAnthropicTools converts the generic tool schema maps into the SDK's
// tool params.
func buildAnthropicTools(tools []map[string]interface{}) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		description, _ := tool["description"].(string)

		properties := map[string]interface{}{}
		var required []string
		if schema, ok := tool["input_schema"].(models.InputSchema); ok {
			for propName, prop := range schema.Properties {
				properties[propName] = map[string]interface{}{
					"type":        prop.Type,
					"description": prop.Description,
				}
				if prop.Required {
					required = append(required, propName)
				}
			}
		}

		param := anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: properties,
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func usageFrom(message *anthropic.Message) *core.TokenInfo {
	return &core.TokenInfo{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
}

var _ core.LLM = (*AnthropicLLM)(nil)
