package llms

import (
	"os"
	"strings"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/anthropics/anthropic-sdk-go"
)

// NewLLM creates a model backend from a provider-prefixed model ID, e.g.
// "anthropic:claude-sonnet-4-5". A bare ID defaults to anthropic. The API
// key falls back to the provider's conventional environment variable.
func NewLLM(apiKey, modelID string) (core.LLM, error) {
	provider := "anthropic"
	model := modelID
	if parts := strings.SplitN(modelID, ":", 2); len(parts) == 2 {
		provider, model = parts[0], parts[1]
	}

	switch provider {
	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return NewAnthropicLLM(apiKey, anthropic.Model(model))
	default:
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unsupported model provider"),
			errors.Fields{"provider": provider, "model": model})
	}
}
