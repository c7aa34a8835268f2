package llms

import (
	"encoding/json"
	"strings"

	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// ParseJSONResponse decodes a model completion as a JSON object, tolerating
// a markdown code fence around the payload.
func ParseJSONResponse(response string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return nil, errors.Wrap(err, errors.LLMGenerationFailed, "failed to parse response as JSON")
	}
	return result, nil
}
