package tools

import (
	"context"
	"strconv"
	"strings"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
)

// extractContentText flattens the text blocks of an MCP content array.
func extractContentText(content []models.Content) string {
	var result strings.Builder

	for _, item := range content {
		if textContent, ok := item.(models.TextContent); ok {
			if result.Len() > 0 {
				result.WriteString("\n")
			}
			result.WriteString(textContent.Text)
		}
	}

	return result.String()
}

// extractCapabilities derives coarse capability tags from a description.
func extractCapabilities(description string) []string {
	capabilities := []string{}

	keywords := []string{"search", "query", "calculate", "fetch", "retrieve",
		"find", "create", "update", "delete", "read", "write", "list"}

	descLower := strings.ToLower(description)
	for _, keyword := range keywords {
		if strings.Contains(descLower, keyword) {
			capabilities = append(capabilities, keyword)
		}
	}

	return capabilities
}

// calculateToolMatchScore determines how well a tool matches an intent.
func calculateToolMatchScore(metadata *core.ToolMetadata, intent string) float64 {
	score := 0.1
	intentLower := strings.ToLower(intent)

	if strings.Contains(intentLower, strings.ToLower(metadata.Name)) {
		score += 0.5
	}

	for _, capability := range metadata.Capabilities {
		if strings.Contains(intentLower, strings.ToLower(capability)) {
			score += 0.3
		}
	}

	return score
}

// convertMCPParams coerces string parameter values toward the types the MCP
// schema declares. Failed conversions keep the original string.
func convertMCPParams(ctx context.Context, schema models.InputSchema, params map[string]interface{}) map[string]interface{} {
	logger := logging.GetLogger()
	converted := make(map[string]interface{})

	for key, value := range params {
		converted[key] = value

		prop, schemaHasKey := schema.Properties[key]
		if !schemaHasKey {
			continue
		}

		str, isString := value.(string)
		if !isString {
			continue
		}

		switch strings.ToLower(prop.Type) {
		case "number", "float":
			if floatVal, err := strconv.ParseFloat(str, 64); err == nil {
				converted[key] = floatVal
			} else {
				logger.Warn(ctx, "failed to convert param %q (%q) to %s, keeping string: %v", key, str, prop.Type, err)
			}
		case "integer":
			if intVal, err := strconv.Atoi(str); err == nil {
				converted[key] = intVal
			} else {
				logger.Warn(ctx, "failed to convert param %q (%q) to %s, keeping string: %v", key, str, prop.Type, err)
			}
		}
	}
	return converted
}
