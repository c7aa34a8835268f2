package tools

import (
	"context"
	"testing"

	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/retrace-go/internal/testutil"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	tool := testutil.NewFakeTool("shell", "output")
	require.NoError(t, registry.Register(tool))

	got, err := registry.Get("shell")
	require.NoError(t, err)
	assert.Equal(t, "shell", got.Name())
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	require.NoError(t, registry.Register(testutil.NewFakeTool("shell", "a")))

	err := registry.Register(testutil.NewFakeTool("shell", "b"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidInput))

	// The original binding is untouched.
	got, err := registry.Get("shell")
	require.NoError(t, err)
	result, err := got.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", result.Data)
}

func TestRegistryRejectsNilTool(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	err := registry.Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidInput))
}

func TestRegistryGetMissing(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	_, err := registry.Get("absent")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ResourceNotFound))

	var domainErr *errors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "absent", domainErr.Fields()["tool_name"])
}

func TestRegistryListAndMatch(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	require.NoError(t, registry.Register(testutil.NewFakeTool("shell", "")))
	require.NoError(t, registry.Register(testutil.NewFakeTool("http_check", "")))

	assert.Len(t, registry.List(), 2)

	matches := registry.Match("run a shell command")
	require.Len(t, matches, 1)
	assert.Equal(t, "shell", matches[0].Name())

	assert.Empty(t, registry.Match("unrelated intent"))
}

func TestRegistryMatchByCapability(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	schema := models.InputSchema{Type: "object"}
	require.NoError(t, registry.Register(NewFuncTool("forecast", "fetch the weather forecast", schema, nil)))
	require.NoError(t, registry.Register(testutil.NewFakeTool("shell", "")))

	// The intent never names the tool; the "fetch" capability carries it.
	matches := registry.Match("fetch tomorrow's weather")
	require.Len(t, matches, 1)
	assert.Equal(t, "forecast", matches[0].Name())
}

func TestRegistryMatchOrdersByStrength(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	schema := models.InputSchema{Type: "object"}
	require.NoError(t, registry.Register(NewFuncTool("logs", "fetch recent logs", schema, nil)))
	require.NoError(t, registry.Register(NewFuncTool("fetch", "fetch a url", schema, nil)))

	// "fetch" scores on name and capability, "logs" on capability only.
	matches := registry.Match("fetch the deployment record")
	require.Len(t, matches, 2)
	assert.Equal(t, "fetch", matches[0].Name())
	assert.Equal(t, "logs", matches[1].Name())
}

func TestFuncToolExecute(t *testing.T) {
	schema := models.InputSchema{
		Type: "object",
		Properties: map[string]models.ParameterSchema{
			"service": {Type: "string", Required: true},
		},
	}
	tool := NewFuncTool("restart", "restart a service and update its state", schema,
		func(ctx context.Context, args map[string]interface{}) (*models.CallToolResult, error) {
			return &models.CallToolResult{
				Content: []models.Content{
					models.TextContent{Type: "text", Text: "restarted " + args["service"].(string)},
				},
			}, nil
		})

	assert.Equal(t, ToolTypeFunc, tool.Type())
	assert.Equal(t, "restart", tool.Metadata().Name)
	assert.Contains(t, tool.Metadata().Capabilities, "update")

	result, err := tool.Execute(context.Background(), map[string]interface{}{"service": "nginx"})
	require.NoError(t, err)
	assert.Equal(t, "restarted nginx", result.Data)
	assert.Equal(t, false, result.Metadata["isError"])
}

func TestFuncToolValidate(t *testing.T) {
	schema := models.InputSchema{
		Type: "object",
		Properties: map[string]models.ParameterSchema{
			"service": {Type: "string", Required: true},
			"verbose": {Type: "boolean"},
		},
	}
	tool := NewFuncTool("restart", "restart a service", schema, nil)

	require.NoError(t, tool.Validate(map[string]interface{}{"service": "nginx"}))

	err := tool.Validate(map[string]interface{}{"verbose": true})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidInput))

	var domainErr *errors.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "service", domainErr.Fields()["parameter"])
}

func TestFuncToolCanHandle(t *testing.T) {
	schema := models.InputSchema{Type: "object"}
	tool := NewFuncTool("weather", "fetch the current weather", schema, nil)

	assert.True(t, tool.CanHandle(context.Background(), "check the weather in berlin"))
	assert.False(t, tool.CanHandle(context.Background(), "restart the database"))
}

func TestExtractContentText(t *testing.T) {
	text := extractContentText([]models.Content{
		models.TextContent{Type: "text", Text: "first"},
		models.TextContent{Type: "text", Text: "second"},
	})
	assert.Equal(t, "first\nsecond", text)

	assert.Empty(t, extractContentText(nil))
}

func TestConvertMCPParams(t *testing.T) {
	schema := models.InputSchema{
		Type: "object",
		Properties: map[string]models.ParameterSchema{
			"count":   {Type: "integer"},
			"ratio":   {Type: "number"},
			"name":    {Type: "string"},
			"invalid": {Type: "integer"},
		},
	}

	converted := convertMCPParams(context.Background(), schema, map[string]interface{}{
		"count":     "5",
		"ratio":     "0.75",
		"name":      "nginx",
		"invalid":   "not-a-number",
		"unchanged": 42,
	})

	assert.Equal(t, 5, converted["count"])
	assert.Equal(t, 0.75, converted["ratio"])
	assert.Equal(t, "nginx", converted["name"])
	assert.Equal(t, "not-a-number", converted["invalid"], "failed conversion keeps the string")
	assert.Equal(t, 42, converted["unchanged"])
}
