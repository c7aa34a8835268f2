// Package replay executes stored traces against the tool layer, either
// verbatim or as guidance for a constrained model call.
package replay

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
	"gopkg.in/yaml.v3"
)

// Engine replays trace records. Every replay, successful or not, updates the
// trace's counters synchronously before returning so concurrent dispatches
// of the same trace observe a consistent confidence trajectory.
type Engine struct {
	registry core.ToolRegistry
	gate     core.SecurityGate
	traces   store.TraceStore
	llm      core.LLM // used by guided replay only
}

// NewEngine creates a replay engine. llm may be nil if guided replay is
// never used.
func NewEngine(registry core.ToolRegistry, gate core.SecurityGate, traces store.TraceStore, llm core.LLM) *Engine {
	return &Engine{
		registry: registry,
		gate:     gate,
		traces:   traces,
		llm:      llm,
	}
}

// ReplayDeterministic executes each stored step verbatim. It halts on the
// first failed step: no silent mid-sequence fallback, no retry of the same
// trace. The caller re-dispatches through the learner.
func (e *Engine) ReplayDeterministic(ctx context.Context, trace *core.TraceRecord) (*core.ExecutionResult, error) {
	logger := logging.GetLogger()
	result := &core.ExecutionResult{}

	for i, step := range trace.Steps {
		stepResult, err := e.executeStep(ctx, trace, i, step.Tool, step.Parameters, step.Validations)
		if err != nil {
			e.recordOutcome(ctx, trace.ID, false)
			return nil, err
		}
		result.Steps = append(result.Steps, core.ExecutedStep{
			Tool:       step.Tool,
			Parameters: step.Parameters,
			Result:     stepResult,
		})
		result.Output = ResultText(stepResult)
		logger.Debug(ctx, "replayed step %d/%d tool=%s", i+1, len(trace.Steps), step.Tool)
	}

	e.recordOutcome(ctx, trace.ID, true)
	return result, nil
}

// ReplayGuided feeds the stored steps to the model as a worked example and
// executes whatever tool-call sequence it returns, bounded by the same gate
// and validations. Parameter drift against the stored steps is allowed and
// recorded for the crystallizer.
func (e *Engine) ReplayGuided(ctx context.Context, trace *core.TraceRecord, goalText string) (*core.ExecutionResult, error) {
	if e.llm == nil {
		return nil, errors.New(errors.InvalidInput, "guided replay requires a model backend")
	}

	prompt, err := buildGuidedPrompt(trace, goalText)
	if err != nil {
		return nil, err
	}

	response, err := e.llm.GenerateWithFunctions(ctx, prompt, toolSchemas(e.registry))
	if err != nil {
		// A backend outage says nothing about the trace; leave its
		// counters alone.
		return nil, errors.Wrap(err, errors.LLMGenerationFailed, "guided replay model call failed")
	}

	result := &core.ExecutionResult{Usage: response.Usage, Output: response.Content}
	drifted := false

	for i, call := range response.ToolCalls {
		// Stored validations apply positionally when the structural
		// pattern holds.
		var validations []core.ValidationCheck
		if i < len(trace.Steps) && trace.Steps[i].Tool == call.Name {
			validations = trace.Steps[i].Validations
			if !reflect.DeepEqual(trace.Steps[i].Parameters, call.Arguments) {
				drifted = true
			}
		}

		stepResult, err := e.executeStep(ctx, trace, i, call.Name, call.Arguments, validations)
		if err != nil {
			e.recordOutcome(ctx, trace.ID, false)
			return nil, err
		}
		result.Steps = append(result.Steps, core.ExecutedStep{
			Tool:       call.Name,
			Parameters: call.Arguments,
			Result:     stepResult,
		})
		if result.Output == "" {
			result.Output = ResultText(stepResult)
		}
	}

	e.recordOutcome(ctx, trace.ID, true)
	if drifted {
		if err := e.traces.NoteDrift(ctx, trace.ID); err != nil {
			logging.GetLogger().Warn(ctx, "failed to note parameter drift: %v", err)
		}
	}
	return result, nil
}

// executeStep runs one tool call through the security gate, the tool's own
// parameter validation and the step's expected validations.
func (e *Engine) executeStep(ctx context.Context, trace *core.TraceRecord, index int, toolName string, params map[string]interface{}, validations []core.ValidationCheck) (core.ToolResult, error) {
	stepFields := errors.Fields{"trace_id": trace.ID, "step": index + 1, "tool": toolName}

	decision := e.gate.Check(ctx, toolName, params)
	if !decision.Allow {
		fields := errors.Fields{"reason": decision.Reason}
		for k, v := range stepFields {
			fields[k] = v
		}
		return core.ToolResult{}, errors.WithFields(
			errors.New(errors.SecurityDenied, "security gate denied tool call"), fields)
	}

	tool, err := e.registry.Get(toolName)
	if err != nil {
		return core.ToolResult{}, errors.WithFields(
			errors.Wrap(err, errors.ReplayStepFailure, "step tool not available"), stepFields)
	}

	if err := tool.Validate(params); err != nil {
		return core.ToolResult{}, errors.WithFields(
			errors.Wrap(err, errors.ReplayStepFailure, "step parameters rejected by tool"), stepFields)
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return core.ToolResult{}, errors.WithFields(
			errors.Wrap(err, errors.ReplayStepFailure, "step tool execution failed"), stepFields)
	}

	for _, check := range validations {
		if err := CheckValidation(check, result); err != nil {
			fields := errors.Fields{"validation": check.Kind}
			for k, v := range stepFields {
				fields[k] = v
			}
			return core.ToolResult{}, errors.WithFields(
				errors.Wrap(err, errors.ReplayStepFailure, "step validation failed"), fields)
		}
	}

	return result, nil
}

// recordOutcome updates counters before the replay result reaches the
// caller. A failed counter update is logged, not surfaced; confidence is
// advisory and must not mask the execution result.
func (e *Engine) recordOutcome(ctx context.Context, traceID string, success bool) {
	if err := e.traces.UpdateCounters(ctx, traceID, success); err != nil {
		logging.GetLogger().Warn(ctx, "failed to update trace counters: %v", err)
	}
}

func buildGuidedPrompt(trace *core.TraceRecord, goalText string) (string, error) {
	var b strings.Builder
	b.WriteString("You complete tasks by calling tools. A prior, closely related task ")
	b.WriteString("was solved with the tool sequence below. Follow the same structural ")
	b.WriteString("pattern, adjusting parameters where the new task differs.\n\n")
	b.WriteString("Prior task:\n")
	b.WriteString(trace.GoalText)
	b.WriteString("\n\nPrior solution:\n")

	for i, step := range trace.Steps {
		fmt.Fprintf(&b, "step %d: %s\n", i+1, step.Tool)
		if len(step.Parameters) > 0 {
			data, err := yaml.Marshal(step.Parameters)
			if err != nil {
				return "", errors.Wrap(err, errors.InvalidInput, "failed to render trace step for guidance")
			}
			b.Write(data)
		}
	}

	b.WriteString("\nNew task:\n")
	b.WriteString(goalText)
	b.WriteString("\n\nCall the tools needed to complete the new task, in order.")
	return b.String(), nil
}

// toolSchemas renders the registry's tools in the wire shape the model
// backend expects.
func toolSchemas(registry core.ToolRegistry) []map[string]interface{} {
	tools := registry.List()
	schemas := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		meta := tool.Metadata()
		schemas = append(schemas, map[string]interface{}{
			"name":         meta.Name,
			"description":  meta.Description,
			"input_schema": meta.InputSchema,
		})
	}
	return schemas
}
