// Package learner is the fallback path: a full model reasoning loop whose
// successful tool-call sequence is captured as a new draft trace.
package learner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
)

// Learner drives the open-ended reasoning loop: model turns interleaved
// with tool calls until the goal is satisfied or the budget runs out.
type Learner struct {
	llm      core.LLM
	registry core.ToolRegistry
	gate     core.SecurityGate
	traces   store.TraceStore
	cfg      config.LearnerConfig
}

// New creates a learner.
func New(llm core.LLM, registry core.ToolRegistry, gate core.SecurityGate, traces store.TraceStore, cfg config.LearnerConfig) *Learner {
	return &Learner{
		llm:      llm,
		registry: registry,
		gate:     gate,
		traces:   traces,
		cfg:      cfg,
	}
}

// Learn solves the goal with full model reasoning and records the tool-call
// sequence as a new draft trace. On budget exhaustion no trace is written
// and the error carries the diagnostic fields; tool side effects already
// executed are not rolled back.
func (l *Learner) Learn(ctx context.Context, goalText string) (*core.ExecutionResult, *core.TraceRecord, error) {
	logger := logging.GetLogger()
	started := time.Now()

	parent := ctx
	if l.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.MaxDuration)
		defer cancel()
	}

	schemas := toolSchemas(l.registry)
	result := &core.ExecutionResult{Usage: &core.TokenInfo{}}
	var recorded []core.TraceStep
	var transcript strings.Builder
	transcript.WriteString("Task:\n")
	transcript.WriteString(goalText)
	transcript.WriteString("\n\nUse the available tools to complete the task. ")
	transcript.WriteString("When it is complete, answer in plain text without calling any tool.\n")

	for turn := 0; ; turn++ {
		if turn >= l.cfg.MaxSteps {
			return nil, nil, l.budgetExceeded("step budget exhausted", turn, result.Usage, started)
		}
		if result.Usage.TotalTokens >= l.cfg.MaxTokens {
			return nil, nil, l.budgetExceeded("token budget exhausted", turn, result.Usage, started)
		}

		response, err := l.llm.GenerateWithFunctions(ctx, transcript.String(), schemas)
		if err != nil {
			// The caller giving up is not a budget violation.
			if parent.Err() != nil {
				return nil, nil, errors.Wrap(parent.Err(), errors.Canceled, "learning canceled by caller")
			}
			if ctx.Err() != nil {
				return nil, nil, l.budgetExceeded("wall-clock budget exhausted", turn, result.Usage, started)
			}
			return nil, nil, errors.Wrap(err, errors.LLMGenerationFailed, "learner model call failed")
		}
		result.Usage.Add(response.Usage)

		if len(response.ToolCalls) == 0 {
			// Model is done reasoning.
			result.Output = response.Content
			break
		}

		for _, call := range response.ToolCalls {
			stepResult, err := l.executeCall(ctx, call)
			if err != nil {
				return nil, nil, err
			}

			result.Steps = append(result.Steps, core.ExecutedStep{
				Tool:       call.Name,
				Parameters: call.Arguments,
				Result:     stepResult,
			})
			recorded = append(recorded, core.TraceStep{
				Tool:       call.Name,
				Parameters: call.Arguments,
				Validations: []core.ValidationCheck{
					{Kind: "nonempty"},
				},
			})

			fmt.Fprintf(&transcript, "\nTool %s returned:\n%s\n", call.Name, truncate(resultText(stepResult), 2000))
			logger.Debug(ctx, "learner turn %d executed tool %s", turn+1, call.Name)
		}
	}

	if len(recorded) == 0 {
		// Solved without tools; nothing replayable to remember.
		return result, nil, nil
	}

	record := &core.TraceRecord{
		GoalText:  goalText,
		Signature: store.Signature(goalText),
		Steps:     recorded,
		Status:    core.StatusDraft,
	}
	if _, err := l.traces.Put(ctx, record); err != nil {
		return nil, nil, err
	}

	logger.Info(ctx, "recorded draft trace %s with %d steps", record.ID, len(record.Steps))
	return result, record, nil
}

func (l *Learner) executeCall(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
	decision := l.gate.Check(ctx, call.Name, call.Arguments)
	if !decision.Allow {
		return core.ToolResult{}, errors.WithFields(
			errors.New(errors.SecurityDenied, "security gate denied tool call"),
			errors.Fields{"tool": call.Name, "reason": decision.Reason})
	}

	tool, err := l.registry.Get(call.Name)
	if err != nil {
		return core.ToolResult{}, errors.WithFields(
			errors.Wrap(err, errors.ResourceNotFound, "model requested unknown tool"),
			errors.Fields{"tool": call.Name})
	}

	if err := tool.Validate(call.Arguments); err != nil {
		return core.ToolResult{}, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "model produced invalid tool parameters"),
			errors.Fields{"tool": call.Name})
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return core.ToolResult{}, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "tool execution failed during learning"),
			errors.Fields{"tool": call.Name})
	}
	return result, nil
}

func (l *Learner) budgetExceeded(reason string, steps int, usage *core.TokenInfo, started time.Time) error {
	return errors.WithFields(
		errors.New(errors.BudgetExceeded, reason),
		errors.Fields{
			"steps":        steps,
			"tokens":       usage.TotalTokens,
			"elapsed":      time.Since(started).String(),
			"side_effects": "executed tool calls are not rolled back",
		})
}

func resultText(result core.ToolResult) string {
	if result.Data == nil {
		return ""
	}
	if s, ok := result.Data.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", result.Data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

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
