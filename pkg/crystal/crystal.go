// Package crystal compiles proven traces into deterministic procedures that
// bypass both the model backend and the trace interpreter.
package crystal

import (
	"context"
	"regexp"
	"sync"

	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/XiaoConstantine/retrace-go/pkg/replay"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
)

var placeholderPattern = regexp.MustCompile(`\{\{input:([a-zA-Z0-9_]+)\}\}`)

// CompiledProcedure is the model-free form of a crystallized trace: the
// stored tool sequence with mechanical placeholder substitution.
type CompiledProcedure struct {
	TraceID   string
	Signature string
	Inputs    []string // placeholder names the procedure accepts
	steps     []core.TraceStep
}

// Run executes the compiled sequence with the given inputs substituted into
// `{{input:name}}` placeholders. The security gate still guards every call.
func (p *CompiledProcedure) Run(ctx context.Context, inputs map[string]string, registry core.ToolRegistry, gate core.SecurityGate) (*core.ExecutionResult, error) {
	result := &core.ExecutionResult{}

	for i, step := range p.steps {
		params := substituteParams(step.Parameters, inputs)

		decision := gate.Check(ctx, step.Tool, params)
		if !decision.Allow {
			return nil, errors.WithFields(
				errors.New(errors.SecurityDenied, "security gate denied tool call"),
				errors.Fields{"trace_id": p.TraceID, "step": i + 1, "tool": step.Tool, "reason": decision.Reason})
		}

		tool, err := registry.Get(step.Tool)
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.ReplayStepFailure, "compiled step tool not available"),
				errors.Fields{"trace_id": p.TraceID, "step": i + 1, "tool": step.Tool})
		}

		stepResult, err := tool.Execute(ctx, params)
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.ReplayStepFailure, "compiled step execution failed"),
				errors.Fields{"trace_id": p.TraceID, "step": i + 1, "tool": step.Tool})
		}

		for _, check := range step.Validations {
			if err := replay.CheckValidation(check, stepResult); err != nil {
				return nil, errors.WithFields(
					errors.Wrap(err, errors.ReplayStepFailure, "compiled step validation failed"),
					errors.Fields{"trace_id": p.TraceID, "step": i + 1, "tool": step.Tool})
			}
		}

		result.Steps = append(result.Steps, core.ExecutedStep{
			Tool:       step.Tool,
			Parameters: params,
			Result:     stepResult,
		})
		result.Output = replay.ResultText(stepResult)
	}

	return result, nil
}

// Crystallizer promotes eligible traces and caches their compiled form so
// crystallized dispatches skip recompilation.
type Crystallizer struct {
	mu       sync.RWMutex
	compiled map[string]*CompiledProcedure
	traces   store.TraceStore
	cfg      config.CrystallizeConfig
}

// New creates a crystallizer over the given store.
func New(traces store.TraceStore, cfg config.CrystallizeConfig) *Crystallizer {
	return &Crystallizer{
		compiled: make(map[string]*CompiledProcedure),
		traces:   traces,
		cfg:      cfg,
	}
}

// Get returns the cached compiled procedure for a trace, compiling it on
// demand for traces already crystallized in the store.
func (c *Crystallizer) Get(ctx context.Context, trace *core.TraceRecord) (*CompiledProcedure, error) {
	c.mu.RLock()
	proc, ok := c.compiled[trace.ID]
	c.mu.RUnlock()
	if ok {
		return proc, nil
	}

	if trace.Status != core.StatusCrystallized {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "trace is not crystallized"),
			errors.Fields{"trace_id": trace.ID, "status": string(trace.Status)})
	}

	proc = compile(trace)
	c.mu.Lock()
	c.compiled[trace.ID] = proc
	c.mu.Unlock()
	return proc, nil
}

// TryCrystallize promotes a trace if it qualifies, returning the compiled
// procedure or nil. The store's compare-and-set picks exactly one winner
// under concurrent attempts; losers return nil without compiling. The
// transition is forward-only; nothing here ever demotes.
func (c *Crystallizer) TryCrystallize(ctx context.Context, trace *core.TraceRecord) (*CompiledProcedure, error) {
	if !c.eligible(trace) {
		return nil, nil
	}

	won, err := c.traces.Crystallize(ctx, trace.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}

	logging.GetLogger().Info(ctx, "crystallized trace %s after %d uses (success rate %.2f)",
		trace.ID, trace.UsageCount, trace.SuccessRate())

	proc := compile(trace)
	c.mu.Lock()
	c.compiled[trace.ID] = proc
	c.mu.Unlock()
	return proc, nil
}

// eligible applies the promotion gate: enough proven usage, and no free
// model-dependent parameters. Mechanical placeholders are fine; observed
// parameter drift across successful replays disqualifies, because a value
// that varied per invocation cannot be substituted mechanically.
func (c *Crystallizer) eligible(trace *core.TraceRecord) bool {
	if trace.Status != core.StatusValidated {
		return false
	}
	if trace.UsageCount < c.cfg.MinUsage {
		return false
	}
	if trace.SuccessRate() < c.cfg.MinSuccessRate {
		return false
	}
	if trace.DriftCount > 0 {
		return false
	}
	return true
}

func compile(trace *core.TraceRecord) *CompiledProcedure {
	clone := trace.Clone()
	return &CompiledProcedure{
		TraceID:   clone.ID,
		Signature: clone.Signature,
		Inputs:    collectPlaceholders(clone.Steps),
		steps:     clone.Steps,
	}
}

func collectPlaceholders(steps []core.TraceStep) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, step := range steps {
		for _, v := range step.Parameters {
			s, ok := v.(string)
			if !ok {
				continue
			}
			for _, match := range placeholderPattern.FindAllStringSubmatch(s, -1) {
				if _, dup := seen[match[1]]; !dup {
					seen[match[1]] = struct{}{}
					names = append(names, match[1])
				}
			}
		}
	}
	return names
}

func substituteParams(params map[string]interface{}, inputs map[string]string) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
				name := placeholderPattern.FindStringSubmatch(m)[1]
				if val, ok := inputs[name]; ok {
					return val
				}
				return m
			})
		} else {
			out[k] = v
		}
	}
	return out
}
