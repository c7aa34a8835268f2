package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/sourcegraph/conc/pool"
)

// orchestrate fans sub-goals out through the dispatcher itself. Sub-goals
// run concurrently up to the configured bound while each sub-goal's own
// steps stay ordered; sub-results are synthesized in declaration order, and
// each sub-goal emits its own outcome plus one parent outcome here.
func (d *Dispatcher) orchestrate(ctx context.Context, goal Goal) (*core.ExecutionResult, error) {
	if len(goal.SubGoals) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "orchestrated goal has no sub-goals"),
			errors.Fields{"goal": goal.Text})
	}

	state := &core.ExecutionState{GoalID: core.NewGoalID(), Mode: core.ModeOrchestrator}
	ctx = core.WithExecutionState(ctx, state)
	logger := logging.GetLogger()
	logger.Debug(ctx, "orchestrating %q across %d sub-goals", goal.Text, len(goal.SubGoals))

	started := time.Now()
	results := make([]*core.ExecutionResult, len(goal.SubGoals))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(d.cfg.MaxConcurrentSubGoals)
	for i, sub := range goal.SubGoals {
		i, sub := i, sub
		p.Go(func(ctx context.Context) error {
			result, err := d.Dispatch(ctx, sub)
			if err != nil {
				return errors.WithFields(
					errors.Wrap(err, errors.OrchestrationFailed, "sub-goal failed"),
					errors.Fields{"sub_goal": sub.Text, "index": i})
			}
			results[i] = result
			return nil
		})
	}

	err := p.Wait()
	synthesized := synthesize(results)
	d.emit(ctx, goal, core.ModeOrchestrator, nil, 0, synthesized, started, err, false, 0)

	if err != nil {
		return nil, err
	}
	return synthesized, nil
}

// synthesize concatenates sub-results in sub-goal order and sums usage.
// Slots left nil by a cancelled sibling are skipped.
func synthesize(results []*core.ExecutionResult) *core.ExecutionResult {
	combined := &core.ExecutionResult{Usage: &core.TokenInfo{}}
	var outputs []string

	for _, r := range results {
		if r == nil {
			continue
		}
		outputs = append(outputs, r.Output)
		combined.Steps = append(combined.Steps, r.Steps...)
		if r.Usage != nil {
			combined.Usage.Add(r.Usage)
		}
	}

	combined.Output = strings.Join(outputs, "\n")
	return combined
}
