package dispatch

import (
	"context"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/crystal"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/learner"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/XiaoConstantine/retrace-go/pkg/outcomes"
	"github.com/XiaoConstantine/retrace-go/pkg/replay"
	"github.com/XiaoConstantine/retrace-go/pkg/scorer"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
)

// Goal is one unit of work submitted to the dispatcher.
type Goal struct {
	// Text is the natural-language goal.
	Text string

	// Inputs are named values substituted into compiled procedure
	// placeholders. Ignored outside crystallized execution.
	Inputs map[string]string

	// Orchestrate forces fan-out even when SubGoals carries one entry.
	Orchestrate bool

	// SubGoals, when present, routes the goal through the orchestrator.
	SubGoals []Goal
}

// Dispatcher selects an execution mode per goal and runs it. It holds no
// mutable per-goal state; everything that persists across calls lives in the
// trace store, so concurrent dispatches only contend there.
type Dispatcher struct {
	traces       store.TraceStore
	scorer       scorer.Scorer
	engine       *replay.Engine
	crystallizer *crystal.Crystallizer
	learner      *learner.Learner
	registry     core.ToolRegistry
	gate         core.SecurityGate
	sink         outcomes.Sink
	cfg          config.DispatchConfig
}

// New assembles a dispatcher. A nil sink disables outcome reporting.
func New(traces store.TraceStore, sc scorer.Scorer, engine *replay.Engine,
	crystallizer *crystal.Crystallizer, lr *learner.Learner,
	registry core.ToolRegistry, gate core.SecurityGate,
	sink outcomes.Sink, cfg config.DispatchConfig,
) *Dispatcher {
	if sink == nil {
		sink = outcomes.NullSink{}
	}
	return &Dispatcher{
		traces:       traces,
		scorer:       sc,
		engine:       engine,
		crystallizer: crystallizer,
		learner:      lr,
		registry:     registry,
		gate:         gate,
		sink:         sink,
		cfg:          cfg,
	}
}

// Dispatch routes one goal through mode selection and execution. Replay
// failures fall back to a fresh learner pass within the same request;
// security denials and budget exhaustion propagate unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, goal Goal) (*core.ExecutionResult, error) {
	if goal.Orchestrate || len(goal.SubGoals) > 0 {
		return d.orchestrate(ctx, goal)
	}

	state := &core.ExecutionState{GoalID: core.NewGoalID()}
	ctx = core.WithExecutionState(ctx, state)
	logger := logging.GetLogger()

	best, score := d.selectCandidate(ctx, goal.Text)
	mode := d.selectMode(best, score)
	state.Mode = mode
	if best != nil {
		state.TraceID = best.ID
	}

	logger.Debug(ctx, "dispatching %q as %s (score %.3f)", goal.Text, mode, score.Value)

	started := time.Now()
	result, err := d.execute(ctx, mode, goal, best)
	d.emit(ctx, goal, mode, best, score.Value, result, started, err, false, 0)

	// A failed replay never retries the same trace; the request re-enters
	// through the learner and the outcome keeps the original mode visible.
	if err != nil && errors.IsCode(err, errors.ReplayStepFailure) {
		logger.Info(ctx, "replay of trace %s failed, falling back to learner: %v", state.TraceID, err)
		fallbackFrom := mode
		state.Mode = core.ModeLearner
		state.TraceID = ""

		started = time.Now()
		result, err = d.execute(ctx, core.ModeLearner, goal, nil)
		d.emit(ctx, goal, core.ModeLearner, nil, 0, result, started, err, true, fallbackFrom)
		mode, best = core.ModeLearner, nil
	}

	if err != nil {
		return nil, err
	}

	// Successful deterministic replays are the promotion point: re-read the
	// trace so the eligibility check sees post-update counters.
	if mode == core.ModeFollower && best != nil {
		if updated, getErr := d.traces.Get(ctx, best.ID); getErr == nil {
			if _, cErr := d.crystallizer.TryCrystallize(ctx, updated); cErr != nil {
				logger.Warn(ctx, "crystallization attempt for trace %s failed: %v", best.ID, cErr)
			}
		}
	}

	return result, nil
}

// selectCandidate scans and scores candidates. Store or scorer trouble
// degrades to no candidate so the request still completes through the
// learner.
func (d *Dispatcher) selectCandidate(ctx context.Context, goalText string) (*core.TraceRecord, scorer.ScoreResult) {
	logger := logging.GetLogger()

	// Crystallized traces never involve the scorer again: an exact
	// signature hit dispatches straight to the compiled procedure.
	if matches, err := d.traces.GetBySignature(ctx, store.Signature(goalText)); err == nil {
		if frozen := pickCrystallized(matches); frozen != nil {
			return frozen, scorer.ScoreResult{Value: frozen.Confidence, Rationale: "crystallized signature match"}
		}
	}

	candidates, err := d.traces.ScanCandidates(ctx, goalText, d.cfg.ScanLimit)
	if err != nil {
		logger.Warn(ctx, "candidate scan failed, proceeding without traces: %v", err)
		return nil, scorer.ScoreResult{}
	}
	if len(candidates) == 0 {
		return nil, scorer.ScoreResult{}
	}

	// The same rule applies to crystallized traces surfaced by the keyword
	// scan for paraphrased goals.
	if frozen := pickCrystallized(candidates); frozen != nil {
		return frozen, scorer.ScoreResult{Value: frozen.Confidence, Rationale: "crystallized candidate"}
	}

	best, score, err := scorer.Best(ctx, d.scorer, goalText, candidates, d.cfg.TieBreakWindow)
	if err != nil {
		logger.Warn(ctx, "candidate scoring failed, proceeding without traces: %v", err)
		return nil, scorer.ScoreResult{}
	}
	return best, score
}

// pickCrystallized returns the strongest crystallized record, preferring
// higher confidence and breaking ties on recency.
func pickCrystallized(records []*core.TraceRecord) *core.TraceRecord {
	var best *core.TraceRecord
	for _, rec := range records {
		if rec.Status != core.StatusCrystallized {
			continue
		}
		if best == nil || rec.Confidence > best.Confidence ||
			(rec.Confidence == best.Confidence && rec.LastUsedAt.After(best.LastUsedAt)) {
			best = rec
		}
	}
	return best
}

// selectMode is the mode decision function. Crystallized status
// short-circuits the thresholds; a score exactly at a threshold takes the
// stronger mode.
func (d *Dispatcher) selectMode(best *core.TraceRecord, score scorer.ScoreResult) core.Mode {
	switch {
	case best == nil:
		return core.ModeLearner
	case best.Status == core.StatusCrystallized:
		return core.ModeCrystallized
	case score.Value >= d.cfg.TauFollow:
		return core.ModeFollower
	case score.Value >= d.cfg.TauMix:
		return core.ModeMixed
	default:
		return core.ModeLearner
	}
}

func (d *Dispatcher) execute(ctx context.Context, mode core.Mode, goal Goal, best *core.TraceRecord) (*core.ExecutionResult, error) {
	switch mode {
	case core.ModeCrystallized:
		return d.runCrystallized(ctx, goal, best)
	case core.ModeFollower:
		return d.engine.ReplayDeterministic(ctx, best)
	case core.ModeMixed:
		return d.engine.ReplayGuided(ctx, best, goal.Text)
	default:
		result, _, err := d.learner.Learn(ctx, goal.Text)
		return result, err
	}
}

func (d *Dispatcher) runCrystallized(ctx context.Context, goal Goal, best *core.TraceRecord) (*core.ExecutionResult, error) {
	proc, err := d.crystallizer.Get(ctx, best)
	if err != nil {
		return nil, err
	}

	result, err := proc.Run(ctx, goal.Inputs, d.registry, d.gate)

	// Usage accounting still applies to compiled runs. Crystallized status
	// is forward-only, so a failure here lowers confidence without demoting.
	if uErr := d.traces.UpdateCounters(ctx, best.ID, err == nil); uErr != nil {
		logging.GetLogger().Error(ctx, "failed to update counters for trace %s: %v", best.ID, uErr)
	}
	return result, err
}

// emit reports one execution attempt to the outcome sink. Cost counts model
// tokens; compiled and deterministic runs report zero.
func (d *Dispatcher) emit(ctx context.Context, goal Goal, mode core.Mode, best *core.TraceRecord,
	score float64, result *core.ExecutionResult, started time.Time, execErr error,
	fallback bool, fallbackFrom core.Mode,
) {
	outcome := core.DispatchOutcome{
		ID:           core.NewOutcomeID(),
		Goal:         goal.Text,
		Mode:         mode,
		Confidence:   score,
		Latency:      time.Since(started),
		Success:      execErr == nil,
		Fallback:     fallback,
		FallbackFrom: fallbackFrom,
		Time:         time.Now(),
	}
	if best != nil {
		outcome.TraceID = best.ID
	}
	if result != nil && result.Usage != nil {
		outcome.Cost = float64(result.Usage.TotalTokens)
	}

	if err := d.sink.Emit(ctx, outcome); err != nil {
		logging.GetLogger().Warn(ctx, "failed to emit dispatch outcome %s: %v", outcome.ID, err)
	}
}
