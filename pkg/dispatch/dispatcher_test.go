package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/XiaoConstantine/retrace-go/internal/testutil"
	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/crystal"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/learner"
	"github.com/XiaoConstantine/retrace-go/pkg/replay"
	"github.com/XiaoConstantine/retrace-go/pkg/scorer"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
	"github.com/XiaoConstantine/retrace-go/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubScorer returns a fixed score per stored goal text, making mode
// selection deterministic.
type stubScorer struct {
	values map[string]float64
}

func (s stubScorer) Score(ctx context.Context, goalText string, candidate *core.TraceRecord) (scorer.ScoreResult, error) {
	return scorer.ScoreResult{Value: s.values[candidate.GoalText]}, nil
}

// captureSink records every emitted outcome.
type captureSink struct {
	mu       sync.Mutex
	outcomes []core.DispatchOutcome
}

func (c *captureSink) Emit(ctx context.Context, outcome core.DispatchOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) all() []core.DispatchOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.DispatchOutcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

type fixture struct {
	store    store.TraceStore
	registry *tools.InMemoryToolRegistry
	llm      *testutil.MockLLM
	sink     *captureSink
	scores   map[string]float64
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:    store.NewMemoryStore(store.DefaultOptions()),
		registry: tools.NewInMemoryToolRegistry(),
		llm:      new(testutil.MockLLM),
		sink:     &captureSink{},
		scores:   make(map[string]float64),
		cfg:      config.DefaultConfig(),
	}
}

func (f *fixture) dispatcher() *Dispatcher {
	gate := core.AllowAllGate()
	engine := replay.NewEngine(f.registry, gate, f.store, f.llm)
	crystallizer := crystal.New(f.store, f.cfg.Crystallize)
	lr := learner.New(f.llm, f.registry, gate, f.store, f.cfg.Learner)
	return New(f.store, stubScorer{values: f.scores}, engine, crystallizer, lr,
		f.registry, gate, f.sink, f.cfg.Dispatch)
}

func (f *fixture) seedTrace(t *testing.T, goal string, status core.TraceStatus, usage, successes int) string {
	t.Helper()
	rec := &core.TraceRecord{
		GoalText:     goal,
		Status:       status,
		UsageCount:   usage,
		SuccessCount: successes,
		Confidence:   0.9,
		Steps: []core.TraceStep{
			{
				Tool:        "health",
				Parameters:  map[string]interface{}{"service": "payments"},
				Validations: []core.ValidationCheck{{Kind: "nonempty"}},
			},
		},
	}
	id, err := f.store.Put(context.Background(), rec)
	require.NoError(t, err)
	return id
}

func TestDispatchLearnerWhenNoCandidates(t *testing.T) {
	f := newFixture(t)
	f.llm.On("GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&core.FunctionResponse{Content: "done", Usage: &core.TokenInfo{TotalTokens: 50}}, nil).Once()

	result, err := f.dispatcher().Dispatch(context.Background(), Goal{Text: "a brand new goal"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)

	outcomes := f.sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, core.ModeLearner, outcomes[0].Mode)
	assert.True(t, outcomes[0].Success)
	assert.False(t, outcomes[0].Fallback)
	assert.Empty(t, outcomes[0].TraceID)
}

func TestDispatchThresholdBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected core.Mode
	}{
		{"exactly tau_follow routes deterministic", 0.92, core.ModeFollower},
		{"just below tau_follow routes guided", 0.9199, core.ModeMixed},
		{"exactly tau_mix routes guided", 0.75, core.ModeMixed},
		{"just below tau_mix routes learner", 0.7499, core.ModeLearner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.registry.Register(testutil.NewFakeTool("health", "status: healthy")))
			f.seedTrace(t, "check the payment service health", core.StatusValidated, 2, 2)
			f.scores["check the payment service health"] = tt.score

			switch tt.expected {
			case core.ModeMixed:
				// Guided replay consults the model for the tool sequence.
				f.llm.On("GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(&core.FunctionResponse{
						ToolCalls: []core.ToolCall{{Name: "health", Arguments: map[string]interface{}{"service": "payments"}}},
					}, nil).Once()
			case core.ModeLearner:
				f.llm.On("GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(&core.FunctionResponse{Content: "done", Usage: &core.TokenInfo{}}, nil).Once()
			}

			_, err := f.dispatcher().Dispatch(context.Background(), Goal{Text: "check the payment service health"})
			require.NoError(t, err)

			outcomes := f.sink.all()
			require.NotEmpty(t, outcomes)
			assert.Equal(t, tt.expected, outcomes[0].Mode)
			f.llm.AssertExpectations(t)
		})
	}
}

func TestDispatchFallbackToLearner(t *testing.T) {
	f := newFixture(t)

	// The replayed tool fails, so deterministic replay aborts and the
	// request re-enters through the learner.
	broken := testutil.NewFakeTool("health", "")
	broken.Err = errors.New(errors.Unknown, "connection refused")
	require.NoError(t, f.registry.Register(broken))

	id := f.seedTrace(t, "check the payment service health", core.StatusValidated, 2, 2)
	f.scores["check the payment service health"] = 0.95

	f.llm.On("GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&core.FunctionResponse{Content: "recovered by reasoning", Usage: &core.TokenInfo{TotalTokens: 80}}, nil).Once()

	result, err := f.dispatcher().Dispatch(context.Background(), Goal{Text: "check the payment service health"})
	require.NoError(t, err)
	assert.Equal(t, "recovered by reasoning", result.Output)

	outcomes := f.sink.all()
	require.Len(t, outcomes, 2)

	assert.Equal(t, core.ModeFollower, outcomes[0].Mode)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, id, outcomes[0].TraceID)

	assert.Equal(t, core.ModeLearner, outcomes[1].Mode)
	assert.True(t, outcomes[1].Success)
	assert.True(t, outcomes[1].Fallback)
	assert.Equal(t, core.ModeFollower, outcomes[1].FallbackFrom)

	// The failed replay downgraded the trace synchronously.
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.UsageCount)
	assert.Less(t, rec.Confidence, 0.9)
}

func TestDispatchSecurityDeniedPropagates(t *testing.T) {
	f := newFixture(t)
	tool := testutil.NewFakeTool("health", "status: healthy")
	require.NoError(t, f.registry.Register(tool))
	f.seedTrace(t, "check the payment service health", core.StatusValidated, 2, 2)
	f.scores["check the payment service health"] = 0.95

	gate := testutil.DenyTools("health")
	engine := replay.NewEngine(f.registry, gate, f.store, f.llm)
	crystallizer := crystal.New(f.store, f.cfg.Crystallize)
	lr := learner.New(f.llm, f.registry, gate, f.store, f.cfg.Learner)
	d := New(f.store, stubScorer{values: f.scores}, engine, crystallizer, lr,
		f.registry, gate, f.sink, f.cfg.Dispatch)

	_, err := d.Dispatch(context.Background(), Goal{Text: "check the payment service health"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.SecurityDenied))

	// No learner fallback for a security denial.
	outcomes := f.sink.all()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	f.llm.AssertNotCalled(t, "GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchBudgetExceededPropagates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(testutil.NewFakeTool("shell", "output")))
	f.cfg.Learner.MaxSteps = 1

	f.llm.On("GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&core.FunctionResponse{
			ToolCalls: []core.ToolCall{{Name: "shell", Arguments: map[string]interface{}{"command": "date"}}},
			Usage:     &core.TokenInfo{TotalTokens: 10},
		}, nil)

	_, err := f.dispatcher().Dispatch(context.Background(), Goal{Text: "a goal that never finishes"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.BudgetExceeded))
}

func TestDispatchCrystallized(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(testutil.NewFakeTool("health", "status: healthy")))

	id := f.seedTrace(t, "check the payment service health", core.StatusValidated, 4, 4)
	won, err := f.store.Crystallize(context.Background(), id)
	require.NoError(t, err)
	require.True(t, won)

	f.scores["check the payment service health"] = 0.5 // ignored for crystallized

	result, err := f.dispatcher().Dispatch(context.Background(), Goal{Text: "check the payment service health"})
	require.NoError(t, err)
	assert.Equal(t, "status: healthy", result.Output)

	outcomes := f.sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, core.ModeCrystallized, outcomes[0].Mode)
	assert.Zero(t, outcomes[0].Cost, "compiled runs make no model calls")
	f.llm.AssertNotCalled(t, "GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Usage accounting still applies.
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.UsageCount)
}

func TestDispatchCrystallizedBypassesScorer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(testutil.NewFakeTool("health", "status: healthy")))

	id := f.seedTrace(t, "check the payment service health", core.StatusValidated, 4, 4)
	won, err := f.store.Crystallize(context.Background(), id)
	require.NoError(t, err)
	require.True(t, won)

	// Real two-tier scorer: the paraphrase passes the keyword pre-filter
	// but misses the lexical short-circuit, so any scoring would have to
	// consult the model.
	gate := core.AllowAllGate()
	engine := replay.NewEngine(f.registry, gate, f.store, f.llm)
	crystallizer := crystal.New(f.store, f.cfg.Crystallize)
	lr := learner.New(f.llm, f.registry, gate, f.store, f.cfg.Learner)
	d := New(f.store, scorer.New(f.llm, f.cfg.Scorer), engine, crystallizer, lr,
		f.registry, gate, f.sink, f.cfg.Dispatch)

	result, err := d.Dispatch(context.Background(), Goal{Text: "check the payment service health status"})
	require.NoError(t, err)
	assert.Equal(t, "status: healthy", result.Output)

	outcomes := f.sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, core.ModeCrystallized, outcomes[0].Mode)
	assert.Equal(t, id, outcomes[0].TraceID)

	// No model involvement of any kind on a crystallized dispatch.
	f.llm.AssertNotCalled(t, "GenerateWithJSON", mock.Anything, mock.Anything, mock.Anything)
	f.llm.AssertNotCalled(t, "GenerateWithFunctions", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchCrystallizedSignatureMatchSkipsScan(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(testutil.NewFakeTool("health", "status: healthy")))

	id := f.seedTrace(t, "check the payment service health", core.StatusValidated, 4, 4)
	won, err := f.store.Crystallize(context.Background(), id)
	require.NoError(t, err)
	require.True(t, won)

	// Identical goal text resolves through the signature index alone.
	gate := core.AllowAllGate()
	engine := replay.NewEngine(f.registry, gate, f.store, f.llm)
	crystallizer := crystal.New(f.store, f.cfg.Crystallize)
	lr := learner.New(f.llm, f.registry, gate, f.store, f.cfg.Learner)
	d := New(f.store, scorer.New(f.llm, f.cfg.Scorer), engine, crystallizer, lr,
		f.registry, gate, f.sink, f.cfg.Dispatch)

	_, err = d.Dispatch(context.Background(), Goal{Text: "Check the payment service health."})
	require.NoError(t, err)

	outcomes := f.sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, core.ModeCrystallized, outcomes[0].Mode)
	f.llm.AssertNotCalled(t, "GenerateWithJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchPromotesAfterFollowerSuccess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Register(testutil.NewFakeTool("health", "status: healthy")))

	// One replay short of the promotion gate.
	id := f.seedTrace(t, "check the payment service health", core.StatusValidated, 3, 3)
	f.scores["check the payment service health"] = 0.95

	_, err := f.dispatcher().Dispatch(context.Background(), Goal{Text: "check the payment service health"})
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCrystallized, rec.Status)
}
