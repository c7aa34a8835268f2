package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Mode is the execution strategy selected for one dispatch. Selection is
// recomputed per lookup and never persisted; cross-call state lives in the
// trace store's confidence field.
type Mode int

const (
	ModeLearner Mode = iota
	ModeMixed
	ModeFollower
	ModeCrystallized
	ModeOrchestrator
)

// String provides human-readable mode names.
func (m Mode) String() string {
	switch m {
	case ModeLearner:
		return "LEARNER"
	case ModeMixed:
		return "MIXED"
	case ModeFollower:
		return "FOLLOWER"
	case ModeCrystallized:
		return "CRYSTALLIZED"
	case ModeOrchestrator:
		return "ORCHESTRATOR"
	default:
		return "UNKNOWN"
	}
}

// ExecutedStep records one tool call actually performed during an execution.
type ExecutedStep struct {
	Tool       string
	Parameters map[string]interface{}
	Result     ToolResult
}

// ExecutionResult is what every execution strategy returns: the final output
// plus the tool calls that produced it.
type ExecutionResult struct {
	Output string
	Steps  []ExecutedStep
	Usage  *TokenInfo
}

// DispatchOutcome is the structured record emitted per request for cost and
// usage reporting. It is the only externally observable side effect besides
// the task result.
type DispatchOutcome struct {
	ID           string
	Goal         string
	Mode         Mode
	TraceID      string // empty when no trace was involved
	Confidence   float64
	Cost         float64
	Latency      time.Duration
	Success      bool
	Fallback     bool
	FallbackFrom Mode // meaningful only when Fallback is true
	Time         time.Time
}

// NewOutcomeID returns a fresh outcome identifier.
func NewOutcomeID() string {
	return uuid.New().String()
}

// ExecutionState carries per-request identifiers through the call tree so
// log lines from concurrent dispatches can be correlated.
type ExecutionState struct {
	GoalID  string
	TraceID string
	Mode    Mode
}

type executionStateKey struct{}

// WithExecutionState attaches request state to the context.
func WithExecutionState(ctx context.Context, state *ExecutionState) context.Context {
	return context.WithValue(ctx, executionStateKey{}, state)
}

// GetExecutionState returns the request state, or nil outside a dispatch.
func GetExecutionState(ctx context.Context) *ExecutionState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(executionStateKey{}).(*ExecutionState)
	return state
}

// NewGoalID returns a fresh per-request goal identifier.
func NewGoalID() string {
	return uuid.New().String()
}
