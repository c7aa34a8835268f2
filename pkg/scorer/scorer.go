// Package scorer ranks stored traces against an incoming goal. Scores are
// ephemeral; they are recomputed on every dispatch and never persisted.
package scorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	"github.com/XiaoConstantine/retrace-go/pkg/store"
)

// ScoreResult is a per-candidate reusability estimate.
type ScoreResult struct {
	// Value estimates how safely the candidate can be replayed for the
	// goal, in [0,1].
	Value float64

	// Rationale is a short human-readable justification.
	Rationale string

	// Lexical reports whether the fast tier short-circuited without a
	// model call.
	Lexical bool
}

// Scorer judges how reusable a stored trace is for a new goal. The model
// tier is injected behind this interface so tests swap in a deterministic
// double.
type Scorer interface {
	Score(ctx context.Context, goalText string, candidate *core.TraceRecord) (ScoreResult, error)
}

// TwoTierScorer checks cheap lexical similarity first and only consults the
// model backend for non-trivial cases. A model failure scores zero rather
// than erroring: replaying an unverified match is the dangerous direction,
// falling back to the learner is merely expensive.
type TwoTierScorer struct {
	llm core.LLM
	cfg config.ScorerConfig
}

// New creates a two-tier scorer backed by the given model.
func New(llm core.LLM, cfg config.ScorerConfig) *TwoTierScorer {
	return &TwoTierScorer{llm: llm, cfg: cfg}
}

func (s *TwoTierScorer) Score(ctx context.Context, goalText string, candidate *core.TraceRecord) (ScoreResult, error) {
	if candidate == nil {
		return ScoreResult{Rationale: "no candidate"}, nil
	}

	if result, ok := s.lexical(goalText, candidate); ok {
		return s.finalize(result, candidate), nil
	}

	result := s.semantic(ctx, goalText, candidate)
	return s.finalize(result, candidate), nil
}

// lexical is the fast tier: near-identical normalized text short-circuits
// without any model call.
func (s *TwoTierScorer) lexical(goalText string, candidate *core.TraceRecord) (ScoreResult, bool) {
	if store.Normalize(goalText) == store.Normalize(candidate.GoalText) {
		return ScoreResult{Value: 0.99, Rationale: "exact match after normalization", Lexical: true}, true
	}

	overlap := store.KeywordOverlap(store.Keywords(goalText), store.Keywords(candidate.GoalText))
	if overlap >= s.cfg.LexicalThreshold {
		return ScoreResult{
			Value:     overlap,
			Rationale: fmt.Sprintf("near-exact keyword overlap %.2f", overlap),
			Lexical:   true,
		}, true
	}
	return ScoreResult{}, false
}

// semantic is the model tier. Failures and timeouts are mapped to a zero
// score, forcing the learner path.
func (s *TwoTierScorer) semantic(ctx context.Context, goalText string, candidate *core.TraceRecord) ScoreResult {
	logger := logging.GetLogger()

	if s.llm == nil {
		return ScoreResult{Rationale: "no model backend configured"}
	}

	scoreCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	prompt := buildJudgePrompt(goalText, candidate.GoalText)
	parsed, err := s.llm.GenerateWithJSON(scoreCtx, prompt, core.WithMaxTokens(512), core.WithTemperature(0))
	if err != nil {
		logger.Warn(ctx, "similarity judge unavailable, scoring zero: %v", err)
		return ScoreResult{Rationale: "scoring unavailable"}
	}

	value, ok := numericField(parsed, "similarity")
	if !ok {
		logger.Warn(ctx, "similarity judge returned no numeric similarity field")
		return ScoreResult{Rationale: "scoring unavailable"}
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}

	rationale, _ := parsed["rationale"].(string)
	return ScoreResult{Value: value, Rationale: rationale}
}

// finalize blends the judged similarity with the candidate's own history:
// similarity says the goals match, historical confidence says the trace has
// actually worked. Draft traces are capped until a replay validates them.
func (s *TwoTierScorer) finalize(result ScoreResult, candidate *core.TraceRecord) ScoreResult {
	if result.Value == 0 {
		return result
	}

	w := s.cfg.SimilarityWeight
	result.Value = result.Value*w + candidate.Confidence*(1-w)

	if candidate.Status == core.StatusDraft && result.Value > s.cfg.DraftCap {
		result.Value = s.cfg.DraftCap
		result.Rationale = strings.TrimSpace(result.Rationale + " (draft, capped until validated)")
	}
	return result
}

func buildJudgePrompt(newGoal, storedGoal string) string {
	var b strings.Builder
	b.WriteString("You judge whether a recorded procedure can be reused for a new task.\n\n")
	b.WriteString("Recorded task:\n")
	b.WriteString(storedGoal)
	b.WriteString("\n\nNew task:\n")
	b.WriteString(newGoal)
	b.WriteString("\n\nRespond with JSON only: ")
	b.WriteString(`{"similarity": <0.0-1.0>, "rationale": "<one sentence>"}`)
	b.WriteString("\nUse 1.0 for semantically identical tasks, around 0.8 for paraphrases, ")
	b.WriteString("around 0.4 for related but different tasks, and 0.0 for unrelated ones.")
	return b.String()
}

func numericField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Best scores every candidate and applies the tie-break policy: within the
// window, prefer higher usage count, then more recent use.
func Best(ctx context.Context, s Scorer, goalText string, candidates []*core.TraceRecord, tieBreakWindow float64) (*core.TraceRecord, ScoreResult, error) {
	var best *core.TraceRecord
	var bestResult ScoreResult

	for _, candidate := range candidates {
		result, err := s.Score(ctx, goalText, candidate)
		if err != nil {
			return nil, ScoreResult{}, err
		}

		if best == nil {
			best, bestResult = candidate, result
			continue
		}

		diff := result.Value - bestResult.Value
		switch {
		case diff > tieBreakWindow:
			best, bestResult = candidate, result
		case diff >= -tieBreakWindow:
			// Tied within the window.
			if candidate.UsageCount > best.UsageCount ||
				(candidate.UsageCount == best.UsageCount && candidate.LastUsedAt.After(best.LastUsedAt)) {
				best, bestResult = candidate, result
			}
		}
	}

	return best, bestResult, nil
}
