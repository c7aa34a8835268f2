package core

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// TraceStatus tracks a trace through its lifecycle. The content of a trace
// never changes after recording; only counters and status do.
type TraceStatus string

const (
	// StatusDraft marks a trace freshly recorded by the learner, not yet
	// confirmed by an independent replay.
	StatusDraft TraceStatus = "draft"

	// StatusValidated marks a trace that survived at least one replay.
	StatusValidated TraceStatus = "validated"

	// StatusCrystallized marks a trace compiled into a deterministic
	// procedure. Terminal; never demoted automatically.
	StatusCrystallized TraceStatus = "crystallized"

	// StatusDeprecated excludes a trace from candidate lookup. Retained
	// for audit.
	StatusDeprecated TraceStatus = "deprecated"
)

// ValidationCheck describes an expectation against a step's tool result.
type ValidationCheck struct {
	Kind  string `yaml:"kind"`            // nonempty, equals, contains, matches
	Value string `yaml:"value,omitempty"` // comparison operand, unused for nonempty
}

// TraceStep is one recorded tool invocation.
type TraceStep struct {
	Tool        string                 `yaml:"tool"`
	Parameters  map[string]interface{} `yaml:"parameters,omitempty"`
	Validations []ValidationCheck      `yaml:"validations,omitempty"`
}

// TraceRecord describes one successfully completed goal execution. Steps are
// immutable once recorded; counters, drift, status and last_used_at are the
// only mutable fields.
type TraceRecord struct {
	ID           string
	Signature    string
	GoalText     string
	Steps        []TraceStep
	Confidence   float64
	UsageCount   int
	SuccessCount int
	DriftCount   int
	Status       TraceStatus
	CreatedAt    time.Time
	LastUsedAt   time.Time
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// SuccessRate returns success_count / usage_count, or 0 for unused traces.
func (t *TraceRecord) SuccessRate() float64 {
	if t.UsageCount == 0 {
		return 0
	}
	return float64(t.SuccessCount) / float64(t.UsageCount)
}

// Clone returns a deep copy so stores can hand out records without exposing
// internal state to concurrent mutation.
func (t *TraceRecord) Clone() *TraceRecord {
	c := *t
	c.Steps = make([]TraceStep, len(t.Steps))
	for i, s := range t.Steps {
		cs := s
		if s.Parameters != nil {
			cs.Parameters = make(map[string]interface{}, len(s.Parameters))
			for k, v := range s.Parameters {
				cs.Parameters[k] = v
			}
		}
		cs.Validations = append([]ValidationCheck(nil), s.Validations...)
		c.Steps[i] = cs
	}
	return &c
}

// EqualSteps reports whether two step sequences have identical content.
// Used by stores to detect integrity violations on Put.
func EqualSteps(a, b []TraceStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Tool != b[i].Tool {
			return false
		}
		if !reflect.DeepEqual(a[i].Parameters, b[i].Parameters) {
			return false
		}
		if !reflect.DeepEqual(a[i].Validations, b[i].Validations) {
			return false
		}
	}
	return true
}
