package core

import "context"

// Decision is the outcome of a security gate check.
type Decision struct {
	Allow  bool
	Reason string
}

// SecurityGate is consulted before every tool call, in replay, learning and
// compiled procedures alike. A deny aborts the current step.
type SecurityGate interface {
	Check(ctx context.Context, toolName string, params map[string]interface{}) Decision
}

// GateFunc adapts a plain function to the SecurityGate interface.
type GateFunc func(ctx context.Context, toolName string, params map[string]interface{}) Decision

func (f GateFunc) Check(ctx context.Context, toolName string, params map[string]interface{}) Decision {
	return f(ctx, toolName, params)
}

// AllowAllGate permits every tool call. Intended for embedding and tests.
func AllowAllGate() SecurityGate {
	return GateFunc(func(ctx context.Context, toolName string, params map[string]interface{}) Decision {
		return Decision{Allow: true}
	})
}
