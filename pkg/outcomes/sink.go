// Package outcomes receives the structured dispatch records emitted per
// request for cost and usage reporting.
package outcomes

import (
	"context"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
)

// Sink receives one record per dispatch. Emitting must never fail a
// request; implementations report their own errors and the dispatcher logs
// them.
type Sink interface {
	Emit(ctx context.Context, outcome core.DispatchOutcome) error
	Close() error
}

// LogSink writes each outcome as a structured log line.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink over the given logger, defaulting to the global
// logger when nil.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, outcome core.DispatchOutcome) error {
	s.logger.Info(ctx, "dispatch mode=%s trace=%s confidence=%.3f cost=%.6f latency=%s success=%t fallback=%t",
		outcome.Mode, outcome.TraceID, outcome.Confidence, outcome.Cost,
		outcome.Latency, outcome.Success, outcome.Fallback)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

// NullSink discards outcomes. Used in tests and embedded deployments that
// do their own accounting.
type NullSink struct{}

func (NullSink) Emit(ctx context.Context, outcome core.DispatchOutcome) error { return nil }
func (NullSink) Close() error                                                 { return nil }

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = NullSink{}
)
