// Package store persists trace records and owns the confidence arithmetic
// that evolves with their usage history.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/config"
	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// TraceStore persists trace records indexed by goal signature. Counter
// updates are serialized per trace id; reads see last-committed values and
// may proceed concurrently with updates.
type TraceStore interface {
	// Put stores a trace. It fails with IntegrityViolation only when the
	// same trace id already exists with different step content; otherwise
	// an existing record has its counters overwritten and its steps kept.
	Put(ctx context.Context, trace *core.TraceRecord) (string, error)

	// Get retrieves a trace by id.
	Get(ctx context.Context, traceID string) (*core.TraceRecord, error)

	// GetBySignature returns all traces recorded under a goal signature.
	GetBySignature(ctx context.Context, signature string) ([]*core.TraceRecord, error)

	// ScanCandidates returns at most limit non-deprecated traces ordered
	// by shared-keyword overlap with the goal text. It is a
	// recall-oriented coarse filter, not the final ranking.
	ScanCandidates(ctx context.Context, goalText string, limit int) ([]*core.TraceRecord, error)

	// UpdateCounters records a replay outcome, recomputing confidence and
	// applying the lifecycle transitions that depend on it.
	UpdateCounters(ctx context.Context, traceID string, success bool) error

	// NoteDrift records that a successful guided replay executed with
	// parameters differing from the stored ones.
	NoteDrift(ctx context.Context, traceID string) error

	// Crystallize flips a validated trace to crystallized. Exactly one of
	// any number of concurrent callers wins; the rest observe false.
	Crystallize(ctx context.Context, traceID string) (bool, error)

	// Deprecate marks a trace deprecated. Administrative; this is the only
	// way a crystallized trace leaves candidate lookup.
	Deprecate(ctx context.Context, traceID string) error

	// Stats reports per-status counts and average confidence.
	Stats(ctx context.Context) (Stats, error)

	// PruneDeprecated removes deprecated traces last used before the
	// cutoff, returning how many were removed.
	PruneDeprecated(ctx context.Context, olderThan time.Time) (int, error)

	// DecayStale lowers confidence of traces unused since the cutoff by
	// perDay per elapsed day, returning how many were touched.
	DecayStale(ctx context.Context, perDay float64, olderThan time.Time) (int, error)

	// Export streams every trace as its rendered document, for audit or
	// migration.
	Export(ctx context.Context, fn func(document []byte) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Stats contains store-level statistics.
type Stats struct {
	Total         int                        `json:"total"`
	ByStatus      map[core.TraceStatus]int   `json:"by_status"`
	AvgConfidence float64                    `json:"avg_confidence"`
}

// Options bundles the configuration sections the store consumes.
type Options struct {
	Store       config.StoreConfig
	Confidence  config.ConfidenceConfig
	Deprecation config.DeprecationConfig
}

// DefaultOptions returns Options built from the default configuration.
func DefaultOptions() Options {
	cfg := config.DefaultConfig()
	return Options{
		Store:       cfg.Store,
		Confidence:  cfg.Confidence,
		Deprecation: cfg.Deprecation,
	}
}

// NewStore creates a trace store based on the configuration.
func NewStore(opts Options) (TraceStore, error) {
	switch opts.Store.Type {
	case "sqlite":
		return NewSQLiteStore(opts)
	case "memory", "":
		return NewMemoryStore(opts), nil
	default:
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "unknown store type"),
			errors.Fields{"type": opts.Store.Type})
	}
}

// applyOutcome mutates a record's counters for one replay outcome. On
// success confidence moves toward 1 by alpha of the remaining headroom; on
// failure it is scaled down by beta. Alpha exceeds beta so isolated failures
// dent confidence without erasing it.
func applyOutcome(rec *core.TraceRecord, success bool, conf config.ConfidenceConfig, dep config.DeprecationConfig, now time.Time) {
	rec.UsageCount++
	rec.LastUsedAt = now

	if success {
		rec.SuccessCount++
		rec.Confidence += (1 - rec.Confidence) * conf.Alpha
		if rec.Status == core.StatusDraft {
			rec.Status = core.StatusValidated
		}
	} else {
		rec.Confidence *= 1 - conf.Beta
		failureRate := 1 - rec.SuccessRate()
		if rec.Status != core.StatusCrystallized &&
			rec.UsageCount >= dep.MinUsage &&
			failureRate > dep.MaxFailureRate {
			rec.Status = core.StatusDeprecated
		}
	}

	if rec.Confidence > 1 {
		rec.Confidence = 1
	}
	if rec.Confidence < 0 {
		rec.Confidence = 0
	}
}

// keyedMutex serializes updates per trace id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
