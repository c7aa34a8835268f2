package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
)

// MemoryStore keeps traces in an in-process map. Used for tests and
// embedded deployments that do not need persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	traces  map[string]*core.TraceRecord
	updates *keyedMutex
	opts    Options
}

// NewMemoryStore creates a new, empty in-memory trace store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		traces:  make(map[string]*core.TraceRecord),
		updates: newKeyedMutex(),
		opts:    opts,
	}
}

func (s *MemoryStore) Put(ctx context.Context, trace *core.TraceRecord) (string, error) {
	if trace == nil || len(trace.Steps) == 0 {
		return "", errors.New(errors.InvalidInput, "cannot store an empty trace")
	}

	rec := trace.Clone()
	if rec.ID == "" {
		rec.ID = core.NewTraceID()
	}
	if rec.Signature == "" {
		rec.Signature = Signature(rec.GoalText)
	}
	if rec.Status == "" {
		rec.Status = core.StatusDraft
	}
	if rec.Confidence == 0 && rec.UsageCount == 0 {
		rec.Confidence = s.opts.Confidence.Initial
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.traces[rec.ID]; ok {
		if !core.EqualSteps(existing.Steps, rec.Steps) {
			return "", errors.WithFields(
				errors.New(errors.IntegrityViolation, "trace id exists with different step content"),
				errors.Fields{"trace_id": rec.ID})
		}
		// Counters-only overwrite; steps stay as first recorded.
		existing.Confidence = rec.Confidence
		existing.UsageCount = rec.UsageCount
		existing.SuccessCount = rec.SuccessCount
		existing.DriftCount = rec.DriftCount
		existing.Status = rec.Status
		existing.LastUsedAt = rec.LastUsedAt
		return existing.ID, nil
	}

	s.traces[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, traceID string) (*core.TraceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.traces[traceID]
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "trace not found"),
			errors.Fields{"trace_id": traceID})
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetBySignature(ctx context.Context, signature string) ([]*core.TraceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.TraceRecord
	for _, rec := range s.traces {
		if rec.Signature == signature {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

func (s *MemoryStore) ScanCandidates(ctx context.Context, goalText string, limit int) ([]*core.TraceRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	goalKeywords := Keywords(goalText)

	s.mu.RLock()
	type scored struct {
		rec     *core.TraceRecord
		overlap float64
	}
	var candidates []scored
	for _, rec := range s.traces {
		if rec.Status == core.StatusDeprecated {
			continue
		}
		overlap := KeywordOverlap(goalKeywords, Keywords(rec.GoalText))
		if overlap > 0 {
			candidates = append(candidates, scored{rec: rec.Clone(), overlap: overlap})
		}
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].rec.Confidence > candidates[j].rec.Confidence
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*core.TraceRecord, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out, nil
}

func (s *MemoryStore) UpdateCounters(ctx context.Context, traceID string, success bool) error {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.traces[traceID]
	if !ok {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "trace not found"),
			errors.Fields{"trace_id": traceID})
	}
	applyOutcome(rec, success, s.opts.Confidence, s.opts.Deprecation, time.Now())
	return nil
}

func (s *MemoryStore) NoteDrift(ctx context.Context, traceID string) error {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.traces[traceID]
	if !ok {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "trace not found"),
			errors.Fields{"trace_id": traceID})
	}
	rec.DriftCount++
	return nil
}

func (s *MemoryStore) Crystallize(ctx context.Context, traceID string) (bool, error) {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.traces[traceID]
	if !ok {
		return false, errors.WithFields(
			errors.New(errors.ResourceNotFound, "trace not found"),
			errors.Fields{"trace_id": traceID})
	}
	if rec.Status != core.StatusValidated {
		return false, nil
	}
	rec.Status = core.StatusCrystallized
	return true, nil
}

func (s *MemoryStore) Deprecate(ctx context.Context, traceID string) error {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.traces[traceID]
	if !ok {
		return errors.WithFields(
			errors.New(errors.ResourceNotFound, "trace not found"),
			errors.Fields{"trace_id": traceID})
	}
	rec.Status = core.StatusDeprecated
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByStatus: make(map[core.TraceStatus]int)}
	var sum float64
	for _, rec := range s.traces {
		stats.Total++
		stats.ByStatus[rec.Status]++
		sum += rec.Confidence
	}
	if stats.Total > 0 {
		stats.AvgConfidence = sum / float64(stats.Total)
	}
	return stats, nil
}

func (s *MemoryStore) PruneDeprecated(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, rec := range s.traces {
		if rec.Status == core.StatusDeprecated && rec.LastUsedAt.Before(olderThan) {
			delete(s.traces, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) DecayStale(ctx context.Context, perDay float64, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	touched := 0
	for _, rec := range s.traces {
		if !rec.LastUsedAt.Before(olderThan) {
			continue
		}
		days := now.Sub(rec.LastUsedAt).Hours() / 24
		rec.Confidence -= perDay * days
		if rec.Confidence < 0 {
			rec.Confidence = 0
		}
		touched++
	}
	return touched, nil
}

func (s *MemoryStore) Export(ctx context.Context, fn func(document []byte) error) error {
	s.mu.RLock()
	records := make([]*core.TraceRecord, 0, len(s.traces))
	for _, rec := range s.traces {
		records = append(records, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	for _, rec := range records {
		doc, err := EncodeDocument(rec)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore implements the interface.
var _ TraceStore = (*MemoryStore)(nil)
