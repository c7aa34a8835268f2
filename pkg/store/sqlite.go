package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/XiaoConstantine/retrace-go/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists traces in a single SQLite database. The mutable
// counters live in columns so lookups never parse documents; the full
// rendered document is stored alongside and re-rendered on counter updates
// so an exported document always matches the columns.
type SQLiteStore struct {
	db      *sql.DB
	opts    Options
	updates *keyedMutex
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed trace store.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	path := opts.Store.Path
	if path == "" {
		path = "retrace.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to open sqlite database")
	}

	if opts.Store.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.Store.MaxConnections)
	} else {
		db.SetMaxOpenConns(10)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:      db,
		opts:    opts,
		updates: newKeyedMutex(),
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to initialize traces table")
	}

	if opts.Store.EnableWAL {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to enable WAL mode")
		}
	}

	logger := logging.GetLogger()
	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn(context.Background(), "failed to set pragma %s: %v", pragma, err)
		}
	}

	return s, nil
}

func (s *SQLiteStore) initDB() error {
	query := `
	CREATE TABLE IF NOT EXISTS traces (
		trace_id TEXT PRIMARY KEY,
		signature TEXT NOT NULL,
		goal_text TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence REAL NOT NULL,
		usage_count INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		drift_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL,
		document BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_signature ON traces(signature);
	CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status);
	CREATE INDEX IF NOT EXISTS idx_traces_last_used ON traces(last_used_at);
	`

	_, err := s.db.Exec(query)
	return err
}

const traceColumns = `trace_id, signature, goal_text, status, confidence, usage_count, success_count, drift_count, created_at, last_used_at, document`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrace(row rowScanner) (*core.TraceRecord, error) {
	var rec core.TraceRecord
	var status string
	var createdAt, lastUsedAt int64
	var document []byte

	err := row.Scan(&rec.ID, &rec.Signature, &rec.GoalText, &status, &rec.Confidence,
		&rec.UsageCount, &rec.SuccessCount, &rec.DriftCount, &createdAt, &lastUsedAt, &document)
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeDocument(document)
	if err != nil {
		return nil, err
	}
	rec.Steps = decoded.Steps
	rec.Status = core.TraceStatus(status)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.LastUsedAt = time.Unix(0, lastUsedAt)
	return &rec, nil
}

func (s *SQLiteStore) writeRecord(ctx context.Context, rec *core.TraceRecord) error {
	document, err := EncodeDocument(rec)
	if err != nil {
		return err
	}

	query := `
	INSERT OR REPLACE INTO traces (` + traceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.Signature, rec.GoalText,
		string(rec.Status), rec.Confidence, rec.UsageCount, rec.SuccessCount,
		rec.DriftCount, rec.CreatedAt.UnixNano(), rec.LastUsedAt.UnixNano(), document)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to write trace")
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, trace *core.TraceRecord) (string, error) {
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

	unlock := s.updates.Lock(rec.ID)
	defer unlock()

	existing, err := s.Get(ctx, rec.ID)
	if err != nil && !errors.IsCode(err, errors.ResourceNotFound) {
		return "", err
	}
	if existing != nil {
		if !core.EqualSteps(existing.Steps, rec.Steps) {
			return "", errors.WithFields(
				errors.New(errors.IntegrityViolation, "trace id exists with different step content"),
				errors.Fields{"trace_id": rec.ID})
		}
		// Counters-only overwrite; immutable fields stay as first written.
		existing.Confidence = rec.Confidence
		existing.UsageCount = rec.UsageCount
		existing.SuccessCount = rec.SuccessCount
		existing.DriftCount = rec.DriftCount
		existing.Status = rec.Status
		existing.LastUsedAt = rec.LastUsedAt
		if err := s.writeRecord(ctx, existing); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	if err := s.writeRecord(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, traceID string) (*core.TraceRecord, error) {
	query := `SELECT ` + traceColumns + ` FROM traces WHERE trace_id = ?`
	rec, err := scanTrace(s.db.QueryRowContext(ctx, query, traceID))
	if err == sql.ErrNoRows {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "trace not found"),
			errors.Fields{"trace_id": traceID})
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to read trace")
	}
	return rec, nil
}

func (s *SQLiteStore) GetBySignature(ctx context.Context, signature string) ([]*core.TraceRecord, error) {
	query := `SELECT ` + traceColumns + ` FROM traces WHERE signature = ? ORDER BY confidence DESC, last_used_at DESC`
	rows, err := s.db.QueryContext(ctx, query, signature)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query traces by signature")
	}
	defer rows.Close()

	var out []*core.TraceRecord
	for rows.Next() {
		rec, err := scanTrace(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan trace row")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ScanCandidates(ctx context.Context, goalText string, limit int) ([]*core.TraceRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	goalKeywords := Keywords(goalText)

	query := `SELECT ` + traceColumns + ` FROM traces WHERE status != ?`
	rows, err := s.db.QueryContext(ctx, query, string(core.StatusDeprecated))
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan candidates")
	}
	defer rows.Close()

	type scored struct {
		rec     *core.TraceRecord
		overlap float64
	}
	var candidates []scored
	for rows.Next() {
		rec, err := scanTrace(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan trace row")
		}
		overlap := KeywordOverlap(goalKeywords, Keywords(rec.GoalText))
		if overlap > 0 {
			candidates = append(candidates, scored{rec: rec, overlap: overlap})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to iterate candidates")
	}

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

func (s *SQLiteStore) UpdateCounters(ctx context.Context, traceID string, success bool) error {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	rec, err := s.Get(ctx, traceID)
	if err != nil {
		return err
	}
	applyOutcome(rec, success, s.opts.Confidence, s.opts.Deprecation, time.Now())
	return s.writeRecord(ctx, rec)
}

func (s *SQLiteStore) NoteDrift(ctx context.Context, traceID string) error {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	rec, err := s.Get(ctx, traceID)
	if err != nil {
		return err
	}
	rec.DriftCount++
	return s.writeRecord(ctx, rec)
}

func (s *SQLiteStore) Crystallize(ctx context.Context, traceID string) (bool, error) {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	// Compare-and-set on status; RowsAffected tells us whether this caller
	// won the transition.
	result, err := s.db.ExecContext(ctx,
		`UPDATE traces SET status = ? WHERE trace_id = ? AND status = ?`,
		string(core.StatusCrystallized), traceID, string(core.StatusValidated))
	if err != nil {
		return false, errors.Wrap(err, errors.StorageFailed, "failed to crystallize trace")
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM traces WHERE trace_id = ?`, traceID).Scan(&exists)
		if err == sql.ErrNoRows {
			return false, errors.WithFields(
				errors.New(errors.ResourceNotFound, "trace not found"),
				errors.Fields{"trace_id": traceID})
		}
		if err != nil {
			return false, errors.Wrap(err, errors.StorageFailed, "failed to check trace existence")
		}
		return false, nil
	}

	// Re-render the document so the exported header matches the columns.
	rec, err := s.Get(ctx, traceID)
	if err != nil {
		return true, err
	}
	return true, s.writeRecord(ctx, rec)
}

func (s *SQLiteStore) Deprecate(ctx context.Context, traceID string) error {
	unlock := s.updates.Lock(traceID)
	defer unlock()

	rec, err := s.Get(ctx, traceID)
	if err != nil {
		return err
	}
	rec.Status = core.StatusDeprecated
	return s.writeRecord(ctx, rec)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[core.TraceStatus]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COALESCE(AVG(confidence), 0) FROM traces GROUP BY status`)
	if err != nil {
		return stats, errors.Wrap(err, errors.StorageFailed, "failed to query store stats")
	}
	defer rows.Close()

	var weighted float64
	for rows.Next() {
		var status string
		var count int
		var avg float64
		if err := rows.Scan(&status, &count, &avg); err != nil {
			return stats, errors.Wrap(err, errors.StorageFailed, "failed to scan stats row")
		}
		stats.ByStatus[core.TraceStatus(status)] = count
		stats.Total += count
		weighted += avg * float64(count)
	}
	if stats.Total > 0 {
		stats.AvgConfidence = weighted / float64(stats.Total)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) PruneDeprecated(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM traces WHERE status = ? AND last_used_at < ?`,
		string(core.StatusDeprecated), olderThan.UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, errors.StorageFailed, "failed to prune deprecated traces")
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (s *SQLiteStore) DecayStale(ctx context.Context, perDay float64, olderThan time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id FROM traces WHERE last_used_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, errors.StorageFailed, "failed to query stale traces")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, errors.StorageFailed, "failed to scan stale trace id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, errors.StorageFailed, "failed to iterate stale traces")
	}

	now := time.Now()
	touched := 0
	for _, id := range ids {
		unlock := s.updates.Lock(id)
		rec, err := s.Get(ctx, id)
		if err != nil {
			unlock()
			if errors.IsCode(err, errors.ResourceNotFound) {
				continue
			}
			return touched, err
		}
		days := now.Sub(rec.LastUsedAt).Hours() / 24
		rec.Confidence -= perDay * days
		if rec.Confidence < 0 {
			rec.Confidence = 0
		}
		err = s.writeRecord(ctx, rec)
		unlock()
		if err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}

func (s *SQLiteStore) Export(ctx context.Context, fn func(document []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM traces ORDER BY created_at ASC`)
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to query traces for export")
	}
	defer rows.Close()

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return errors.Wrap(err, errors.StorageFailed, "failed to scan trace document")
		}
		if err := fn(document); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements the interface.
var _ TraceStore = (*SQLiteStore)(nil)
