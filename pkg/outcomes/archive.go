package outcomes

import (
	"context"
	"os"
	"sync"

	"github.com/XiaoConstantine/retrace-go/pkg/core"
	"github.com/XiaoConstantine/retrace-go/pkg/errors"
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet"
	"github.com/apache/arrow/go/v13/parquet/file"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"
)

// archiveSchema is the columnar layout of the outcome archive. One row per
// dispatch; one row group per flushed buffer.
var archiveSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "goal", Type: arrow.BinaryTypes.String},
	{Name: "mode", Type: arrow.BinaryTypes.String},
	{Name: "trace_id", Type: arrow.BinaryTypes.String},
	{Name: "confidence", Type: arrow.PrimitiveTypes.Float64},
	{Name: "cost", Type: arrow.PrimitiveTypes.Float64},
	{Name: "latency_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "success", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "fallback", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "fallback_from", Type: arrow.BinaryTypes.String},
	{Name: "time_unix_ns", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// ParquetArchive buffers dispatch outcomes and flushes them as parquet row
// groups for downstream cost and usage analysis.
type ParquetArchive struct {
	mu         sync.Mutex
	f          *os.File
	writer     *pqarrow.FileWriter
	buffer     []core.DispatchOutcome
	bufferSize int
}

// NewParquetArchive creates (truncating) an archive file. bufferSize is the
// number of outcomes per row group; values below 1 default to 128.
func NewParquetArchive(path string, bufferSize int) (*ParquetArchive, error) {
	if bufferSize < 1 {
		bufferSize = 128
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to create outcome archive")
	}

	writer, err := pqarrow.NewFileWriter(archiveSchema, f,
		parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to create parquet writer")
	}

	return &ParquetArchive{
		f:          f,
		writer:     writer,
		bufferSize: bufferSize,
	}, nil
}

func (a *ParquetArchive) Emit(ctx context.Context, outcome core.DispatchOutcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer = append(a.buffer, outcome)
	if len(a.buffer) >= a.bufferSize {
		return a.flushLocked()
	}
	return nil
}

// Flush writes any buffered outcomes as a row group.
func (a *ParquetArchive) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked()
}

func (a *ParquetArchive) flushLocked() error {
	if len(a.buffer) == 0 {
		return nil
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, archiveSchema)
	defer builder.Release()

	for _, o := range a.buffer {
		builder.Field(0).(*array.StringBuilder).Append(o.ID)
		builder.Field(1).(*array.StringBuilder).Append(o.Goal)
		builder.Field(2).(*array.StringBuilder).Append(o.Mode.String())
		builder.Field(3).(*array.StringBuilder).Append(o.TraceID)
		builder.Field(4).(*array.Float64Builder).Append(o.Confidence)
		builder.Field(5).(*array.Float64Builder).Append(o.Cost)
		builder.Field(6).(*array.Int64Builder).Append(o.Latency.Milliseconds())
		builder.Field(7).(*array.BooleanBuilder).Append(o.Success)
		builder.Field(8).(*array.BooleanBuilder).Append(o.Fallback)
		if o.Fallback {
			builder.Field(9).(*array.StringBuilder).Append(o.FallbackFrom.String())
		} else {
			builder.Field(9).(*array.StringBuilder).Append("")
		}
		builder.Field(10).(*array.Int64Builder).Append(o.Time.UnixNano())
	}

	record := builder.NewRecord()
	defer record.Release()

	if err := a.writer.Write(record); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to write outcome row group")
	}
	a.buffer = a.buffer[:0]
	return nil
}

// Close flushes remaining outcomes and finalizes the parquet footer.
func (a *ParquetArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.flushLocked(); err != nil {
		return err
	}
	// FileWriter.Close writes the footer and closes the underlying file.
	return a.writer.Close()
}

var _ Sink = (*ParquetArchive)(nil)

// ArchivedOutcome is one row read back from an archive.
type ArchivedOutcome struct {
	ID           string
	Goal         string
	Mode         string
	TraceID      string
	Confidence   float64
	Cost         float64
	LatencyMs    int64
	Success      bool
	Fallback     bool
	FallbackFrom string
	TimeUnixNs   int64
}

// ReadArchive loads every row of an outcome archive, for analysis tooling.
func ReadArchive(path string) ([]ArchivedOutcome, error) {
	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to open outcome archive")
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to create arrow reader")
	}

	table, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to read outcome table")
	}
	defer table.Release()

	out := make([]ArchivedOutcome, 0, table.NumRows())
	strCol := func(col int) func(int) string {
		return func(row int) string {
			chunk, offset := locateChunk(table.Column(col).Data().Chunks(), row)
			return chunk.(*array.String).Value(offset)
		}
	}
	f64Col := func(col int) func(int) float64 {
		return func(row int) float64 {
			chunk, offset := locateChunk(table.Column(col).Data().Chunks(), row)
			return chunk.(*array.Float64).Value(offset)
		}
	}
	i64Col := func(col int) func(int) int64 {
		return func(row int) int64 {
			chunk, offset := locateChunk(table.Column(col).Data().Chunks(), row)
			return chunk.(*array.Int64).Value(offset)
		}
	}
	boolCol := func(col int) func(int) bool {
		return func(row int) bool {
			chunk, offset := locateChunk(table.Column(col).Data().Chunks(), row)
			return chunk.(*array.Boolean).Value(offset)
		}
	}

	id, goal, mode, traceID := strCol(0), strCol(1), strCol(2), strCol(3)
	confidence, cost := f64Col(4), f64Col(5)
	latency := i64Col(6)
	success, fallback := boolCol(7), boolCol(8)
	fallbackFrom := strCol(9)
	ts := i64Col(10)

	for row := 0; row < int(table.NumRows()); row++ {
		out = append(out, ArchivedOutcome{
			ID:           id(row),
			Goal:         goal(row),
			Mode:         mode(row),
			TraceID:      traceID(row),
			Confidence:   confidence(row),
			Cost:         cost(row),
			LatencyMs:    latency(row),
			Success:      success(row),
			Fallback:     fallback(row),
			FallbackFrom: fallbackFrom(row),
			TimeUnixNs:   ts(row),
		})
	}
	return out, nil
}

// locateChunk maps a table-level row index onto the chunk holding it.
func locateChunk(chunks []arrow.Array, row int) (arrow.Array, int) {
	for _, chunk := range chunks {
		if row < chunk.Len() {
			return chunk, row
		}
		row -= chunk.Len()
	}
	return chunks[len(chunks)-1], row
}
