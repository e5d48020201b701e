package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"backfill/internal/dataset"
	"backfill/internal/metrics"
	"backfill/internal/retry"
	"backfill/internal/storage"
	"backfill/internal/transformer"
)

const (
	// reclaimEvery is how many chunks pass between memory reclaim hints.
	reclaimEvery = 5
	// progressEvery is how many chunks pass between progress log lines.
	progressEvery = 10
)

// Loader writes chunks into a destination table through a staging table.
type Loader struct {
	policy    retry.Policy
	retryOpts []retry.Option
	log       *zap.Logger
	metrics   metrics.Backend

	// reclaim releases freed memory back to the OS.
	reclaim func()
}

func NewLoader(policy retry.Policy, log *zap.Logger, m metrics.Backend, opts ...retry.Option) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		policy:    policy,
		retryOpts: retryOptions(log, opts),
		log:       log,
		metrics:   metrics.OrNop(m),
		reclaim:   debug.FreeOSMemory,
	}
}

// ChunkColumns returns the columns of annotated chunk rows: the source
// columns, typed from inferred when a column of the same name exists there
// and as text otherwise, followed by the metadata columns.
func ChunkColumns(src []string, inferred []storage.ColumnSpec, meta transformer.Meta) []storage.ColumnSpec {
	kinds := make(map[string]storage.ColumnKind, len(inferred))
	for _, c := range inferred {
		kinds[strings.ToLower(c.Name)] = c.Kind
	}
	out := make([]storage.ColumnSpec, 0, len(src)+7)
	for _, name := range src {
		out = append(out, storage.ColumnSpec{Name: name, Kind: kinds[strings.ToLower(name)]})
	}
	return append(out, meta.Columns()...)
}

// MatchColumns maps chunk column names onto the table's spelling, matching
// case-insensitively. Any chunk column the table lacks is a
// *SchemaMismatchError.
func MatchColumns(t storage.TableRef, tableCols []string, chunkCols []storage.ColumnSpec) ([]string, error) {
	byLower := make(map[string]string, len(tableCols))
	for _, c := range tableCols {
		byLower[strings.ToLower(c)] = c
	}
	out := make([]string, len(chunkCols))
	var missing []string
	for i, c := range chunkCols {
		actual, ok := byLower[strings.ToLower(c.Name)]
		if !ok {
			missing = append(missing, c.Name)
			continue
		}
		out[i] = actual
	}
	if len(missing) > 0 {
		return nil, &SchemaMismatchError{Table: t, Missing: missing}
	}
	return out, nil
}

// Load drains chunks into t. Every chunk is annotated with meta, coerced to
// cols and committed with StageAndCommit; the first chunk that exhausts its
// retries stops the load. It returns the rows committed, including those of
// chunks committed before a failure.
func (l *Loader) Load(ctx context.Context, sess storage.Session, t storage.TableRef, tableCols []string,
	cols []storage.ColumnSpec, chunks *dataset.ChunkReader, meta transformer.Meta) (int64, error) {

	names, err := MatchColumns(t, tableCols, cols)
	if err != nil {
		return 0, err
	}
	kinds := make([]storage.ColumnKind, len(cols))
	for i, c := range cols {
		kinds[i] = c.Kind
	}

	total := chunks.Total()
	l.log.Info("loading chunks", zap.String("table", t.String()), zap.Int("chunks", total))

	var loaded int64
	for {
		c, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			return loaded, nil
		}
		if err != nil {
			return loaded, fmt.Errorf("read chunk: %w", err)
		}

		n, err := l.loadChunk(ctx, sess, t, names, kinds, c, meta)
		c.Release()
		if err != nil {
			return loaded, &ChunkError{Index: c.Index + 1, Total: total, Err: err}
		}
		loaded += n
		l.metrics.IncCounter(metrics.RecordsTotal, float64(n), metrics.Labels{"kind": "inserted"})
		l.metrics.IncCounter(metrics.BatchesTotal, 1, nil)

		done := c.Index + 1
		p := Progress{ChunksDone: done, Chunks: total, RowsLoaded: loaded}
		if meta.Period != nil {
			p.Month = meta.Period.Month
		}
		ReportProgress(ctx, p)
		if done%reclaimEvery == 0 {
			l.reclaim()
		}
		if done%progressEvery == 0 || done == total {
			l.log.Info("chunk committed",
				zap.String("table", t.String()),
				zap.String("chunk", fmt.Sprintf("%d/%d", done, total)),
				zap.Int64("rows", loaded))
		}
	}
}

func (l *Loader) loadChunk(ctx context.Context, sess storage.Session, t storage.TableRef, names []string,
	kinds []storage.ColumnKind, c *dataset.Chunk, meta transformer.Meta) (int64, error) {

	transformer.Annotate(c.Rows, meta)
	for _, r := range c.Rows {
		if err := transformer.CoerceRow(r, kinds); err != nil {
			return 0, err
		}
	}
	rows := transformer.Values(c.Rows)

	start := time.Now()
	var n int64
	err := retry.Do(ctx, l.policy, fmt.Sprintf("chunk %d/%d", c.Index+1, c.Total), func(ctx context.Context) error {
		var err error
		n, err = l.StageAndCommit(ctx, sess, t, names, rows)
		return err
	}, l.retryOpts...)
	metrics.ObserveStep(l.metrics, "chunk", start, err)
	return n, err
}

// StageAndCommit is one attempt at committing rows: create a staging table
// cloned from t, bulk write into it, then move everything into t with a
// single INSERT ... SELECT. The staging table is dropped on every path.
func (l *Loader) StageAndCommit(ctx context.Context, sess storage.Session, t storage.TableRef, columns []string, rows [][]any) (n int64, err error) {
	staging, err := sess.CreateStagingTable(ctx, t)
	if err != nil {
		return 0, err
	}
	defer func() {
		if derr := sess.DropTable(context.WithoutCancel(ctx), staging); derr != nil {
			l.log.Warn("drop staging table", zap.String("table", staging.String()), zap.Error(derr))
		}
	}()

	written, err := sess.BulkWrite(ctx, staging, columns, rows)
	if err != nil {
		return 0, err
	}
	if written != int64(len(rows)) {
		return 0, fmt.Errorf("bulk write into %s: wrote %d of %d rows", staging, written, len(rows))
	}

	n, err = sess.InsertSelect(ctx, t, staging)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = written
	}
	return n, nil
}
