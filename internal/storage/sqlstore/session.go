// Package sqlstore implements storage.Session on top of a dialect and a small
// statement executor. Backends supply the dialect (quoting, placeholders,
// catalog queries, native types) and optionally a faster bulk write path;
// everything else is shared.
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"backfill/internal/storage"
)

// Dialect captures what differs between warehouses for the statements the
// backfill core issues.
type Dialect interface {
	// Quote returns a quoted identifier.
	Quote(ident string) string

	// Qualify returns the fully qualified, quoted name of t.
	Qualify(t storage.TableRef) string

	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string

	// MaxParams bounds the bind parameters per statement.
	MaxParams() int

	// ColumnType maps a logical kind onto a native column type.
	ColumnType(k storage.ColumnKind) string

	// TableExistsQuery returns a query yielding a single count (> 0 when t exists).
	TableExistsQuery(t storage.TableRef) (string, []any)

	// ColumnsQuery returns a query yielding t's column names in ordinal order.
	ColumnsQuery(t storage.TableRef) (string, []any)

	// CreateSchemaSQL returns a statement creating t's schema if missing, or "".
	CreateSchemaSQL(t storage.TableRef) string

	// StagingTable names the staging table cloned from like.
	StagingTable(like storage.TableRef, suffix string) storage.TableRef

	// CreateStagingSQL creates staging as an empty copy of like.
	CreateStagingSQL(staging, like storage.TableRef) string

	// TruncateSQL empties t.
	TruncateSQL(t storage.TableRef) string

	// BindValue adapts a Go value for the driver (e.g. time.Time to text).
	BindValue(v any) any
}

// Executor runs statements on one pinned connection.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryInt64(ctx context.Context, query string, args ...any) (int64, error)
	QueryStrings(ctx context.Context, query string, args ...any) ([]string, error)
	Close() error
}

// BulkWriter is a backend-native bulk path (COPY, bulk copy, appender).
type BulkWriter func(ctx context.Context, t storage.TableRef, columns []string, rows [][]any) (int64, error)

// Session implements storage.Session.
type Session struct {
	exec Executor
	d    Dialect
	bulk BulkWriter

	// newSuffix names staging tables. Tests replace it for stable SQL.
	newSuffix func() string
}

// NewSession builds a Session. When bulk is nil, BulkWrite falls back to
// multi-row INSERT statements sized to the dialect's parameter limit.
func NewSession(exec Executor, d Dialect, bulk BulkWriter) *Session {
	return &Session{exec: exec, d: d, bulk: bulk, newSuffix: stagingSuffix}
}

func stagingSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Dialect exposes the session's dialect to backend bulk writers.
func (s *Session) Dialect() Dialect { return s.d }

func (s *Session) TableExists(ctx context.Context, t storage.TableRef) (bool, error) {
	q, args := s.d.TableExistsQuery(t)
	n, err := s.exec.QueryInt64(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", t, err)
	}
	return n > 0, nil
}

func (s *Session) TableColumns(ctx context.Context, t storage.TableRef) ([]string, error) {
	q, args := s.d.ColumnsQuery(t)
	cols, err := s.exec.QueryStrings(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("table columns %s: %w", t, err)
	}
	return cols, nil
}

func (s *Session) CreateTable(ctx context.Context, t storage.TableRef, columns []storage.ColumnSpec) error {
	if q := s.d.CreateSchemaSQL(t); q != "" {
		if _, err := s.exec.Exec(ctx, q); err != nil {
			return fmt.Errorf("create schema for %s: %w", t, err)
		}
	}
	q, err := BuildCreateTableSQL(s.d, t, columns)
	if err != nil {
		return err
	}
	if _, err := s.exec.Exec(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", t, err)
	}
	return nil
}

func (s *Session) CountRows(ctx context.Context, t storage.TableRef, filters ...storage.Eq) (int64, error) {
	where, args := BuildWhere(s.d, filters, 1)
	q := "SELECT COUNT(*) FROM " + s.d.Qualify(t) + where
	n, err := s.exec.QueryInt64(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	return n, nil
}

func (s *Session) DeleteRows(ctx context.Context, t storage.TableRef, filters ...storage.Eq) (int64, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("delete %s: refusing to delete without a filter", t)
	}
	where, args := BuildWhere(s.d, filters, 1)
	n, err := s.exec.Exec(ctx, "DELETE FROM "+s.d.Qualify(t)+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t, err)
	}
	return n, nil
}

func (s *Session) TruncateTable(ctx context.Context, t storage.TableRef) error {
	if _, err := s.exec.Exec(ctx, s.d.TruncateSQL(t)); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

func (s *Session) CreateStagingTable(ctx context.Context, like storage.TableRef) (storage.TableRef, error) {
	staging := s.d.StagingTable(like, s.newSuffix())
	if _, err := s.exec.Exec(ctx, s.d.CreateStagingSQL(staging, like)); err != nil {
		return storage.TableRef{}, fmt.Errorf("create staging for %s: %w", like, err)
	}
	return staging, nil
}

func (s *Session) BulkWrite(ctx context.Context, t storage.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if s.bulk != nil {
		return s.bulk(ctx, t, columns, rows)
	}
	return s.InsertRows(ctx, t, columns, rows)
}

// InsertRows writes rows with multi-row INSERT statements, splitting so no
// statement exceeds the dialect's parameter limit.
func (s *Session) InsertRows(ctx context.Context, t storage.TableRef, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", t)
	}
	per := s.d.MaxParams() / len(columns)
	if per < 1 {
		per = 1
	}

	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := BuildInsertSQL(s.d, t, columns, rows[start:end])
		if _, err := s.exec.Exec(ctx, q, args...); err != nil {
			return total, fmt.Errorf("insert %s: %w", t, err)
		}
		total += int64(end - start)
	}
	return total, nil
}

func (s *Session) InsertSelect(ctx context.Context, dst, src storage.TableRef) (int64, error) {
	q := "INSERT INTO " + s.d.Qualify(dst) + " SELECT * FROM " + s.d.Qualify(src)
	n, err := s.exec.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("insert %s from %s: %w", dst, src, err)
	}
	return n, nil
}

func (s *Session) DropTable(ctx context.Context, t storage.TableRef) error {
	if _, err := s.exec.Exec(ctx, "DROP TABLE IF EXISTS "+s.d.Qualify(t)); err != nil {
		return fmt.Errorf("drop %s: %w", t, err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.exec.Close()
}

var _ storage.Session = (*Session)(nil)
