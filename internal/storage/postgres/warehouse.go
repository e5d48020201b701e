package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"backfill/internal/storage"
	"backfill/internal/storage/sqlstore"
)

/*
Warehouse implements storage.Warehouse for Postgres.

It provides:
  - Sessions pinned to one pooled connection (temp tables are per connection)
  - COPY FROM as the bulk write path
  - information_schema lookups for existence and column checks

TableRef.Database is ignored; the DSN selects the database. An empty
TableRef.Schema means "public".
*/
type Warehouse struct {
	pool *pgxpool.Pool
}

// Open creates a new Postgres-backed Warehouse.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Warehouse{pool: pool}, nil
}

// Connect acquires a connection for the lifetime of the session.
func (w *Warehouse) Connect(ctx context.Context) (storage.Session, error) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	ex := &executor{conn: conn}
	return sqlstore.NewSession(ex, dialect{}, ex.copyFrom), nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() error {
	w.pool.Close()
	return nil
}

// DDL renders the CREATE TABLE statement used for t.
func DDL(t storage.TableRef, columns []storage.ColumnSpec) (string, error) {
	return sqlstore.BuildCreateTableSQL(dialect{}, t, columns)
}

// pgConn is the subset of *pgxpool.Conn the executor needs.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Release()
}

type executor struct {
	conn pgConn
}

func (e *executor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := e.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e *executor) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := e.conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *executor) QueryStrings(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := e.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (e *executor) Close() error {
	e.conn.Release()
	return nil
}

// copyFrom streams rows with the binary COPY protocol.
func (e *executor) copyFrom(ctx context.Context, t storage.TableRef, columns []string, rows [][]any) (int64, error) {
	n, err := e.conn.CopyFrom(ctx, identifier(t), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", t, err)
	}
	return n, nil
}

func identifier(t storage.TableRef) pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}
	}
	return pgx.Identifier{t.Schema, t.Name}
}

type dialect struct{}

// pgIdent returns a double-quoted identifier, escaping '"'.
func pgIdent(id string) string { return sqlstore.QuoteDouble(id) }

func schemaOrPublic(t storage.TableRef) string {
	if t.Schema == "" {
		return "public"
	}
	return t.Schema
}

func (dialect) Quote(id string) string { return pgIdent(id) }

func (dialect) Qualify(t storage.TableRef) string {
	if t.Schema == "" {
		return pgIdent(t.Name)
	}
	return pgIdent(t.Schema) + "." + pgIdent(t.Name)
}

func (dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (dialect) MaxParams() int { return 65535 }

func (dialect) ColumnType(k storage.ColumnKind) string {
	switch k {
	case storage.KindInteger:
		return "BIGINT"
	case storage.KindTimestamp:
		return "TIMESTAMP"
	case storage.KindBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (dialect) TableExistsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		[]any{schemaOrPublic(t), t.Name}
}

func (dialect) ColumnsQuery(t storage.TableRef) (string, []any) {
	return `SELECT column_name::text FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		[]any{schemaOrPublic(t), t.Name}
}

func (dialect) CreateSchemaSQL(t storage.TableRef) string {
	if t.Schema == "" {
		return ""
	}
	return `CREATE SCHEMA IF NOT EXISTS ` + pgIdent(t.Schema)
}

func (dialect) StagingTable(_ storage.TableRef, suffix string) storage.TableRef {
	return storage.TableRef{Name: "TMP_" + suffix}
}

func (d dialect) CreateStagingSQL(staging, like storage.TableRef) string {
	return fmt.Sprintf(`CREATE TEMP TABLE %s (LIKE %s)`, d.Qualify(staging), d.Qualify(like))
}

func (d dialect) TruncateSQL(t storage.TableRef) string {
	return `TRUNCATE TABLE ` + d.Qualify(t)
}

func (dialect) BindValue(v any) any { return v }

var _ sqlstore.Dialect = dialect{}
