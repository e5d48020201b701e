// Package duckdb is the DuckDB warehouse backend. It is the local analytical
// target: a single database file, loaded through DuckDB's Appender API.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	duckdbgo "github.com/duckdb/duckdb-go/v2"

	"backfill/internal/storage"
	"backfill/internal/storage/sqlstore"
)

func init() {
	storage.Register("duckdb", Open, DDL)
}

// Warehouse implements storage.Warehouse for DuckDB.
//
// TableRef.Database is ignored (the DSN names the database file); an empty
// TableRef.Schema means "main". Staging tables are ordinary tables in the
// destination schema so the Appender can address them by (schema, name); the
// loader drops them after every chunk.
type Warehouse struct {
	connector *duckdbgo.Connector
	db        *sql.DB
}

// Open opens cfg.DSN ("" for in-memory, otherwise a file path).
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	connector, err := duckdbgo.NewConnector(cfg.DSN, nil)
	if err != nil {
		return nil, fmt.Errorf("duckdb connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Warehouse{connector: connector, db: db}, nil
}

func (w *Warehouse) Connect(ctx context.Context) (storage.Session, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("duckdb connect: %w", err)
	}
	ex := sqlstore.NewConnExecutor(conn)
	a := &appender{conn: conn, columns: ex}
	return sqlstore.NewSession(ex, dialect{}, a.write), nil
}

func (w *Warehouse) Close() error {
	err := w.db.Close()
	if cerr := w.connector.Close(); err == nil {
		err = cerr
	}
	return err
}

// DDL renders the CREATE TABLE statement used for t.
func DDL(t storage.TableRef, columns []storage.ColumnSpec) (string, error) {
	return sqlstore.BuildCreateTableSQL(dialect{}, t, columns)
}

// rawConn is the subset of *sql.Conn needed to reach the native connection.
type rawConn interface {
	Raw(f func(driverConn any) error) error
}

type columnLister interface {
	QueryStrings(ctx context.Context, query string, args ...any) ([]string, error)
}

type appender struct {
	conn    rawConn
	columns columnLister
}

// write appends rows through the native Appender. The Appender addresses
// columns by position, so each row is laid out in the table's ordinal order
// first; columns not supplied are appended as NULL.
func (a *appender) write(ctx context.Context, t storage.TableRef, columns []string, rows [][]any) (int64, error) {
	q, args := dialect{}.ColumnsQuery(t)
	tableCols, err := a.columns.QueryStrings(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("append %s: columns: %w", t, err)
	}
	layout, err := rowLayout(tableCols, columns)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", t, err)
	}

	var n int64
	err = a.conn.Raw(func(dc any) error {
		c, ok := dc.(*duckdbgo.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		app, err := duckdbgo.NewAppenderFromConn(c, schemaOrMain(t), t.Name)
		if err != nil {
			return err
		}

		vals := make([]driver.Value, len(layout))
		for _, row := range rows {
			for i, src := range layout {
				if src < 0 {
					vals[i] = nil
					continue
				}
				vals[i] = row[src]
			}
			if err := app.AppendRow(vals...); err != nil {
				_ = app.Close()
				return err
			}
			n++
		}
		// Close flushes buffered rows.
		return app.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", t, err)
	}
	return n, nil
}

// rowLayout maps each table column to its index in columns (-1 when absent).
// Every supplied column must exist in the table.
func rowLayout(tableCols, columns []string) ([]int, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[strings.ToLower(c)] = i
	}
	layout := make([]int, len(tableCols))
	matched := 0
	for i, tc := range tableCols {
		src, ok := idx[strings.ToLower(tc)]
		if !ok {
			layout[i] = -1
			continue
		}
		layout[i] = src
		matched++
	}
	if matched != len(columns) {
		return nil, fmt.Errorf("%d of %d columns not present in table", len(columns)-matched, len(columns))
	}
	return layout, nil
}

type dialect struct{}

func schemaOrMain(t storage.TableRef) string {
	if t.Schema == "" {
		return "main"
	}
	return t.Schema
}

func (dialect) Quote(id string) string { return sqlstore.QuoteDouble(id) }

func (dialect) Qualify(t storage.TableRef) string {
	return sqlstore.QuoteDouble(schemaOrMain(t)) + "." + sqlstore.QuoteDouble(t.Name)
}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) MaxParams() int { return 10000 }

func (dialect) ColumnType(k storage.ColumnKind) string {
	switch k {
	case storage.KindInteger:
		return "BIGINT"
	case storage.KindTimestamp:
		return "TIMESTAMP"
	case storage.KindBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

func (dialect) TableExistsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		[]any{schemaOrMain(t), t.Name}
}

func (dialect) ColumnsQuery(t storage.TableRef) (string, []any) {
	return `SELECT column_name FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
		[]any{schemaOrMain(t), t.Name}
}

func (dialect) CreateSchemaSQL(t storage.TableRef) string {
	if schemaOrMain(t) == "main" {
		return ""
	}
	return `CREATE SCHEMA IF NOT EXISTS ` + sqlstore.QuoteDouble(t.Schema)
}

func (dialect) StagingTable(like storage.TableRef, suffix string) storage.TableRef {
	return storage.TableRef{Schema: schemaOrMain(like), Name: "TMP_" + suffix}
}

func (d dialect) CreateStagingSQL(staging, like storage.TableRef) string {
	return fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM %s LIMIT 0`, d.Qualify(staging), d.Qualify(like))
}

func (d dialect) TruncateSQL(t storage.TableRef) string {
	return `TRUNCATE ` + d.Qualify(t)
}

func (dialect) BindValue(v any) any { return v }

var _ sqlstore.Dialect = dialect{}
