package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"backfill/internal/storage"
	"backfill/internal/storage/sqlstore"
)

// Warehouse implements storage.Warehouse for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no schemas; TableRef.Database and TableRef.Schema are ignored.
//   - Timestamps are stored as TEXT (RFC3339Nano, UTC) for reliable
//     round-trips with modernc.org/sqlite.
//   - TRUNCATE does not exist; TruncateTable issues DELETE FROM.
//   - Temp tables belong to the connection, so every session pins one.
type Warehouse struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open, DDL)
}

// Open opens the database named by cfg.DSN (a file path or modernc DSN).
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Warehouse{db: db}, nil
}

func (w *Warehouse) Connect(ctx context.Context) (storage.Session, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite connect: %w", err)
	}
	return sqlstore.NewSession(sqlstore.NewConnExecutor(conn), dialect{}, nil), nil
}

func (w *Warehouse) Close() error { return w.db.Close() }

// DDL renders the CREATE TABLE statement used for t.
func DDL(t storage.TableRef, columns []storage.ColumnSpec) (string, error) {
	return sqlstore.BuildCreateTableSQL(dialect{}, t, columns)
}

type dialect struct{}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return sqlstore.QuoteDouble(id)
}

func (dialect) Quote(id string) string { return sqlIdent(id) }

func (dialect) Qualify(t storage.TableRef) string { return sqlIdent(t.Name) }

func (dialect) Placeholder(int) string { return "?" }

// MaxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766 since 3.32).
func (dialect) MaxParams() int { return 32000 }

func (dialect) ColumnType(k storage.ColumnKind) string {
	switch k {
	case storage.KindInteger, storage.KindBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (dialect) TableExistsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{t.Name}
}

func (dialect) ColumnsQuery(t storage.TableRef) (string, []any) {
	return `SELECT name FROM pragma_table_info(?) ORDER BY cid`, []any{t.Name}
}

func (dialect) CreateSchemaSQL(storage.TableRef) string { return "" }

func (dialect) StagingTable(_ storage.TableRef, suffix string) storage.TableRef {
	return storage.TableRef{Name: "TMP_" + suffix}
}

// CreateStagingSQL clones like's columns (with their declared types) into a
// connection-scoped temp table.
func (dialect) CreateStagingSQL(staging, like storage.TableRef) string {
	return fmt.Sprintf(`CREATE TEMP TABLE %s AS SELECT * FROM %s WHERE 0`, sqlIdent(staging.Name), sqlIdent(like.Name))
}

func (dialect) TruncateSQL(t storage.TableRef) string {
	return "DELETE FROM " + sqlIdent(t.Name)
}

func (dialect) BindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
// We store timestamps as TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05" (interpreted as UTC; the textual form of
//     normalized source timestamps)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// ParseTime parses a timestamp column value read back from SQLite.
func ParseTime(s string) (time.Time, error) { return parseSQLiteTime(s) }

var _ sqlstore.Dialect = dialect{}
