package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"backfill/internal/storage"
	"backfill/internal/storage/sqlstore"
)

// Warehouse implements storage.Warehouse for Microsoft SQL Server.
//
// Staging tables are local temp tables (#TMP_xxxxxxxx) created with
// SELECT TOP 0 * INTO, so they inherit the destination's column types and
// disappear with the session. Rows reach them through the TDS bulk copy
// protocol (mssql.CopyIn) inside a short transaction on the session's
// connection.
//
// An empty TableRef.Schema means "dbo".
type Warehouse struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", Open, DDL)
}

// Open constructs a Warehouse using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// one session per month, plus headroom for probes
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Warehouse{db: raw}, nil
}

func (w *Warehouse) Connect(ctx context.Context) (storage.Session, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("mssql connect: %w", err)
	}
	bc := &bulkCopier{conn: conn}
	return sqlstore.NewSession(sqlstore.NewConnExecutor(conn), dialect{}, bc.write), nil
}

// Close releases database resources held by this warehouse.
func (w *Warehouse) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// DDL renders the CREATE TABLE statement used for t.
func DDL(t storage.TableRef, columns []storage.ColumnSpec) (string, error) {
	return sqlstore.BuildCreateTableSQL(dialect{}, t, columns)
}

// txBeginner is the subset of *sql.Conn used by the bulk copy path.
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type bulkCopier struct {
	conn txBeginner
}

// write bulk copies rows into t and commits.
func (b *bulkCopier) write(ctx context.Context, t storage.TableRef, columns []string, rows [][]any) (n int64, err error) {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk copy %s: begin: %w", t, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, mssqldb.CopyIn(dialect{}.Qualify(t), mssqldb.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("bulk copy %s: prepare: %w", t, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("bulk copy %s: row %d: %w", t, i, err)
		}
	}
	// an argument-less Exec flushes the batch
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulk copy %s: flush: %w", t, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk copy %s: commit: %w", t, err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return n, nil
}

type dialect struct{}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func schemaOrDbo(t storage.TableRef) string {
	if t.Schema == "" {
		return "dbo"
	}
	return t.Schema
}

// catalog returns the INFORMATION_SCHEMA prefix for t's database.
func catalog(t storage.TableRef) string {
	if t.Database == "" {
		return "INFORMATION_SCHEMA"
	}
	return mssqlIdent(t.Database) + ".INFORMATION_SCHEMA"
}

func (dialect) Quote(id string) string { return mssqlIdent(id) }

// Qualify renders [db].[schema].[name]. Temp tables (#name) are never qualified.
func (dialect) Qualify(t storage.TableRef) string {
	if strings.HasPrefix(t.Name, "#") {
		return mssqlIdent(t.Name)
	}
	if t.Database != "" {
		return mssqlIdent(t.Database) + "." + mssqlIdent(schemaOrDbo(t)) + "." + mssqlIdent(t.Name)
	}
	return mssqlIdent(schemaOrDbo(t)) + "." + mssqlIdent(t.Name)
}

func (dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// MaxParams stays under SQL Server's 2100 parameter limit.
func (dialect) MaxParams() int { return 2000 }

func (dialect) ColumnType(k storage.ColumnKind) string {
	switch k {
	case storage.KindInteger:
		return "BIGINT"
	case storage.KindTimestamp:
		return "DATETIME2"
	case storage.KindBoolean:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (dialect) TableExistsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COUNT(*) FROM ` + catalog(t) + `.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`,
		[]any{schemaOrDbo(t), t.Name}
}

func (dialect) ColumnsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COLUMN_NAME FROM ` + catalog(t) + `.COLUMNS WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION`,
		[]any{schemaOrDbo(t), t.Name}
}

func (dialect) CreateSchemaSQL(t storage.TableRef) string {
	s := schemaOrDbo(t)
	if s == "dbo" || t.Database != "" {
		return ""
	}
	escaped := strings.ReplaceAll(s, "'", "''")
	return fmt.Sprintf(`IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s')`, escaped, strings.ReplaceAll(mssqlIdent(s), "'", "''"))
}

func (dialect) StagingTable(_ storage.TableRef, suffix string) storage.TableRef {
	return storage.TableRef{Name: "#TMP_" + suffix}
}

func (d dialect) CreateStagingSQL(staging, like storage.TableRef) string {
	return fmt.Sprintf(`SELECT TOP 0 * INTO %s FROM %s`, d.Qualify(staging), d.Qualify(like))
}

func (d dialect) TruncateSQL(t storage.TableRef) string {
	return `TRUNCATE TABLE ` + d.Qualify(t)
}

func (dialect) BindValue(v any) any { return v }

var _ sqlstore.Dialect = dialect{}
