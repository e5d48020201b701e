package snowflake

import (
	"context"
	"database/sql"
	"fmt"

	sf "github.com/snowflakedb/gosnowflake"

	"backfill/internal/storage"
	"backfill/internal/storage/sqlstore"
)

func init() {
	storage.Register("snowflake", Open, DDL)
}

// Warehouse implements storage.Warehouse for Snowflake.
//
// Staging tables are session-scoped TEMPORARY tables created with LIKE.
// Rows are loaded with multi-row INSERT statements; an empty TableRef.Schema
// means "PUBLIC".
type Warehouse struct {
	db *sql.DB
}

// Open connects using cfg.DSN, or builds one from cfg.Options (account, user,
// password, warehouse, role) plus cfg.Database and cfg.Schema when DSN is empty.
func Open(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	raw, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(4)
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Warehouse{db: raw}, nil
}

func buildDSN(cfg storage.Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	o := cfg.Options
	if o["account"] == "" || o["user"] == "" {
		return "", fmt.Errorf("snowflake: dsn or options account/user required")
	}
	dsn, err := sf.DSN(&sf.Config{
		Account:   o["account"],
		User:      o["user"],
		Password:  o["password"],
		Warehouse: o["warehouse"],
		Role:      o["role"],
		Database:  cfg.Database,
		Schema:    cfg.Schema,
	})
	if err != nil {
		return "", fmt.Errorf("snowflake dsn: %w", err)
	}
	return dsn, nil
}

func (w *Warehouse) Connect(ctx context.Context) (storage.Session, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("snowflake connect: %w", err)
	}
	return sqlstore.NewSession(sqlstore.NewConnExecutor(conn), dialect{}, nil), nil
}

func (w *Warehouse) Close() error { return w.db.Close() }

// DDL renders the CREATE TABLE statement used for t.
func DDL(t storage.TableRef, columns []storage.ColumnSpec) (string, error) {
	return sqlstore.BuildCreateTableSQL(dialect{}, t, columns)
}

type dialect struct{}

func schemaOrPublic(t storage.TableRef) string {
	if t.Schema == "" {
		return "PUBLIC"
	}
	return t.Schema
}

func (dialect) Quote(id string) string { return sqlstore.QuoteDouble(id) }

func (dialect) Qualify(t storage.TableRef) string {
	q := sqlstore.QuoteDouble(schemaOrPublic(t)) + "." + sqlstore.QuoteDouble(t.Name)
	if t.Database != "" {
		q = sqlstore.QuoteDouble(t.Database) + "." + q
	}
	return q
}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) MaxParams() int { return 16384 }

func (dialect) ColumnType(k storage.ColumnKind) string {
	switch k {
	case storage.KindInteger:
		return "NUMBER(38,0)"
	case storage.KindTimestamp:
		return "TIMESTAMP_NTZ"
	case storage.KindBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

func infoSchema(t storage.TableRef) string {
	if t.Database == "" {
		return "INFORMATION_SCHEMA"
	}
	return sqlstore.QuoteDouble(t.Database) + ".INFORMATION_SCHEMA"
}

func (dialect) TableExistsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COUNT(*) FROM ` + infoSchema(t) + `.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		[]any{schemaOrPublic(t), t.Name}
}

func (dialect) ColumnsQuery(t storage.TableRef) (string, []any) {
	return `SELECT COLUMN_NAME FROM ` + infoSchema(t) + `.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`,
		[]any{schemaOrPublic(t), t.Name}
}

func (dialect) CreateSchemaSQL(t storage.TableRef) string {
	if t.Schema == "" {
		return ""
	}
	s := sqlstore.QuoteDouble(t.Schema)
	if t.Database != "" {
		s = sqlstore.QuoteDouble(t.Database) + "." + s
	}
	return `CREATE SCHEMA IF NOT EXISTS ` + s
}

func (dialect) StagingTable(like storage.TableRef, suffix string) storage.TableRef {
	return storage.TableRef{Database: like.Database, Schema: like.Schema, Name: "TMP_" + suffix}
}

func (d dialect) CreateStagingSQL(staging, like storage.TableRef) string {
	return fmt.Sprintf(`CREATE TEMPORARY TABLE %s LIKE %s`, d.Qualify(staging), d.Qualify(like))
}

func (d dialect) TruncateSQL(t storage.TableRef) string {
	return `TRUNCATE TABLE ` + d.Qualify(t)
}

func (dialect) BindValue(v any) any { return v }

var _ sqlstore.Dialect = dialect{}
