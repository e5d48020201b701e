package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a warehouse.
//
// When to use:
//   - Use Config when constructing a Warehouse via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//   - Options carries backend-specific settings (e.g. snowflake account/user)
//     for backends that can build their own DSN.
type Config struct {
	Kind     string
	DSN      string
	Database string
	Schema   string
	Options  map[string]string
}

// Warehouse is a handle on a destination warehouse. It hands out Sessions,
// each pinned to a single physical connection.
type Warehouse interface {
	// Connect opens a session. Temporary tables created through the session
	// are only visible to that session.
	Connect(ctx context.Context) (Session, error)

	// Close releases pooled resources. Call once at shutdown.
	Close() error
}

// Session is the per-month warehouse connection used by the backfill core.
//
// IMPORTANT: a Session is not safe for concurrent use. Every method issues
// one or more statements on the same connection, in order.
type Session interface {
	// TableExists consults the warehouse catalog.
	TableExists(ctx context.Context, t TableRef) (bool, error)

	// TableColumns returns column names in ordinal order.
	TableColumns(ctx context.Context, t TableRef) ([]string, error)

	// CreateTable issues CREATE TABLE with the given columns. It does not check
	// for existence first.
	CreateTable(ctx context.Context, t TableRef, columns []ColumnSpec) error

	// CountRows counts rows matching every filter (all rows when none).
	CountRows(ctx context.Context, t TableRef, filters ...Eq) (int64, error)

	// DeleteRows deletes rows matching every filter. At least one filter is required.
	DeleteRows(ctx context.Context, t TableRef, filters ...Eq) (int64, error)

	// TruncateTable removes every row.
	TruncateTable(ctx context.Context, t TableRef) error

	// CreateStagingTable creates a session-scoped, empty copy of like's structure
	// and returns its reference.
	CreateStagingTable(ctx context.Context, like TableRef) (TableRef, error)

	// BulkWrite writes rows (aligned to columns) into t using the backend's
	// fastest available path.
	BulkWrite(ctx context.Context, t TableRef, columns []string, rows [][]any) (int64, error)

	// InsertSelect runs INSERT INTO dst SELECT * FROM src as one statement.
	InsertSelect(ctx context.Context, dst, src TableRef) (int64, error)

	// DropTable drops t if it exists.
	DropTable(ctx context.Context, t TableRef) error

	// Close returns the underlying connection.
	Close() error
}

// Factory opens a Warehouse for a Config.
type Factory func(ctx context.Context, cfg Config) (Warehouse, error)

// DDLFunc renders the CREATE TABLE statement a backend would issue.
type DDLFunc func(t TableRef, columns []ColumnSpec) (string, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
	ddls      = map[string]DDLFunc{}
)

// Register registers a warehouse backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory, ddl DDLFunc) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
	if ddl != nil {
		ddls[kind] = ddl
	}
}

// Open constructs a Warehouse using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing warehouse kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported warehouse kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// CreateTableSQL renders the DDL a registered backend would use for t.
func CreateTableSQL(kind string, t TableRef, columns []ColumnSpec) (string, error) {
	mu.RLock()
	fn := ddls[kind]
	mu.RUnlock()

	if fn == nil {
		return "", fmt.Errorf("unsupported warehouse kind=%s", kind)
	}
	return fn(t, columns)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
