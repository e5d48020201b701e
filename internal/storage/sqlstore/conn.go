package sqlstore

import (
	"context"
	"database/sql"
)

// sqlConn is the subset of *sql.Conn (and *sql.DB) the executor needs.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// ConnExecutor adapts a database/sql connection to Executor.
type ConnExecutor struct {
	conn sqlConn
}

// NewConnExecutor wraps conn. Pass a *sql.Conn so every statement of a
// session lands on the same physical connection.
func NewConnExecutor(conn sqlConn) *ConnExecutor {
	return &ConnExecutor{conn: conn}
}

// Exec returns rows affected, or -1 when the driver cannot report it.
func (c *ConnExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

func (c *ConnExecutor) QueryInt64(ctx context.Context, query string, args ...any) (int64, error) {
	var n sql.NullInt64
	if err := c.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (c *ConnExecutor) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *ConnExecutor) Close() error { return c.conn.Close() }

var _ Executor = (*ConnExecutor)(nil)
