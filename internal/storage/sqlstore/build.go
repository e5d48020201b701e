package sqlstore

import (
	"fmt"
	"strings"

	"backfill/internal/storage"
)

// BuildCreateTableSQL renders CREATE TABLE for t.
//
// It is pure and deterministic so backends can unit test their DDL without a
// database.
func BuildCreateTableSQL(d Dialect, t storage.TableRef, columns []storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("table %s: no columns", t)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(d.Qualify(t))
	b.WriteString(" (")
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("table %s: column %d has empty name", t, i)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return "", fmt.Errorf("table %s: duplicate column %q", t, name)
		}
		seen[key] = true

		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(name))
		b.WriteString(" ")
		b.WriteString(d.ColumnType(c.Kind))
	}
	b.WriteString(")")
	return b.String(), nil
}

// BuildInsertSQL constructs a single multi-row INSERT and its args.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func BuildInsertSQL(d Dialect, t storage.TableRef, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Qualify(t))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(p))
			args = append(args, d.BindValue(row[j]))
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// BuildWhere renders " WHERE a = ? AND b = ?" starting at placeholder first.
// It returns "" and no args when filters is empty.
func BuildWhere(d Dialect, filters []storage.Eq, first int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	var b strings.Builder
	args := make([]any, 0, len(filters))
	b.WriteString(" WHERE ")
	for i, f := range filters {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(d.Quote(f.Column))
		b.WriteString(" = ")
		b.WriteString(d.Placeholder(first + i))
		args = append(args, d.BindValue(f.Value))
	}
	return b.String(), args
}

// QuoteDouble returns an ANSI double-quoted identifier, escaping '"' as '""'.
func QuoteDouble(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QualifyWith joins the non-empty parts of t with quote applied to each.
func QualifyWith(quote func(string) string, t storage.TableRef) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Database, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, quote(p))
		}
	}
	return strings.Join(parts, ".")
}
