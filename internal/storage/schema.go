// Table and column descriptions shared by the backfill core and every backend
// package, kept here so neither side imports the other.
package storage

import (
	"fmt"
	"strings"
)

// TableRef identifies a table as (database, schema, name). Empty parts are
// omitted when a backend qualifies the name.
type TableRef struct {
	Database string `json:"database,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Name     string `json:"name"`
}

func (t TableRef) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Database, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Sibling returns a reference to another table in the same database and schema.
func (t TableRef) Sibling(name string) TableRef {
	return TableRef{Database: t.Database, Schema: t.Schema, Name: name}
}

// ColumnKind is the logical type of a column. Backends map it onto a native type.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindTimestamp
	KindBoolean
)

func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindTimestamp:
		return "timestamp"
	case KindBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k ColumnKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type ColumnSpec struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []ColumnSpec) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Eq is an equality predicate used by CountRows and DeleteRows.
type Eq struct {
	Column string
	Value  any
}

// Period is the (year, month) a tabular load is scoped to.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
