// Package transformer turns decoded source rows into warehouse-ready rows:
// pooled row storage, value coercion per column kind, and metadata annotation.
package transformer

import "sync"

// Row is a pooled container holding one positional row of a chunk. The chunk
// reader hands out rows and takes them back when the chunk is released.
type Row struct {
	V    []any
	Line int // 1-based source record number
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount. All elements are zeroed.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool. Released chunks free their rows.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without returning it to the pool. The chunk reader
// drops the row it was filling when the source fails partway through it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

// Values returns the rows' value slices, in order.
func Values(rows []*Row) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.V
	}
	return out
}
