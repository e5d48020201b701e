// Package dataset decodes downloaded source files and hands their rows out in
// fixed-size chunks.
package dataset

import (
	"errors"
	"fmt"
	"io"

	"backfill/internal/transformer"
)

// Format is the encoding of a source file.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// Ext returns the file extension used in source file names.
func (f Format) Ext() string { return "." + string(f) }

// rowSource yields decoded rows in source order.
type rowSource interface {
	// next fills dst (len == number of columns) with the next row's values.
	next(dst []any) (bool, error)
	release()
}

// Dataset is one decoded source file, held in memory until Release.
type Dataset struct {
	format  Format
	columns []string
	rows    int64

	src     rowSource
	started bool
}

// Format reports how the dataset was decoded.
func (d *Dataset) Format() Format { return d.format }

// Columns returns the source column names in file order.
func (d *Dataset) Columns() []string { return d.columns }

// NumRows returns the number of data rows.
func (d *Dataset) NumRows() int64 { return d.rows }

// Release frees decoded buffers. The dataset must not be used afterwards.
func (d *Dataset) Release() {
	if d.src != nil {
		d.src.release()
		d.src = nil
	}
}

// NumChunks returns ceil(rows/size).
func NumChunks(rows int64, size int) int {
	if size <= 0 || rows <= 0 {
		return 0
	}
	return int((rows + int64(size) - 1) / int64(size))
}

// Chunk is a contiguous slice of at most size rows. Rows are pooled; the
// consumer calls Release once the chunk is no longer referenced.
type Chunk struct {
	Index int // 0-based
	Total int
	Rows  []*transformer.Row
}

func (c *Chunk) Len() int { return len(c.Rows) }

// Release returns the chunk's rows to the pool.
func (c *Chunk) Release() {
	for _, r := range c.Rows {
		r.Free()
	}
	c.Rows = nil
}

// ChunkReader produces chunks lazily, one per Next call. It cannot be rewound.
type ChunkReader struct {
	d     *Dataset
	size  int
	total int
	index int
	line  int
}

// Chunks starts the dataset's single pass. It fails for a non-positive size or
// when the dataset has already been read.
func (d *Dataset) Chunks(size int) (*ChunkReader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if d.started || d.src == nil {
		return nil, errors.New("dataset already consumed")
	}
	d.started = true
	return &ChunkReader{d: d, size: size, total: NumChunks(d.rows, size)}, nil
}

// Total is the number of chunks the reader will produce.
func (r *ChunkReader) Total() int { return r.total }

// Next returns the next chunk, or io.EOF once every row has been handed out.
func (r *ChunkReader) Next() (*Chunk, error) {
	if r.index >= r.total {
		return nil, io.EOF
	}
	want := r.size
	if remaining := r.d.rows - int64(r.index)*int64(r.size); remaining < int64(want) {
		want = int(remaining)
	}

	ncol := len(r.d.columns)
	c := &Chunk{Index: r.index, Total: r.total, Rows: make([]*transformer.Row, 0, want)}
	for len(c.Rows) < want {
		row := transformer.GetRow(ncol)
		ok, err := r.d.src.next(row.V)
		if err != nil {
			row.Drop()
			c.Release()
			return nil, fmt.Errorf("chunk %d: %w", r.index+1, err)
		}
		if !ok {
			row.Drop()
			c.Release()
			return nil, fmt.Errorf("chunk %d: source ended after %d of %d rows", r.index+1, r.line, r.d.rows)
		}
		r.line++
		row.Line = r.line
		c.Rows = append(c.Rows, row)
	}
	r.index++
	return c, nil
}
