package dataset

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// recordBatchRows bounds how many rows the table reader slices per record.
const recordBatchRows = 64 * 1024

// DecodeParquet decodes a whole parquet file into an Arrow table.
func DecodeParquet(ctx context.Context, body []byte) (*Dataset, error) {
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(body), parquet.NewReaderProperties(nil),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("decode parquet: %w", err)
	}

	fields := tbl.Schema().Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return &Dataset{
		format:  FormatParquet,
		columns: cols,
		rows:    tbl.NumRows(),
		src:     &parquetSource{tbl: tbl, tr: array.NewTableReader(tbl, recordBatchRows)},
	}, nil
}

type parquetSource struct {
	tbl arrow.Table
	tr  *array.TableReader

	rec arrow.Record
	pos int
}

func (s *parquetSource) next(dst []any) (bool, error) {
	for s.rec == nil || s.pos >= int(s.rec.NumRows()) {
		if !s.tr.Next() {
			return false, s.tr.Err()
		}
		// the reader owns the record until the next call to Next
		s.rec = s.tr.Record()
		s.pos = 0
	}
	for j := range dst {
		dst[j] = arrowValue(s.rec.Column(j), s.pos)
	}
	s.pos++
	return true, nil
}

func (s *parquetSource) release() {
	s.rec = nil
	s.tr.Release()
	s.tbl.Release()
}

// arrowValue extracts row i of arr as a plain Go value. Timestamps become
// time.Time in UTC; types without a dedicated case use their string form.
func arrowValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return a.Value(i).ToTime().UTC()
	default:
		return arr.ValueStr(i)
	}
}
