// Package datasettest builds small source files for tests.
package datasettest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// TripColumns are the columns written by TripParquet, in file order.
var TripColumns = []string{"VendorID", "tpep_pickup_datetime", "store_and_fwd_flag", "fare_amount"}

// TripParquet returns a parquet file with rows trip records. Pickup times
// start at start and advance one minute per row; every third row has a null
// store_and_fwd_flag.
func TripParquet(tb testing.TB, rows int, start time.Time) []byte {
	tb.Helper()

	pool := memory.NewGoAllocator()
	tsType := &arrow.TimestampType{Unit: arrow.Microsecond}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: TripColumns[0], Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: TripColumns[1], Type: tsType, Nullable: true},
		{Name: TripColumns[2], Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: TripColumns[3], Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	vendor := array.NewInt64Builder(pool)
	pickup := array.NewTimestampBuilder(pool, tsType)
	flag := array.NewStringBuilder(pool)
	fare := array.NewFloat64Builder(pool)
	defer vendor.Release()
	defer pickup.Release()
	defer flag.Release()
	defer fare.Release()

	for i := 0; i < rows; i++ {
		vendor.Append(int64(i%2 + 1))
		pickup.Append(arrow.Timestamp(start.Add(time.Duration(i) * time.Minute).UnixMicro()))
		if i%3 == 2 {
			flag.AppendNull()
		} else {
			flag.Append("N")
		}
		fare.Append(float64(i) + 0.5)
	}

	cols := []arrow.Array{vendor.NewArray(), pickup.NewArray(), flag.NewArray(), fare.NewArray()}
	record := array.NewRecord(schema, cols, int64(rows))
	defer record.Release()
	for _, c := range cols {
		c.Release()
	}

	var buf bytes.Buffer
	writer, err := pqarrow.NewFileWriter(schema, &buf, nil, pqarrow.DefaultWriterProps())
	if err != nil {
		tb.Fatalf("parquet writer: %v", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		tb.Fatalf("parquet write: %v", err)
	}
	if err := writer.Close(); err != nil {
		tb.Fatalf("parquet close: %v", err)
	}
	return buf.Bytes()
}

// ZonesCSV returns a taxi zone lookup file with rows zones, prefixed with a
// UTF-8 byte order mark.
func ZonesCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("\ufeff\"LocationID\",\"Borough\",\"Zone\",\"service_zone\"\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,\"Borough %d\",\"Zone %d\",\"Boro Zone\"\n", i, i%5, i)
	}
	return []byte(b.String())
}
