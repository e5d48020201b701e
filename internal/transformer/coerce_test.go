package transformer

import (
	"reflect"
	"testing"
	"time"

	"backfill/internal/storage"
)

func TestCoerce(t *testing.T) {
	t.Parallel()

	pickup := time.Date(2015, 1, 15, 19, 5, 39, 0, time.UTC)
	tests := []struct {
		name    string
		in      any
		kind    storage.ColumnKind
		want    any
		wantErr bool
	}{
		{name: "nil_stays_nil", in: nil, kind: storage.KindText, want: nil},
		{name: "time_to_text", in: pickup, kind: storage.KindText, want: "2015-01-15 19:05:39"},
		{name: "int_to_text", in: int64(2), kind: storage.KindText, want: "2"},
		{name: "float_to_text", in: 1.5, kind: storage.KindText, want: "1.5"},
		{name: "bool_to_text", in: true, kind: storage.KindText, want: "true"},
		{name: "bytes_to_text", in: []byte("N"), kind: storage.KindText, want: "N"},
		{name: "string_to_int", in: " 265 ", kind: storage.KindInteger, want: int64(265)},
		{name: "empty_string_to_int", in: "", kind: storage.KindInteger, want: nil},
		{name: "integral_float_to_int", in: 7.0, kind: storage.KindInteger, want: int64(7)},
		{name: "fractional_float_to_int", in: 7.5, kind: storage.KindInteger, wantErr: true},
		{name: "garbage_to_int", in: "Unknown", kind: storage.KindInteger, wantErr: true},
		{name: "string_to_timestamp", in: "2015-01-15 19:05:39", kind: storage.KindTimestamp, want: pickup},
		{name: "rfc3339_to_timestamp", in: "2015-01-15T19:05:39Z", kind: storage.KindTimestamp, want: pickup},
		{name: "garbage_to_timestamp", in: "yesterday", kind: storage.KindTimestamp, wantErr: true},
		{name: "string_to_bool", in: "false", kind: storage.KindBoolean, want: false},
		{name: "int_to_bool", in: int64(1), kind: storage.KindBoolean, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce() err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.want.(time.Time)) {
					t.Fatalf("Coerce()=%v, want %v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("Coerce()=%#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCoerceRow(t *testing.T) {
	t.Parallel()

	r := GetRow(3)
	r.Line = 4
	r.V[0], r.V[1], r.V[2] = "12", "Manhattan", nil

	kinds := []storage.ColumnKind{storage.KindInteger, storage.KindText, storage.KindText}
	if err := CoerceRow(r, kinds); err != nil {
		t.Fatalf("CoerceRow: %v", err)
	}
	if want := []any{int64(12), "Manhattan", nil}; !reflect.DeepEqual(r.V, want) {
		t.Fatalf("CoerceRow()=%v, want %v", r.V, want)
	}

	if err := CoerceRow(r, kinds[:2]); err == nil {
		t.Fatalf("CoerceRow with misaligned kinds: expected error")
	}
}

func TestRowPool_ReusedRowsAreZeroed(t *testing.T) {
	r := GetRow(2)
	r.V[0], r.V[1] = "a", "b"
	r.Line = 9
	r.Free()

	r2 := GetRow(3)
	if len(r2.V) != 3 || r2.Line != 0 {
		t.Fatalf("GetRow()=%+v", r2)
	}
	for i, v := range r2.V {
		if v != nil {
			t.Fatalf("GetRow().V[%d]=%v, want nil", i, v)
		}
	}
}

func TestRow_DropClearsValues(t *testing.T) {
	t.Parallel()

	r := GetRow(2)
	r.V[0] = "partial"
	r.Line = 4
	r.Drop()
	if r.V != nil || r.Line != 0 {
		t.Fatalf("Drop() left %+v, want zero row", r)
	}
}
