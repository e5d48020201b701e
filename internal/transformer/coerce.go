package transformer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"backfill/internal/storage"
)

// TimestampLayout is the textual form every temporal source value is written
// as before it reaches a text column.
const TimestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Coerce converts a decoded source value to the Go type the warehouse column
// of kind k expects. nil stays nil; empty strings become nil for non-text kinds.
//
// Text columns receive temporal values as TimestampLayout and everything else
// in its canonical string form.
func Coerce(v any, k storage.ColumnKind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case storage.KindText:
		return toText(v), nil
	case storage.KindInteger:
		return toInteger(v)
	case storage.KindTimestamp:
		return toTimestamp(v)
	case storage.KindBoolean:
		return toBoolean(v)
	default:
		return nil, fmt.Errorf("unknown column kind %s", k)
	}
}

// CoerceRow coerces r.V in place. kinds must be aligned with r.V.
func CoerceRow(r *Row, kinds []storage.ColumnKind) error {
	if len(r.V) != len(kinds) {
		return fmt.Errorf("row %d: %d values for %d columns", r.Line, len(r.V), len(kinds))
	}
	for i, k := range kinds {
		v, err := Coerce(r.V[i], k)
		if err != nil {
			return fmt.Errorf("row %d column %d: %w", r.Line, i, err)
		}
		r.V[i] = v
	}
	return nil
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(TimestampLayout)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", x)
	case uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInteger(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("cannot coerce %v to %s", x, storage.KindInteger)
		}
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to %s", x, storage.KindInteger)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to %s", v, storage.KindInteger)
	}
}

func toTimestamp(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot coerce %q to %s", x, storage.KindTimestamp)
	default:
		return nil, fmt.Errorf("cannot coerce %T to %s", v, storage.KindTimestamp)
	}
}

func toBoolean(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to %s", x, storage.KindBoolean)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to %s", v, storage.KindBoolean)
	}
}
