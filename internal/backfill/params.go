package backfill

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultService    = "yellow"
	DefaultYear       = 2015
	DefaultChunkSize  = 1_000_000
	DefaultMaxRetries = 3
)

// Params is the invocation contract of a backfill run. Zero values take the
// defaults above.
type Params struct {
	Service string `json:"service"`
	Year    int    `json:"year"`

	// Months is nil (all twelve), an int, a comma separated string
	// optionally wrapped in brackets ("1,2" or "[1,2]"), or a slice of
	// numbers ([]int, []string, []any).
	Months any `json:"months,omitempty"`

	ChunkSize   int  `json:"chunk_size"`
	ForceReload bool `json:"force_reload"`
	MaxRetries  int  `json:"max_retries"`

	// ExecutionDate, when set, becomes the batch timestamp. It may be a
	// time.Time, *time.Time or string.
	ExecutionDate any `json:"execution_date,omitempty"`
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		Service:    DefaultService,
		Year:       DefaultYear,
		ChunkSize:  DefaultChunkSize,
		MaxRetries: DefaultMaxRetries,
	}
}

// resolved is Params after defaulting and validation.
type resolved struct {
	service     string
	year        int
	months      []int
	chunkSize   int
	forceReload bool
	maxRetries  int
	batchLabel  string
	ingestTS    time.Time
}

func (p Params) resolve(now time.Time) (resolved, error) {
	r := resolved{
		service:     strings.TrimSpace(p.Service),
		year:        p.Year,
		chunkSize:   p.ChunkSize,
		forceReload: p.ForceReload,
		maxRetries:  p.MaxRetries,
	}
	if r.service == "" {
		r.service = DefaultService
	}
	if r.year == 0 {
		r.year = DefaultYear
	}
	if r.chunkSize == 0 {
		r.chunkSize = DefaultChunkSize
	}
	if r.maxRetries == 0 {
		r.maxRetries = DefaultMaxRetries
	}
	if r.year < 1 {
		return r, fmt.Errorf("invalid year %d", r.year)
	}
	if r.chunkSize < 0 {
		return r, fmt.Errorf("chunk_size must be positive, got %d", r.chunkSize)
	}
	if r.maxRetries < 0 {
		return r, fmt.Errorf("max_retries must be positive, got %d", r.maxRetries)
	}

	months, err := ParseMonths(p.Months)
	if err != nil {
		return r, err
	}
	r.months = months

	r.batchLabel, r.ingestTS, err = ParseExecutionDate(p.ExecutionDate, now)
	if err != nil {
		return r, err
	}
	return r, nil
}

// AllMonths returns 1..12.
func AllMonths() []int {
	out := make([]int, 12)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// ParseMonths normalizes the accepted month encodings into a deduplicated
// list that keeps the order months were given in. nil and empty inputs mean
// every month.
func ParseMonths(v any) ([]int, error) {
	var raw []int
	switch x := v.(type) {
	case nil:
		return AllMonths(), nil
	case int:
		raw = []int{x}
	case int64:
		raw = []int{int(x)}
	case float64:
		n, err := intFromFloat(x)
		if err != nil {
			return nil, err
		}
		raw = []int{n}
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
		if s == "" {
			return AllMonths(), nil
		}
		for _, part := range strings.Split(s, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid month %q", part)
			}
			raw = append(raw, n)
		}
	case []int:
		raw = append(raw, x...)
	case []string:
		for _, part := range x {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("invalid month %q", part)
			}
			raw = append(raw, n)
		}
	case []any:
		for _, item := range x {
			switch item.(type) {
			case int, int64, float64, string:
			default:
				return nil, fmt.Errorf("invalid month %v (%T)", item, item)
			}
			one, err := ParseMonths(item)
			if err != nil {
				return nil, err
			}
			raw = append(raw, one...)
		}
	default:
		return nil, fmt.Errorf("unsupported months type %T", v)
	}
	if len(raw) == 0 {
		return AllMonths(), nil
	}

	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, len(raw))
	for _, m := range raw {
		if m < 1 || m > 12 {
			return nil, fmt.Errorf("month %d out of range 1-12", m)
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

func intFromFloat(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("invalid month %v", f)
	}
	return int(f), nil
}

var executionDateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseExecutionDate returns the batch timestamp label and the ingest
// timestamp stamped on rows. A time is formatted as "2006-01-02 15:04:05".
// A string is kept verbatim as the label; when it parses, it also becomes the
// ingest timestamp, otherwise now is used. nil means now.
func ParseExecutionDate(v any, now time.Time) (string, time.Time, error) {
	switch x := v.(type) {
	case nil:
		return now.Format(batchTimestampLayout), now, nil
	case time.Time:
		return x.Format(batchTimestampLayout), x, nil
	case *time.Time:
		if x == nil {
			return now.Format(batchTimestampLayout), now, nil
		}
		return x.Format(batchTimestampLayout), *x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return now.Format(batchTimestampLayout), now, nil
		}
		for _, layout := range executionDateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return s, t, nil
			}
		}
		return s, now, nil
	default:
		return "", time.Time{}, fmt.Errorf("unsupported execution_date type %T", v)
	}
}

const batchTimestampLayout = "2006-01-02 15:04:05"
