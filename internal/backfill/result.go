package backfill

import "time"

// Status is a month job's state. Every state except StatusPending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSkipped   Status = "skipped"
	StatusGap       Status = "gap"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// MonthResult is the outcome of one (service, year, month) job.
type MonthResult struct {
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Status     Status `json:"status"`
	RunID      string `json:"run_id"`
	BatchRunID string `json:"batch_run_id"`

	// RowsLoaded counts committed rows. A failed month keeps the rows of the
	// chunks committed before the failure.
	RowsLoaded int64 `json:"rows_loaded"`

	// ExistingCount is the number of rows found for the period when the
	// month was skipped.
	ExistingCount int64 `json:"existing_count,omitempty"`

	Error    string   `json:"error,omitempty"`
	Category Category `json:"error_category,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	BatchRunID       string        `json:"batch_run_id"`
	Service          string        `json:"service"`
	Year             int           `json:"year"`
	BatchTimestamp   string        `json:"batch_timestamp"`
	MonthsAttempted  int           `json:"months_attempted"`
	MonthsSuccessful int           `json:"months_successful"`
	MonthsSkipped    int           `json:"months_skipped"`
	MonthsFailed     int           `json:"months_failed"`
	MonthsGap        int           `json:"months_gap"`
	TotalRowsLoaded  int64         `json:"total_rows_loaded"`
	MonthlyResults   []MonthResult `json:"monthly_results"`
}

func (s *Summary) add(r MonthResult) {
	s.MonthlyResults = append(s.MonthlyResults, r)
	switch r.Status {
	case StatusSucceeded:
		s.MonthsSuccessful++
		s.TotalRowsLoaded += r.RowsLoaded
	case StatusSkipped:
		s.MonthsSkipped++
	case StatusGap:
		s.MonthsGap++
	default:
		s.MonthsFailed++
	}
}

// CoverageRecord is one AUDIT_COVERAGE row. Year and Month are nil for
// datasets without a period dimension.
type CoverageRecord struct {
	Service      string
	Year         *int
	Month        *int
	RowCount     int64
	Gap          bool
	RegisteredAt time.Time
}
