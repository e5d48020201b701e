// Package metrics is the backend-neutral metrics surface used by the backfill
// core. Concrete backends (Pushgateway, Datadog) live in subpackages; the core
// only sees Backend.
package metrics

import (
	"strconv"
	"time"
)

// Metric names. Backends map them onto their own naming scheme.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	BatchesTotal        = "etl_batches_total"
	MonthsTotal         = "etl_months_total"

	HTTPRequestsTotal          = "etl_http_requests_total"
	HTTPErrorsTotal            = "etl_http_errors_total"
	HTTPRequestDurationSeconds = "etl_http_request_duration_seconds"
	HTTPDownloadBytes          = "etl_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use and must not block the caller on network I/O.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

// OrNop returns b, or Nop when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveStep records one execution of a pipeline step (fetch, ddl, clear,
// chunk, audit) that started at start and finished with err.
func ObserveStep(b Backend, step string, start time.Time, err error) {
	l := Labels{"step": step, "status": status(err)}
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// ObserveHTTP records one HTTP exchange. code is 0 when no response arrived.
func ObserveHTTP(b Backend, code int, d time.Duration, bytes int64) {
	st := "error"
	if code > 0 {
		st = strconv.Itoa(code)
	}
	l := Labels{"status": st}
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if code < 200 || code > 299 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDurationSeconds, d.Seconds(), l)
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}

// CountMonth records a month's terminal status.
func CountMonth(b Backend, status string) {
	b.IncCounter(MonthsTotal, 1, Labels{"status": status})
}
