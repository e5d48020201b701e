// Package prompush is the Prometheus Pushgateway backend for internal/metrics.
// Batch jobs exit before a scraper would see them, so collected series are
// pushed to the gateway on Flush, grouped under the job name.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"backfill/internal/metrics"
)

// labelNames fixes the label set of every known metric. Observations of
// other metrics are dropped.
var labelNames = map[string][]string{
	metrics.StepTotal:                  {"step", "status"},
	metrics.StepDurationSeconds:        {"step", "status"},
	metrics.RecordsTotal:               {"kind"},
	metrics.BatchesTotal:               nil,
	metrics.MonthsTotal:                {"status"},
	metrics.HTTPRequestsTotal:          {"status"},
	metrics.HTTPErrorsTotal:            {"status"},
	metrics.HTTPRequestDurationSeconds: {"status"},
	metrics.HTTPDownloadBytes:          {"status"},
}

var help = map[string]string{
	metrics.StepTotal:                  "Pipeline step executions by outcome.",
	metrics.StepDurationSeconds:        "Pipeline step duration.",
	metrics.RecordsTotal:               "Rows committed to the warehouse.",
	metrics.BatchesTotal:               "Chunks committed to the warehouse.",
	metrics.MonthsTotal:                "Months processed by terminal status.",
	metrics.HTTPRequestsTotal:          "Source file requests by status.",
	metrics.HTTPErrorsTotal:            "Failed source file requests by status.",
	metrics.HTTPRequestDurationSeconds: "Source file request duration.",
	metrics.HTTPDownloadBytes:          "Source file size.",
}

// Backend implements metrics.Backend on a private registry.
type Backend struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	pusher     *push.Pusher
}

// NewBackend registers the backfill metrics and targets the gateway at url.
func NewBackend(job, url string) (*Backend, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("prompush: pushgateway url is required")
	}
	if job == "" {
		job = "backfill"
	}
	b := &Backend{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for name, labels := range labelNames {
		var c prometheus.Collector
		if isHistogram(name) {
			buckets := prometheus.ExponentialBuckets(0.005, 4, 10)
			if name == metrics.HTTPDownloadBytes {
				buckets = prometheus.ExponentialBuckets(1<<10, 4, 12)
			}
			h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help[name], Buckets: buckets}, labels)
			b.histograms[name] = h
			c = h
		} else {
			cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help[name]}, labels)
			b.counters[name] = cv
			c = cv
		}
		if err := b.registry.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	b.pusher = push.New(url, job).Gatherer(b.registry)
	return b, nil
}

func isHistogram(name string) bool {
	return name == metrics.StepDurationSeconds ||
		name == metrics.HTTPRequestDurationSeconds ||
		name == metrics.HTTPDownloadBytes
}

// values orders labels by the metric's label names; missing ones are "".
func values(name string, labels metrics.Labels) []string {
	names := labelNames[name]
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
	}
	return out
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	c.WithLabelValues(values(name, labels)...).Add(delta)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	h, ok := b.histograms[name]
	if !ok {
		return
	}
	h.WithLabelValues(values(name, labels)...).Observe(value)
}

// Flush pushes every series, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Close pushes one last time.
func (b *Backend) Close() error { return b.Flush() }

var _ metrics.Backend = (*Backend)(nil)
