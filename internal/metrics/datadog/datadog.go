// Package datadog is the Datadog backend for internal/metrics.
//
// Metrics are buffered in memory and submitted on a ticker (once a minute by
// default) and one final time on Close, so a multi-hour backfill shows up as a
// time series instead of a single point at exit. Counters are submitted as
// COUNT series; histograms as p50/p90/p95/p99/max/samples gauges.
//
// IncCounter and ObserveHistogram only take a mutex. Flush swaps the buffers
// under the lock and submits outside it. If the process dies without Close,
// the current window is lost.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"backfill/internal/metrics"
)

const (
	DefaultJobName    = "backfill"
	DefaultNamespace  = "backfill"
	DefaultFlushEvery = 60 * time.Second
)

// seriesNames maps the backend-neutral metric names onto Datadog series
// names, relative to the namespace. Unlisted metrics are dropped.
var seriesNames = map[string]string{
	metrics.StepTotal:                  "step.total",
	metrics.StepDurationSeconds:        "step.duration_seconds",
	metrics.RecordsTotal:               "records.total",
	metrics.BatchesTotal:               "batches.total",
	metrics.MonthsTotal:                "months.total",
	metrics.HTTPRequestsTotal:          "http.requests.total",
	metrics.HTTPErrorsTotal:            "http.errors.total",
	metrics.HTTPRequestDurationSeconds: "http.request_duration_seconds",
	metrics.HTTPDownloadBytes:          "http.download_bytes",
}

// Options controls the backend.
type Options struct {
	// JobName becomes the "job:<name>" tag. Defaults to DefaultJobName.
	JobName string

	// Namespace prefixes every series name. Defaults to DefaultNamespace.
	Namespace string

	// Tags are extra tags such as "team:data".
	Tags []string

	// FlushEvery is the submission period. Defaults to DefaultFlushEvery.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one buffered series: a metric and its sorted tags.
type seriesKey struct {
	metric string
	tags   string
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api       metricsSubmitter
	ctx       context.Context
	namespace string
	baseTags  []string

	flushEvery time.Duration
	now        func() time.Time
	newTicker  func(d time.Duration) *time.Ticker
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	mu       sync.Mutex
	counters map[seriesKey]float64
	samples  map[seriesKey][]float64
}

// NewBackend starts a backend with its flush loop. The Datadog client reads
// DD_API_KEY and DD_SITE from the environment; network errors surface from
// Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = DefaultJobName
	}
	ns := strings.Trim(opts.Namespace, ".")
	if ns == "" {
		ns = DefaultNamespace
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	b := &Backend{
		api:        opts.submitter,
		ctx:        dd.NewDefaultContext(parent),
		namespace:  ns,
		baseTags:   baseTags,
		flushEvery: flushEvery,
		now:        opts.now,
		newTicker:  opts.newTicker,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		counters:   make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}

	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits what is left. Later calls only
// flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func (b *Backend) key(name string, labels metrics.Labels) (seriesKey, bool) {
	suffix, ok := seriesNames[name]
	if !ok {
		return seriesKey{}, false
	}
	return seriesKey{metric: b.namespace + "." + suffix, tags: labelTags(labels)}, true
}

// labelTags renders labels as sorted "k:v" tags joined by commas. Empty
// values become "unknown".
func labelTags(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}

// IncCounter implements metrics.Backend. Non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k, ok := b.key(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k, ok := b.key(name, labels)
	if !ok {
		return
	}
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

func (b *Backend) swap() (map[seriesKey]float64, map[seriesKey][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, s := b.counters, b.samples
	b.counters = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return c, s
}

// Flush submits the buffered window. Buffers are reset even when the
// submission fails. It returns nil without calling Datadog when there is
// nothing buffered.
func (b *Backend) Flush() error {
	counters, samples := b.swap()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(counters, samples, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is deterministic: series are ordered by metric then tags.
func (b *Backend) buildSeries(counters map[seriesKey]float64, samples map[seriesKey][]float64, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for _, k := range sortedKeys(counters) {
		series = append(series, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, counters[k], b.tags(k), nowUnix))
	}
	for _, k := range sortedKeys(samples) {
		vals := samples[k]
		if len(vals) == 0 {
			continue
		}
		cp := append([]float64(nil), vals...)
		sort.Float64s(cp)
		tags := b.tags(k)
		for _, q := range []struct {
			suffix string
			v      float64
		}{
			{".p50", percentileNearestRank(cp, 0.50)},
			{".p90", percentileNearestRank(cp, 0.90)},
			{".p95", percentileNearestRank(cp, 0.95)},
			{".p99", percentileNearestRank(cp, 0.99)},
			{".max", cp[len(cp)-1]},
			{".samples", float64(len(cp))},
		} {
			series = append(series, point(k.metric+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, q.v, tags, nowUnix))
		}
	}
	return series
}

func (b *Backend) tags(k seriesKey) []string {
	if k.tags == "" {
		return withTags(b.baseTags)
	}
	return withTags(b.baseTags, strings.Split(k.tags, ",")...)
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses "env:prod, team:data" into tags, dropping blanks.
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
