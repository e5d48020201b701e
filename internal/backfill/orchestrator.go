// Package backfill loads monthly source files into a warehouse, one period at
// a time: skip or clear the period, fetch and decode the file, create the
// table when missing, commit the rows chunk by chunk and record coverage.
package backfill

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backfill/internal/dataset"
	"backfill/internal/metrics"
	"backfill/internal/retry"
	"backfill/internal/source"
	"backfill/internal/storage"
	"backfill/internal/transformer"
)

// Fetcher downloads and decodes one source file. *source.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, loc source.Location, spec source.Spec) (*dataset.Dataset, error)
}

// Orchestrator runs backfill batches against one warehouse.
type Orchestrator struct {
	wh       storage.Warehouse
	fetcher  Fetcher
	catalog  source.Catalog
	database string
	schema   string

	policy    retry.Policy
	retryOpts []retry.Option

	log     *zap.Logger
	metrics metrics.Backend
	now     func() time.Time
	newID   func() string
	reclaim func()
}

type Option func(*Orchestrator)

func WithFetcher(f Fetcher) Option          { return func(o *Orchestrator) { o.fetcher = f } }
func WithCatalog(c source.Catalog) Option   { return func(o *Orchestrator) { o.catalog = c } }
func WithMetrics(m metrics.Backend) Option  { return func(o *Orchestrator) { o.metrics = metrics.OrNop(m) } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithTarget sets the database and schema destination tables live in.
func WithTarget(database, schema string) Option {
	return func(o *Orchestrator) { o.database, o.schema = database, schema }
}

// WithRetryPolicy sets the base delay and multiplier. The attempt count
// always comes from Params.MaxRetries.
func WithRetryPolicy(p retry.Policy) Option { return func(o *Orchestrator) { o.policy = p } }

// WithRetryOptions passes options (timer, notify hook) to every retried step.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *Orchestrator) { o.retryOpts = append(o.retryOpts, opts...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithReclaim replaces the memory reclaim hint issued after each month and
// every few chunks.
func WithReclaim(fn func()) Option { return func(o *Orchestrator) { o.reclaim = fn } }

func New(wh storage.Warehouse, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		wh:      wh,
		catalog: source.DefaultCatalog(),
		policy:  retry.DefaultPolicy(),
		log:     zap.NewNop(),
		metrics: metrics.Nop{},
		now:     time.Now,
		newID:   uuid.NewString,
		reclaim: debug.FreeOSMemory,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fetcher == nil {
		o.fetcher = source.NewFetcher(source.WithLogger(o.log), source.WithMetrics(o.metrics))
	}
	return o
}

func retryOptions(log *zap.Logger, opts []retry.Option) []retry.Option {
	out := make([]retry.Option, 0, len(opts)+1)
	out = append(out, retry.WithLogger(log))
	return append(out, opts...)
}

// run carries the collaborators shared by every month of one batch.
type run struct {
	resolved
	batchID string
	policy  retry.Policy

	schema  *SchemaManager
	recon   *Reconciler
	loader  *Loader
	auditor *Auditor
}

// Run processes every requested month in order and returns the batch summary.
// It returns an error only when p is invalid, before any month starts; month
// failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, p Params) (*Summary, error) {
	res, err := p.resolve(o.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	policy := o.policy.WithMaxAttempts(res.maxRetries)
	r := &run{
		resolved: res,
		batchID:  o.newID(),
		policy:   policy,
		schema:   NewSchemaManager(policy, o.log, o.retryOpts...),
		recon:    NewReconciler(policy, o.log, o.retryOpts...),
		loader:   NewLoader(policy, o.log, o.metrics, o.retryOpts...),
		auditor:  NewAuditor(o.log, o.now),
	}
	r.loader.reclaim = o.reclaim

	s := &Summary{
		BatchRunID:      r.batchID,
		Service:         r.service,
		Year:            r.year,
		BatchTimestamp:  r.batchLabel,
		MonthsAttempted: len(r.months),
	}
	o.log.Info("backfill started",
		zap.String("batch_run_id", r.batchID),
		zap.String("service", r.service),
		zap.Int("year", r.year),
		zap.Ints("months", r.months),
		zap.Int("chunk_size", r.chunkSize),
		zap.Int("max_retries", r.maxRetries),
		zap.Bool("force_reload", r.forceReload))

	for _, month := range r.months {
		mr := o.runMonth(ctx, r, month)
		s.add(mr)
		ReportProgress(ctx, Progress{Month: month, RowsLoaded: mr.RowsLoaded, Result: &mr})
		metrics.CountMonth(o.metrics, string(mr.Status))
		o.reclaim()
	}

	o.log.Info("backfill finished",
		zap.String("batch_run_id", r.batchID),
		zap.Int("successful", s.MonthsSuccessful),
		zap.Int("skipped", s.MonthsSkipped),
		zap.Int("gap", s.MonthsGap),
		zap.Int("failed", s.MonthsFailed),
		zap.Int64("total_rows", s.TotalRowsLoaded))
	return s, nil
}

func (o *Orchestrator) table(service string) storage.TableRef {
	return storage.TableRef{Database: o.database, Schema: o.schema, Name: TableName(service)}
}

// runMonth drives one month from pending to a terminal state. It never
// returns an error; failures are captured in the result.
func (o *Orchestrator) runMonth(ctx context.Context, r *run, month int) (res MonthResult) {
	res = MonthResult{
		Year:       r.year,
		Month:      month,
		Status:     StatusPending,
		RunID:      o.newID(),
		BatchRunID: r.batchID,
	}
	period := storage.Period{Year: r.year, Month: month}
	spec := o.catalog.Spec(r.service)
	dest := o.table(r.service)

	var pp *storage.Period
	if !spec.Reference {
		pp = &period
	}

	log := o.log.With(
		zap.String("service", r.service),
		zap.String("period", period.String()),
		zap.String("run_id", res.RunID))

	fail := func(err error) MonthResult {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Category = Classify(err)
		log.Error("month failed",
			zap.String("category", string(res.Category)),
			zap.Int64("rows_loaded", res.RowsLoaded),
			zap.Error(err))
		return res
	}

	var sess storage.Session
	err := retry.Do(ctx, r.policy, "connect", func(ctx context.Context) error {
		s, err := o.wh.Connect(ctx)
		sess = s
		return err
	}, retryOptions(log, o.retryOpts)...)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("close session", zap.Error(cerr))
		}
	}()

	if !spec.Reference && !r.forceReload {
		existing, present, err := r.recon.ExistingRows(ctx, sess, dest, period)
		if err != nil {
			return fail(err)
		}
		if Decide(existing, present, r.forceReload) == Skip {
			res.Status = StatusSkipped
			res.ExistingCount = existing
			log.Info("month skipped", zap.Int64("existing_rows", existing))
			return res
		}
	}

	loc := o.catalog.ResolveURL(r.service, period)
	var d *dataset.Dataset
	start := time.Now()
	err = retry.Do(ctx, r.policy, "fetch "+loc.File, func(ctx context.Context) error {
		ds, err := o.fetcher.Fetch(ctx, loc, spec)
		d = ds
		return err
	}, retryOptions(log, o.retryOpts)...)
	metrics.ObserveStep(o.metrics, "fetch", start, err)
	if err != nil {
		if ctx.Err() != nil {
			return fail(err)
		}
		gap := fmt.Errorf("%w: %s: %w", ErrPermanentGap, loc.File, err)
		res.Status = StatusGap
		res.Error = gap.Error()
		res.Category = CategoryPermanentGap
		log.Warn("month gap", zap.Bool("not_found", source.IsNotFound(err)), zap.Error(err))
		r.auditor.Log(r.auditor.RecordGap(ctx, sess, dest, r.service, pp))
		return res
	}
	defer d.Release()

	inferred, err := r.schema.Infer(spec, d)
	if err != nil {
		return fail(err)
	}
	start = time.Now()
	tableCols, err := r.schema.EnsureTable(ctx, sess, dest, inferred)
	metrics.ObserveStep(o.metrics, "ddl", start, err)
	if err != nil {
		return fail(err)
	}

	start = time.Now()
	_, err = r.recon.ClearPeriod(ctx, sess, dest, pp)
	metrics.ObserveStep(o.metrics, "clear", start, err)
	if err != nil {
		return fail(err)
	}

	meta := transformer.Meta{
		RunID:      res.RunID,
		BatchRunID: r.batchID,
		IngestTS:   r.ingestTS,
		SourceFile: loc.File,
		Service:    r.service,
		Period:     pp,
	}
	chunks, err := d.Chunks(r.chunkSize)
	if err != nil {
		return fail(err)
	}
	cols := ChunkColumns(d.Columns(), inferred, meta)

	loaded, err := r.loader.Load(ctx, sess, dest, tableCols, cols, chunks, meta)
	res.RowsLoaded = loaded
	if err != nil {
		return fail(err)
	}

	res.Status = StatusSucceeded
	log.Info("month loaded", zap.Int64("rows", loaded))

	start = time.Now()
	outcome := r.auditor.RecordCoverage(ctx, sess, dest, r.service, pp)
	metrics.ObserveStep(o.metrics, "audit", start, outcome.Err)
	r.auditor.Log(outcome)
	return res
}
