package backfill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"backfill/internal/storage"
)

// AuditOutcome is the result of recording a coverage fact. Recording is best
// effort: callers log a failed outcome and carry on.
type AuditOutcome struct {
	Record CoverageRecord
	Err    error
}

func (o AuditOutcome) OK() bool { return o.Err == nil }

// Auditor appends coverage facts to AUDIT_COVERAGE, next to the destination
// table.
type Auditor struct {
	now func() time.Time
	log *zap.Logger
}

func NewAuditor(log *zap.Logger, now func() time.Time) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Auditor{now: now, log: log}
}

// RecordCoverage counts the loaded rows of the period in dest (every row when
// p is nil) and appends a gap=false fact with that count.
func (a *Auditor) RecordCoverage(ctx context.Context, sess storage.Session, dest storage.TableRef, service string, p *storage.Period) AuditOutcome {
	rec := a.newRecord(service, p)
	var filters []storage.Eq
	if p != nil {
		filters = periodFilters(*p)
	}
	n, err := sess.CountRows(ctx, dest, filters...)
	if err != nil {
		return AuditOutcome{Record: rec, Err: fmt.Errorf("count %s: %w", dest, err)}
	}
	rec.RowCount = n
	return AuditOutcome{Record: rec, Err: a.write(ctx, sess, dest.Sibling(AuditTableName), rec)}
}

// RecordGap appends a gap=true fact with a zero row count.
func (a *Auditor) RecordGap(ctx context.Context, sess storage.Session, dest storage.TableRef, service string, p *storage.Period) AuditOutcome {
	rec := a.newRecord(service, p)
	rec.Gap = true
	return AuditOutcome{Record: rec, Err: a.write(ctx, sess, dest.Sibling(AuditTableName), rec)}
}

// Log reports a failed outcome at warn level.
func (a *Auditor) Log(o AuditOutcome) {
	if o.OK() {
		return
	}
	a.log.Warn("coverage record not written",
		zap.String("service", o.Record.Service),
		zap.Bool("gap", o.Record.Gap),
		zap.Error(o.Err))
}

func (a *Auditor) newRecord(service string, p *storage.Period) CoverageRecord {
	rec := CoverageRecord{Service: service, RegisteredAt: a.now().UTC()}
	if p != nil {
		y, m := p.Year, p.Month
		rec.Year, rec.Month = &y, &m
	}
	return rec
}

func (a *Auditor) write(ctx context.Context, sess storage.Session, audit storage.TableRef, rec CoverageRecord) error {
	exists, err := sess.TableExists(ctx, audit)
	if err != nil {
		return err
	}
	if !exists {
		if err := sess.CreateTable(ctx, audit, coverageColumns); err != nil {
			return err
		}
	}
	tableCols, err := sess.TableColumns(ctx, audit)
	if err != nil {
		return err
	}
	names, err := MatchColumns(audit, tableCols, coverageColumns)
	if err != nil {
		return err
	}

	var year, month any
	if rec.Year != nil {
		year, month = int64(*rec.Year), int64(*rec.Month)
	}
	row := []any{rec.Service, year, month, rec.RowCount, rec.Gap, rec.RegisteredAt}
	_, err = sess.BulkWrite(ctx, audit, names, [][]any{row})
	return err
}
