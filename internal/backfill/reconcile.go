package backfill

import (
	"context"

	"go.uber.org/zap"

	"backfill/internal/retry"
	"backfill/internal/storage"
)

// Decision is the reconciler's verdict for a period.
type Decision int

const (
	Proceed Decision = iota
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "proceed"
}

// Decide skips a period that already has rows unless a reload is forced.
func Decide(existing int64, present, force bool) Decision {
	if present && existing > 0 && !force {
		return Skip
	}
	return Proceed
}

// Reconciler checks and clears the rows of a period before it is reloaded.
type Reconciler struct {
	policy    retry.Policy
	retryOpts []retry.Option
	log       *zap.Logger
}

func NewReconciler(policy retry.Policy, log *zap.Logger, opts ...retry.Option) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{policy: policy, retryOpts: retryOptions(log, opts), log: log}
}

// ExistingRows counts the period's rows. A missing table reports
// (0, false, nil).
func (r *Reconciler) ExistingRows(ctx context.Context, sess storage.Session, t storage.TableRef, p storage.Period) (count int64, present bool, err error) {
	err = retry.Do(ctx, r.policy, "count "+t.String(), func(ctx context.Context) error {
		exists, err := sess.TableExists(ctx, t)
		if err != nil {
			return err
		}
		if !exists {
			count, present = 0, false
			return nil
		}
		n, err := sess.CountRows(ctx, t, periodFilters(p)...)
		if err != nil {
			return err
		}
		count, present = n, true
		return nil
	}, r.retryOpts...)
	return count, present, err
}

// ClearPeriod removes the rows a reload replaces: the period's rows when p is
// set, every row otherwise. The period is recounted first and the DELETE is
// skipped when it is already empty. It returns the number of rows removed
// (-1 when the backend cannot tell, as for TRUNCATE).
//
// Nothing spans the clear and the chunk inserts that follow: a failure later
// in the month leaves only the chunks committed so far.
func (r *Reconciler) ClearPeriod(ctx context.Context, sess storage.Session, t storage.TableRef, p *storage.Period) (int64, error) {
	if p == nil {
		err := retry.Do(ctx, r.policy, "truncate "+t.String(), func(ctx context.Context) error {
			return sess.TruncateTable(ctx, t)
		}, r.retryOpts...)
		if err != nil {
			return 0, err
		}
		r.log.Info("table truncated", zap.String("table", t.String()))
		return -1, nil
	}

	existing, present, err := r.ExistingRows(ctx, sess, t, *p)
	if err != nil {
		return 0, err
	}
	if !present || existing == 0 {
		return 0, nil
	}

	r.log.Info("deleting existing rows",
		zap.String("table", t.String()),
		zap.String("period", p.String()),
		zap.Int64("rows", existing))

	var deleted int64
	err = retry.Do(ctx, r.policy, "delete "+t.String(), func(ctx context.Context) error {
		n, err := sess.DeleteRows(ctx, t, periodFilters(*p)...)
		deleted = n
		return err
	}, r.retryOpts...)
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
