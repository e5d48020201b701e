// Package retry runs fallible operations with a fixed exponential backoff.
//
// The executor is semantics-free: it sees only "succeeded" or "returned an
// error". Callers decide what an operation means (HTTP fetch, DDL, DML) and
// whether an error is worth retrying by wrapping it with Permanent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 5 * time.Second
	DefaultMultiplier  = 2.0
)

// Policy describes how often and how patiently an operation is retried.
//
// Waits grow as Delay * Multiplier^n for the n-th retry (n starting at 0), so
// the defaults wait 5s and then 10s across three attempts. There is no jitter
// and no wait after the final attempt.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	Multiplier  float64       `json:"multiplier"`
}

// DefaultPolicy returns the 3 attempts / 5s / x2 policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// WithMaxAttempts returns a copy of p with MaxAttempts replaced when n > 0.
func (p Policy) WithMaxAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Schedule lists the waits Do performs between attempts when every attempt
// fails. It has MaxAttempts-1 entries.
func (p Policy) Schedule() []time.Duration {
	p = p.normalized()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for n := 0; n < p.MaxAttempts-1; n++ {
		out = append(out, time.Duration(float64(p.Delay)*math.Pow(p.Multiplier, float64(n))))
	}
	return out
}

// newBackOff maps the policy onto backoff's exponential implementation.
func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()
	if p.MaxAttempts == 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Duration(math.MaxInt64)
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// RetriedOperationFailed is returned when every attempt of an operation failed.
// It wraps the last underlying error.
type RetriedOperationFailed struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetriedOperationFailed) Error() string {
	return fmt.Sprintf("%s: failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *RetriedOperationFailed) Unwrap() error { return e.Err }

// IsRetriedOperationFailed reports whether err (or anything it wraps) is a
// *RetriedOperationFailed.
func IsRetriedOperationFailed(err error) bool {
	var rf *RetriedOperationFailed
	return errors.As(err, &rf)
}

// Permanent marks err as not worth retrying. Do returns it (unwrapped) after
// the attempt that produced it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Option customizes a single Do call.
type Option func(*options)

type options struct {
	logger *zap.Logger
	timer  backoff.Timer
	notify func(attempt int, err error, wait time.Duration)
}

// WithLogger logs every failed attempt that will be retried.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotify registers a callback invoked before each wait.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// Do executes fn until it succeeds, returns a Permanent error, the context is
// done, or the policy's attempts are exhausted.
//
// Errors:
//   - nil on success.
//   - The unwrapped error passed to Permanent, unchanged.
//   - *RetriedOperationFailed wrapping the last error on exhaustion.
//   - A wrapped ctx.Err() if the context ends while waiting.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = zap.NewNop()
	}

	attempts := 0
	var last error
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err != nil {
			last = err
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("retrying operation",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if o.notify != nil {
			o.notify(attempts, err, wait)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, p.newBackOff(ctx), notify, o.timer)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(last, &perm) {
		return perm.Err
	}
	if cerr := ctx.Err(); cerr != nil {
		if last == nil {
			return fmt.Errorf("%s: %w", op, cerr)
		}
		return fmt.Errorf("%s: %w (last error: %v)", op, cerr, last)
	}
	if last == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &RetriedOperationFailed{Op: op, Attempts: attempts, Err: last}
}
