// Package worker exposes the backfill to Temporal: one activity running a
// whole batch and a workflow that schedules it.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"backfill/internal/backfill"
)

const (
	ActivityName = "RunBackfill"
	WorkflowName = "BackfillWorkflow"

	// ErrTypeInvalidParams is the application error type for rejected input.
	// The workflow does not retry it.
	ErrTypeInvalidParams = "InvalidParams"
)

// Input is the workflow and activity argument. Zero fields fall back to the
// worker's configured defaults.
type Input struct {
	Service string `json:"service,omitempty"`
	Year    int    `json:"year,omitempty"`

	// Months accepts the same encodings as the CLI: "1,2", "[6]", 3 or [1,2].
	Months any `json:"months,omitempty"`

	ChunkSize     int    `json:"chunk_size,omitempty"`
	MaxRetries    int    `json:"max_retries,omitempty"`
	ForceReload   bool   `json:"force_reload,omitempty"`
	ExecutionDate string `json:"execution_date,omitempty"`
}

// Params converts the input for the orchestrator.
func (in Input) Params() backfill.Params {
	p := backfill.Params{
		Service:     in.Service,
		Year:        in.Year,
		Months:      in.Months,
		ChunkSize:   in.ChunkSize,
		MaxRetries:  in.MaxRetries,
		ForceReload: in.ForceReload,
	}
	if in.ExecutionDate != "" {
		p.ExecutionDate = in.ExecutionDate
	}
	return p
}

// Runner runs one batch. *app.App implements it.
type Runner interface {
	Run(ctx context.Context, p backfill.Params) (*backfill.Summary, error)
}

// DefaultHeartbeatEvery is how often RunBackfill heartbeats while a month is
// in progress. It must stay well below the workflow's heartbeat timeout.
const DefaultHeartbeatEvery = 30 * time.Second

type Activities struct {
	runner         Runner
	heartbeatEvery time.Duration
}

func NewActivities(r Runner) *Activities {
	return &Activities{runner: r, heartbeatEvery: DefaultHeartbeatEvery}
}

// heartbeater records the latest progress as heartbeat details, on every
// report and on a ticker so long downloads and chunk commits stay alive.
type heartbeater struct {
	ctx    context.Context
	mu     sync.Mutex
	last   backfill.Progress
	stopCh chan struct{}
	doneCh chan struct{}
}

func startHeartbeat(ctx context.Context, every time.Duration) *heartbeater {
	h := &heartbeater{ctx: ctx, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	go func() {
		defer close(h.doneCh)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				h.mu.Lock()
				p := h.last
				h.mu.Unlock()
				activity.RecordHeartbeat(ctx, p)
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return h
}

func (h *heartbeater) record(p backfill.Progress) {
	h.mu.Lock()
	h.last = p
	h.mu.Unlock()
	activity.RecordHeartbeat(h.ctx, p)
}

func (h *heartbeater) stop() {
	close(h.stopCh)
	<-h.doneCh
}

// RunBackfill runs the batch and returns its summary. Month failures are
// reported in the summary, not as an activity error.
func (a *Activities) RunBackfill(ctx context.Context, in Input) (*backfill.Summary, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("backfill activity started", "service", in.Service, "year", in.Year, "months", in.Months)

	hb := startHeartbeat(ctx, a.heartbeatEvery)
	defer hb.stop()

	s, err := a.runner.Run(backfill.ContextWithProgress(ctx, hb.record), in.Params())
	if err != nil {
		if errors.Is(err, backfill.ErrInvalidParams) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidParams, err)
		}
		return nil, err
	}

	logger.Info("backfill activity finished",
		"batchRunId", s.BatchRunID,
		"successful", s.MonthsSuccessful,
		"skipped", s.MonthsSkipped,
		"gap", s.MonthsGap,
		"failed", s.MonthsFailed,
		"rows", s.TotalRowsLoaded)
	return s, nil
}
