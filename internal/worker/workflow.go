package worker

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"backfill/internal/backfill"
)

// activityOptions leave step retries to the orchestrator. A second attempt
// covers a lost worker, detected by missed heartbeats; months already loaded
// are skipped on rerun.
var activityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 24 * time.Hour,
	HeartbeatTimeout:    2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:        time.Minute,
		BackoffCoefficient:     2.0,
		MaximumInterval:        10 * time.Minute,
		MaximumAttempts:        2,
		NonRetryableErrorTypes: []string{ErrTypeInvalidParams},
	},
}

// BackfillWorkflow runs one batch through the RunBackfill activity.
func BackfillWorkflow(ctx workflow.Context, in Input) (*backfill.Summary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("backfill workflow started", "service", in.Service, "year", in.Year)

	actCtx := workflow.WithActivityOptions(ctx, activityOptions)
	var s backfill.Summary
	if err := workflow.ExecuteActivity(actCtx, ActivityName, in).Get(ctx, &s); err != nil {
		return nil, err
	}

	logger.Info("backfill workflow finished", "batchRunId", s.BatchRunID, "failed", s.MonthsFailed)
	return &s, nil
}
