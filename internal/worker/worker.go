package worker

import (
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"backfill/internal/config"
)

// Registry is implemented by worker.Worker and the SDK test environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the workflow and activity to w under their public names.
func Register(w Registry, r Runner) {
	w.RegisterWorkflowWithOptions(BackfillWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(NewActivities(r).RunBackfill, activity.RegisterOptions{Name: ActivityName})
}

// Run dials Temporal and serves the task queue until interrupt is closed.
func Run(cfg config.Temporal, r Runner, log *zap.Logger, interrupt <-chan interface{}) error {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(log),
	})
	if err != nil {
		return fmt.Errorf("temporal dial %s: %w", cfg.Address, err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	Register(w, r)

	log.Info("worker started",
		zap.String("address", cfg.Address),
		zap.String("namespace", cfg.Namespace),
		zap.String("task_queue", cfg.TaskQueue))
	if err := w.Run(interrupt); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
