// Command backfill-worker serves BackfillWorkflow and the RunBackfill
// activity on a Temporal task queue.
//
// Configuration is read like cmd/backfill: an optional -config file, then
// BACKFILL_* environment variables. The Temporal endpoint comes from
// temporal.address, temporal.namespace and temporal.task_queue
// (BACKFILL_TEMPORAL_ADDRESS and so on).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"backfill/internal/app"
	"backfill/internal/config"
	"backfill/internal/observability"
	"backfill/internal/storage"
	bfworker "backfill/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(viper.New(), cfgPath)
	if err != nil {
		return err
	}
	issues := config.Validate(*cfg, storage.Kinds())
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}

	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	a, err := app.Open(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	return bfworker.Run(cfg.Temporal, a, log, worker.InterruptCh())
}
