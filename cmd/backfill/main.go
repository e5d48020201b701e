// Command backfill loads NYC taxi trip records into a warehouse.
//
//	backfill run --service yellow --year 2015 --months 1,2,3
//	backfill validate --config backfill.yaml
//	backfill probe --service green --year 2019 --month 2
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"backfill/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
