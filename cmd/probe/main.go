// Command probe downloads one source file and prints the columns and CREATE
// TABLE statement the backfill would use for it, without touching the
// warehouse.
//
//	probe --service yellow --year 2015 --month 1 --backend snowflake
//	probe --service taxi_zones --json
//
// Flags, BACKFILL_* environment variables and --config are read the same way
// as in cmd/backfill; --backend defaults to warehouse.kind.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"backfill/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := cli.NewProbeCommand()
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
