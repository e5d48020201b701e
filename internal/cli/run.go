package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backfill/internal/app"
	"backfill/internal/backfill"
	"backfill/internal/config"
	"backfill/internal/storage"
)

func newRunCommand(st *state) *cobra.Command {
	var executionDate string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill the requested months of one service",
		Example: `  backfill run --service yellow --year 2015 --months 1,2,3
  backfill run --service taxi_zones --force-reload
  BACKFILL_WAREHOUSE_DSN=postgres://etl@db/taxi backfill run --warehouse postgres --months "[6]"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues := config.Validate(*st.cfg, storage.Kinds())
			if err := reportIssues(cmd, issues); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.Open(ctx, st.cfg, st.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					st.log.Warn("shutdown", zap.Error(err))
				}
			}()

			var p backfill.Params
			if executionDate != "" {
				p.ExecutionDate = executionDate
			}
			s, err := a.Run(ctx, p)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, s); err != nil {
				return err
			}
			if s.MonthsFailed > 0 {
				return fmt.Errorf("%d of %d month(s) failed", s.MonthsFailed, s.MonthsAttempted)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("service", "", "service to load (yellow, green, fhv, fhvhv, taxi_zones)")
	f.Int("year", 0, "year to load")
	f.String("months", "", `months to load, e.g. "1,2,3" or "[6]"; empty loads all twelve`)
	f.Int("chunk-size", 0, "rows per committed chunk")
	f.Int("max-retries", 0, "attempts per retried step")
	f.Bool("force-reload", false, "delete and reload months that already have rows")
	f.StringVar(&executionDate, "execution-date", "", "batch timestamp (RFC 3339 or 2006-01-02); defaults to now")
	f.String("metrics-backend", "", "metrics backend (none, pushgateway, datadog)")
	f.String("pushgateway-url", "", "Pushgateway base URL")
	for key, name := range map[string]string{
		"backfill.service":        "service",
		"backfill.year":           "year",
		"backfill.months":         "months",
		"backfill.chunk_size":     "chunk-size",
		"backfill.max_retries":    "max-retries",
		"backfill.force_reload":   "force-reload",
		"metrics.backend":         "metrics-backend",
		"metrics.pushgateway_url": "pushgateway-url",
	} {
		_ = st.v.BindPFlag(key, f.Lookup(name))
	}
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportIssues prints every issue to stderr and fails when any is an error.
func reportIssues(cmd *cobra.Command, issues []config.Issue) error {
	for _, iss := range issues {
		fmt.Fprintln(cmd.ErrOrStderr(), iss.String())
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}
