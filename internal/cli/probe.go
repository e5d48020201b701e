package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"backfill/internal/app"
	"backfill/internal/backfill"
	"backfill/internal/metrics"
	"backfill/internal/retry"
	"backfill/internal/storage"
)

// ProbeReport is what probe prints with --json.
type ProbeReport struct {
	Service string               `json:"service"`
	URL     string               `json:"url"`
	Rows    int64                `json:"rows"`
	Table   string               `json:"table"`
	Columns []storage.ColumnSpec `json:"columns"`
	DDL     string               `json:"ddl"`
}

// NewProbeCommand builds the standalone probe command used by cmd/probe.
func NewProbeCommand() *cobra.Command {
	st := &state{v: viper.New()}
	cmd := newProbeCommand(st)
	st.addPersistentFlags(cmd)
	return cmd
}

func newProbeCommand(st *state) *cobra.Command {
	var (
		service string
		year    int
		month   int
		backend string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Download one period and print the inferred columns and CREATE TABLE",
		Long: `probe downloads a single source file, runs the same schema inference the
loader uses and prints the resulting column list and DDL. It never connects
to the warehouse.`,
		Example: `  probe --service green --year 2019 --month 2
  probe --service taxi_zones --backend snowflake --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := backend
			if kind == "" {
				kind = st.cfg.Warehouse.Kind
			}
			if service == "" {
				service = st.cfg.Backfill.Service
			}
			if year == 0 {
				year = st.cfg.Backfill.Year
			}
			if month < 1 || month > 12 {
				return fmt.Errorf("month must be between 1 and 12, got %d", month)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rep, err := probe(ctx, st, service, year, month, kind)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, rep)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows\n\n", rep.URL, rep.Rows)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLUMN\tKIND")
			for _, c := range rep.Columns {
				fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Kind)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s\n", rep.DDL)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&service, "service", "", "service to probe; defaults to backfill.service")
	f.IntVar(&year, "year", 0, "year; defaults to backfill.year")
	f.IntVar(&month, "month", 1, "month")
	f.StringVar(&backend, "backend", "", "backend to render DDL for; defaults to warehouse.kind")
	f.BoolVar(&asJSON, "json", false, "print a JSON report")
	f.DurationVar(&timeout, "timeout", 10*time.Minute, "overall time limit")
	return cmd
}

func probe(ctx context.Context, st *state, service string, year, month int, kind string) (*ProbeReport, error) {
	cat := st.cfg.Catalog()
	spec := cat.Spec(service)
	loc := cat.ResolveURL(service, storage.Period{Year: year, Month: month})

	d, err := app.NewFetcher(st.cfg, st.log, metrics.Nop{}).Fetch(ctx, loc, spec)
	if err != nil {
		return nil, err
	}
	defer d.Release()

	cols, err := backfill.NewSchemaManager(retry.DefaultPolicy(), st.log).Infer(spec, d)
	if err != nil {
		return nil, err
	}
	t := storage.TableRef{Database: st.cfg.Warehouse.Database, Schema: st.cfg.Warehouse.Schema, Name: backfill.TableName(service)}
	ddl, err := storage.CreateTableSQL(kind, t, cols)
	if err != nil {
		return nil, err
	}
	return &ProbeReport{Service: service, URL: loc.URL, Rows: d.NumRows(), Table: t.String(), Columns: cols, DDL: ddl}, nil
}
