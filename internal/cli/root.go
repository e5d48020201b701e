// Package cli holds the cobra commands behind cmd/backfill and cmd/probe.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"backfill/internal/config"
	"backfill/internal/observability"
)

// state is shared by a command tree. Config and the logger are populated
// in PersistentPreRunE, after flags are parsed.
type state struct {
	v       *viper.Viper
	cfgPath string
	cfg     *config.Config
	log     *zap.Logger
}

// NewRootCommand builds the backfill command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	st := &state{v: viper.New()}

	root := &cobra.Command{
		Use:   "backfill",
		Short: "Load NYC taxi trip records into a warehouse, one month at a time",
		Long: `backfill downloads monthly trip record files, loads them in chunks into a
warehouse table and records per-month coverage in AUDIT_COVERAGE.

Configuration comes from defaults, an optional --config file, BACKFILL_*
environment variables and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	st.addPersistentFlags(root)

	root.AddCommand(
		newRunCommand(st),
		newValidateCommand(st),
		newProbeCommand(st),
	)
	return root
}

func (st *state) addPersistentFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&st.cfgPath, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (json, console)")
	pf.String("warehouse", "", "warehouse backend kind")
	pf.String("dsn", "", "warehouse DSN")
	_ = st.v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = st.v.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = st.v.BindPFlag("warehouse.kind", pf.Lookup("warehouse"))
	_ = st.v.BindPFlag("warehouse.dsn", pf.Lookup("dsn"))

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return st.load()
	}
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if st.log != nil {
			_ = st.log.Sync()
		}
	}
}

func (st *state) load() error {
	cfg, err := config.Load(st.v, st.cfgPath)
	if err != nil {
		return err
	}
	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	st.cfg, st.log = cfg, log
	return nil
}
