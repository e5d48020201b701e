package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"backfill/internal/config"
	"backfill/internal/storage"
)

func newValidateCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := reportIssues(cmd, config.Validate(*st.cfg, storage.Kinds())); err != nil {
				return err
			}
			src := st.cfgPath
			if src == "" {
				src = "defaults and environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", src)
			return nil
		},
	}
}
