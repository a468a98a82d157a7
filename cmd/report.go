package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/account-tracker/internal/report"
)

func newReportCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Prints post-count changes across all logged days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := report.Load(rt.cfg.Tracker.DataDir)
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}
			report.Render(cmd.OutOrStdout(), rep, all)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include accounts whose count did not change")
	return cmd
}
