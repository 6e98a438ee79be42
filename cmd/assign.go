package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lastmile/app"
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Run one auto-assignment tick against the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *app.Service) error {
			ev, err := svc.Scheduler.Tick(commandContext(cmd))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d assigned=%d unassigned=%d boosted=%d errors=%d duration=%s\n",
				ev.Scanned, ev.Assigned, ev.Unassigned, ev.Boosted, ev.Errors, ev.Duration)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(assignCmd)
}
