package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lastmile/app"
	"github.com/kilianp07/lastmile/qa/scenarios"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the drivers and deliveries of a scenario file into the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := scenarios.Load(seedFile)
		if err != nil {
			return err
		}
		return withService(func(svc *app.Service) error {
			created, err := scenarios.Apply(commandContext(cmd), svc.Deliveries, sc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %q: %d drivers, %d deliveries\n", sc.Name, len(sc.Drivers), len(created))
			return err
		})
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "scenario file")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
