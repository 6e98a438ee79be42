package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lastmile/app"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/pkg/export"
)

// cliActor performs mutations issued from the command line.
var cliActor = delivery.Actor{ID: "cli", Dispatcher: true}

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect and create deliveries",
}

var historyFormat string

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Print the tracking history of a delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *app.Service) error {
			entries, err := svc.Deliveries.History(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return export.Write(cmd.OutOrStdout(), export.Format(historyFormat), entries)
		})
	},
}

var createOpts struct {
	order, store, customer string
	pickup, destination    string
	cost                   float64
	priority               int
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a delivery waiting for assignment",
	RunE: func(cmd *cobra.Command, args []string) error {
		pickup, err := parsePoint(createOpts.pickup)
		if err != nil {
			return fmt.Errorf("--pickup: %w", err)
		}
		dest, err := parsePoint(createOpts.destination)
		if err != nil {
			return fmt.Errorf("--destination: %w", err)
		}
		return withService(func(svc *app.Service) error {
			d, err := svc.Deliveries.Create(commandContext(cmd), delivery.NewDelivery{
				OrderID:             createOpts.order,
				StoreID:             createOpts.store,
				CustomerID:          createOpts.customer,
				PickupLocation:      pickup,
				DestinationLocation: dest,
				DeliveryCost:        createOpts.cost,
				Priority:            createOpts.priority,
			}, cliActor)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		})
	},
}

// parsePoint reads "lat,lng".
func parsePoint(s string) (model.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return model.Location{}, fmt.Errorf("want lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return model.Location{}, err
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return model.Location{}, err
	}
	loc := model.NewLocation(lat, lng, "")
	return loc, loc.Validate()
}

func init() {
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "json", "output format: json or csv")

	f := createCmd.Flags()
	f.StringVar(&createOpts.order, "order", "", "order id")
	f.StringVar(&createOpts.store, "store", "", "store id")
	f.StringVar(&createOpts.customer, "customer", "", "customer id")
	f.StringVar(&createOpts.pickup, "pickup", "", "pickup point as lat,lng")
	f.StringVar(&createOpts.destination, "destination", "", "destination point as lat,lng")
	f.Float64Var(&createOpts.cost, "cost", 0, "delivery cost")
	f.IntVar(&createOpts.priority, "priority", 0, "higher is assigned first")
	for _, name := range []string{"order", "pickup", "destination"} {
		_ = createCmd.MarkFlagRequired(name)
	}

	deliveryCmd.AddCommand(historyCmd, createCmd)
	rootCmd.AddCommand(deliveryCmd)
}
