package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tournevent/collivery/pkg/collivery"
)

var (
	quoteFrom     int
	quoteTo       int
	quoteFromTown int
	quoteToTown   int
	quoteService  int
	quoteWeight   float64
	quoteCover    bool
	quoteAt       string

	townsProvince string
	townsSearch   string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a collivery between two addresses or towns",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &collivery.ShipmentRequest{
			ColliveryFrom: quoteFrom,
			ColliveryTo:   quoteTo,
			FromTownID:    quoteFromTown,
			ToTownID:      quoteToTown,
			Service:       quoteService,
			RiskCover:     quoteCover,
		}
		if quoteWeight > 0 {
			req.Parcels = []collivery.Parcel{{Weight: quoteWeight, Quantity: 1}}
		}
		if quoteAt != "" {
			at, err := collivery.ParseTimestamp(quoteAt)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			req.CollectionTime = at
		}

		return withClient(cmd, func(client *collivery.Client) (any, error) {
			return client.Quote(cmd.Context(), req)
		})
	},
}

var townsCmd = &cobra.Command{
	Use:   "towns",
	Short: "List towns, optionally by province or name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(client *collivery.Client) (any, error) {
			if townsSearch != "" {
				return client.SearchTowns(cmd.Context(), townsSearch)
			}
			return client.Towns(cmd.Context(), "", townsProvince)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <waybill>",
	Short: "Show the tracking status of a waybill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid waybill %q", args[0])
		}
		return withClient(cmd, func(client *collivery.Client) (any, error) {
			return client.Status(cmd.Context(), id)
		})
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept <waybill>",
	Short: "Accept a waybill waiting for acceptance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid waybill %q", args[0])
		}
		return withClient(cmd, func(client *collivery.Client) (any, error) {
			return client.AcceptShipment(cmd.Context(), id)
		})
	},
}

func init() {
	quoteCmd.Flags().IntVar(&quoteFrom, "from", 0, "collection address id")
	quoteCmd.Flags().IntVar(&quoteTo, "to", 0, "delivery address id")
	quoteCmd.Flags().IntVar(&quoteFromTown, "from-town", 0, "collection town id")
	quoteCmd.Flags().IntVar(&quoteToTown, "to-town", 0, "delivery town id")
	quoteCmd.Flags().IntVar(&quoteService, "service", 0, "service type id")
	quoteCmd.Flags().Float64Var(&quoteWeight, "weight", 0, "parcel weight in kg")
	quoteCmd.Flags().BoolVar(&quoteCover, "cover", false, "add risk cover")
	quoteCmd.Flags().StringVar(&quoteAt, "at", "", "collection time, YYYY-MM-DD HH:MM in South African time")

	townsCmd.Flags().StringVar(&townsProvince, "province", "", "province code, e.g. GP")
	townsCmd.Flags().StringVar(&townsSearch, "search", "", "town name prefix")

	rootCmd.AddCommand(quoteCmd, townsCmd, statusCmd, acceptCmd)
}

// withClient runs fn against a fresh client and prints its result as JSON.
// Validation errors are printed too, so scripts can inspect them.
func withClient(cmd *cobra.Command, fn func(*collivery.Client) (any, error)) error {
	env, err := setup(cmd.Context(), "stderr")
	if err != nil {
		return err
	}
	defer env.close(cmd.Context())

	client := env.newClient()
	defer client.Close()

	result, err := fn(client)
	if err != nil {
		if verr, ok := collivery.AsValidationError(err); ok {
			_ = printJSON(map[string]any{"errors": verr.Errors, "fields": verr.Fields})
		}
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
