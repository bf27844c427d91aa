package main

import (
	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/spf13/cobra"
)

type rosterLocation struct {
	port.Location
	Staff []port.StaffMember `json:"staff"`
}

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect the location and staff roster",
}

var rosterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every location with its staff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := app.Roster()
		locations, err := provider.ListLocations(cmd.Context())
		if err != nil {
			return err
		}

		out := make([]rosterLocation, 0, len(locations))
		for _, loc := range locations {
			staff, err := provider.ListStaffForLocation(cmd.Context(), loc.ID)
			if err != nil {
				return err
			}
			out = append(out, rosterLocation{Location: loc, Staff: staff})
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rosterCmd.AddCommand(rosterShowCmd)
}
