package main

import (
	"fmt"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/domain/workflow"
	"github.com/garyjia/receipt-ledger/pkg/utils"
	"github.com/spf13/cobra"
)

var draftFilter struct {
	status   string
	location string
	staff    string
	limit    int
	offset   int
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Inspect receipt drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drafts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := port.DraftFilter{
			Status:     workflow.State(draftFilter.status),
			LocationID: utils.SanitizeString(draftFilter.location),
			StaffID:    utils.SanitizeString(draftFilter.staff),
			Limit:      draftFilter.limit,
			Offset:     draftFilter.offset,
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			return fmt.Errorf("unknown status %q", draftFilter.status)
		}

		drafts, err := app.Services().Draft.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), drafts)
	},
}

var draftsShowCmd = &cobra.Command{
	Use:   "show <draft-id>",
	Short: "Show one draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateDraftID(args[0]); err != nil {
			return err
		}
		draft, err := app.Services().Draft.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), draft)
	},
}

func init() {
	flags := draftsListCmd.Flags()
	flags.StringVar(&draftFilter.status, "status", "", "DRAFT or SENT")
	flags.StringVar(&draftFilter.location, "location", "", "business location id")
	flags.StringVar(&draftFilter.staff, "staff", "", "staff id")
	flags.IntVar(&draftFilter.limit, "limit", 50, "maximum number of drafts")
	flags.IntVar(&draftFilter.offset, "offset", 0, "number of drafts to skip")

	draftsCmd.AddCommand(draftsListCmd, draftsShowCmd)
}
