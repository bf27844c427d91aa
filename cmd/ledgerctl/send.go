package main

import (
	"fmt"

	"github.com/garyjia/receipt-ledger/internal/application/service"
	"github.com/garyjia/receipt-ledger/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	sendForce bool
	sendActor string
)

var sendCmd = &cobra.Command{
	Use:   "send <draft-id>...",
	Short: "Write drafts to the location and staff ledgers and mark them SENT",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendForce, "force", false, "write rows even when the invoice number is already in the ledger")
	sendCmd.Flags().StringVar(&sendActor, "actor", "", "actor recorded on audit events (default system)")
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := utils.ValidateDraftIDs(args); err != nil {
		return err
	}

	report, err := app.Services().Send.Send(cmd.Context(), args, service.SendOptions{
		Actor: utils.SanitizeString(sendActor),
		Force: sendForce,
	})
	if err != nil {
		return err
	}

	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.FailedCount > 0 {
		return fmt.Errorf("%d of %d drafts not sent", report.FailedCount, report.Total)
	}
	return nil
}
