package main

import (
	"fmt"

	"github.com/garyjia/receipt-ledger/internal/domain/event"
	"github.com/garyjia/receipt-ledger/pkg/utils"
	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail (most recent first)",
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := app.Services().Audit.GetRecent(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), events)
	},
}

var auditDraftCmd = &cobra.Command{
	Use:   "draft <draft-id>",
	Short: "Show the events of one draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := utils.ValidateDraftID(args[0]); err != nil {
			return err
		}
		events, err := app.Services().Audit.GetForDraft(cmd.Context(), args[0], auditLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), events)
	},
}

var auditTypeCmd = &cobra.Command{
	Use:   "type <event-type>",
	Short: "Show events of one type, e.g. SEND_FAILED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := event.Type(args[0])
		if !eventType.IsValid() {
			return fmt.Errorf("unknown event type %q", args[0])
		}
		events, err := app.Services().Audit.GetByType(cmd.Context(), eventType, auditLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), events)
	},
}

var auditCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of stored events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := app.Services().Audit.Count(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), count)
		return err
	},
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 50, "maximum number of events")
	auditCmd.AddCommand(auditRecentCmd, auditDraftCmd, auditTypeCmd, auditCountCmd)
}
