package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/pkg/models"
)

var pairingListStatus string

var pairingCmd = &cobra.Command{
	Use:   "pairing",
	Short: "Manage which senders may enqueue messages",
}

var pairingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and approved senders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("pairing gate not initialized")
		}

		var records []models.PairingRecord
		switch models.PairingStatus(pairingListStatus) {
		case "", models.PairingPending, models.PairingApproved:
		default:
			return fmt.Errorf("invalid status %q: must be pending or approved", pairingListStatus)
		}
		if pairingListStatus != string(models.PairingApproved) {
			pending, err := Gate.ListPending()
			if err != nil {
				return fmt.Errorf("listing pending pairings: %w", err)
			}
			records = append(records, pending...)
		}
		if pairingListStatus != string(models.PairingPending) {
			approved, err := Gate.ListApproved()
			if err != nil {
				return fmt.Errorf("listing approved pairings: %w", err)
			}
			records = append(records, approved...)
		}

		if len(records) == 0 {
			fmt.Println("No pairings.")
			return nil
		}
		fmt.Printf("%-8s %-24s %-9s %-9s %s\n", "CHANNEL", "SENDER", "STATUS", "CODE", "REQUESTED")
		for _, r := range records {
			code := r.Code
			if r.Status == models.PairingApproved {
				code = "-"
			}
			fmt.Printf("%-8s %-24s %-9s %-9s %s\n",
				truncate(r.Channel, 8), truncate(r.Sender, 24), r.Status, code,
				r.RequestedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var pairingApproveCmd = &cobra.Command{
	Use:   "approve <code>",
	Short: "Approve the pending sender holding a pairing code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("pairing gate not initialized")
		}
		rec, err := Gate.Approve(args[0])
		if err != nil {
			return fmt.Errorf("approving %s: %w", args[0], err)
		}
		fmt.Printf("Approved %s on %s.\n", rec.Sender, rec.Channel)
		return nil
	},
}

var pairingRevokeCmd = &cobra.Command{
	Use:   "revoke <channel> <sender>",
	Short: "Remove a sender's pairing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Gate == nil {
			return fmt.Errorf("pairing gate not initialized")
		}
		if err := Gate.Revoke(args[0], args[1]); err != nil {
			return fmt.Errorf("revoking %s on %s: %w", args[1], args[0], err)
		}
		fmt.Printf("Revoked %s on %s.\n", args[1], args[0])
		return nil
	},
}

func init() {
	pairingListCmd.Flags().StringVar(&pairingListStatus, "status", "", "Show only pending or approved senders")
	pairingCmd.AddCommand(pairingListCmd)
	pairingCmd.AddCommand(pairingApproveCmd)
	pairingCmd.AddCommand(pairingRevokeCmd)
	rootCmd.AddCommand(pairingCmd)
}
