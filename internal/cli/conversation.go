package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/pkg/models"
)

var conversationListStatus string

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Inspect team conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Transcripts == nil {
			return fmt.Errorf("transcript store not initialized")
		}
		status := models.ConversationStatus(conversationListStatus)
		switch status {
		case "", models.ConversationActive, models.ConversationCompleted, models.ConversationTruncated:
		default:
			return fmt.Errorf("invalid status %q: must be active, completed or truncated", conversationListStatus)
		}

		convs, err := Transcripts.List(status)
		if err != nil {
			return fmt.Errorf("listing conversations: %w", err)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		fmt.Printf("%-38s %-12s %-10s %-6s %-8s %s\n", "ID", "TEAM", "STATUS", "TURNS", "PENDING", "STARTED")
		for _, c := range convs {
			fmt.Printf("%-38s %-12s %-10s %-6d %-8d %s\n",
				c.ID, truncate(c.TeamID, 12), c.Status, len(c.Turns), c.Pending,
				c.Started.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print a conversation with all of its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Transcripts == nil {
			return fmt.Errorf("transcript store not initialized")
		}
		conv, err := Transcripts.Load(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Conversation %s\n", conv.ID)
		fmt.Printf("  Team:    %s\n", conv.TeamID)
		fmt.Printf("  Status:  %s\n", conv.Status)
		if conv.Sender != "" {
			fmt.Printf("  From:    %s on %s\n", conv.Sender, conv.Channel)
		}
		fmt.Printf("  Started: %s\n", conv.Started.Local().Format(time.RFC3339))
		if conv.Finished != nil {
			fmt.Printf("  Ended:   %s\n", conv.Finished.Local().Format(time.RFC3339))
		}
		if conv.Origin != "" {
			fmt.Printf("\n> %s\n", oneLine(conv.Origin))
		}
		for _, turn := range conv.Turns {
			fmt.Printf("\n[%s] %s\n%s\n", turn.Speaker, turn.At.Local().Format("15:04:05"), turn.Text)
		}
		return nil
	},
}

func init() {
	conversationListCmd.Flags().StringVar(&conversationListStatus, "status", "", "Show only active, completed or truncated conversations")
	conversationCmd.AddCommand(conversationListCmd)
	conversationCmd.AddCommand(conversationShowCmd)
	rootCmd.AddCommand(conversationCmd)
}
