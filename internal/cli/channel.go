package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Inspect and pump channel adapters",
	Long: `Commands for listing the registered channel adapters and running one
admit/deliver pass without starting the dispatcher.`,
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered channel adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChannelReg == nil {
			return fmt.Errorf("channel registry not initialized")
		}

		adapters := ChannelReg.ListAdapters()
		if len(adapters) == 0 {
			fmt.Println("No channel adapters registered.")
			return nil
		}

		fmt.Printf("%-20s %-10s\n", "NAME", "TYPE")
		fmt.Printf("%-20s %-10s\n", strings.Repeat("-", 20), strings.Repeat("-", 10))
		for _, a := range adapters {
			fmt.Printf("%-20s %-10s\n", a.Name(), string(a.Type()))
		}
		return nil
	},
}

var channelPumpCmd = &cobra.Command{
	Use:   "pump",
	Short: "Admit pending channel messages and deliver outgoing replies once",
	Long: `Run a single pass over every registered adapter: pending inbound items go
through the pairing gate into the queue, and outgoing replies addressed to the
adapter's channel are sent and acknowledged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChannelReg == nil || Intake == nil || Queue == nil {
			return fmt.Errorf("channel registry not initialized")
		}

		res, err := newBridge(nil).Pump()
		if err != nil {
			return fmt.Errorf("pumping channels: %w", err)
		}
		fmt.Printf("Admitted %d, awaiting pairing %d, delivered %d.\n", res.Admitted, res.Unpaired, res.Delivered)
		return nil
	},
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func init() {
	channelCmd.AddCommand(channelListCmd)
	channelCmd.AddCommand(channelPumpCmd)
	rootCmd.AddCommand(channelCmd)
}
