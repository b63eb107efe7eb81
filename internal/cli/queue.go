package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/pkg/models"
)

var (
	queueListStage string
	queueListJSON  bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the message queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show entry counts per stage and worker states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Queue == nil {
			return fmt.Errorf("queue not initialized")
		}
		stats, err := Queue.Stats()
		if err != nil {
			return fmt.Errorf("reading queue stats: %w", err)
		}

		fmt.Printf("  %-14s %d\n", "incoming:", stats.Incoming)
		fmt.Printf("  %-14s %d\n", "processing:", stats.Processing)
		fmt.Printf("  %-14s %d\n", "outgoing:", stats.Outgoing)
		if stats.Quarantined > 0 {
			fmt.Printf("  %-14s %d\n", "quarantined:", stats.Quarantined)
		}

		if StatusStore == nil {
			return nil
		}
		workers, err := StatusStore.Load()
		if err != nil {
			return fmt.Errorf("reading worker states: %w", err)
		}
		if len(workers) == 0 {
			return nil
		}
		fmt.Printf("\n%-16s %-10s %-7s %-10s %-7s %s\n", "WORKER", "STATE", "QUEUED", "PROCESSED", "FAILED", "CURRENT")
		for _, w := range workers {
			fmt.Printf("%-16s %-10s %-7d %-10d %-7d %s\n",
				truncate(w.Worker, 16), w.State, w.Queued, w.Processed, w.Failed, w.Current)
		}
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of a stage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Queue == nil {
			return fmt.Errorf("queue not initialized")
		}
		stage, err := parseStage(queueListStage)
		if err != nil {
			return err
		}
		entries, err := Queue.List(stage)
		if err != nil {
			return fmt.Errorf("listing %s: %w", stage, err)
		}

		if queueListJSON {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting entries as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(entries) == 0 {
			fmt.Printf("No entries in %s.\n", stage)
			return nil
		}
		fmt.Printf("%-38s %-6s %-16s %-12s %s\n", "ID", "CHAN", "SENDER", "TO", "TEXT")
		for _, e := range entries {
			to := e.Destination
			if e.Reply != nil {
				to = e.Reply.Worker
			}
			fmt.Printf("%-38s %-6s %-16s %-12s %s\n",
				e.ID, truncate(e.Channel, 6), truncate(e.Sender, 16), truncate(to, 12),
				truncate(oneLine(e.Text), 50))
		}
		return nil
	},
}

var queueRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Move entries stranded in processing back to incoming",
	Long: `Move every entry in processing back to incoming. Only run this while no
dispatcher is running; "agentq start" does it automatically on startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Queue == nil {
			return fmt.Errorf("queue not initialized")
		}
		ids, err := Queue.RecoverOrphans()
		if err != nil {
			return fmt.Errorf("recovering orphans: %w", err)
		}
		for _, id := range ids {
			if Events != nil {
				_ = Events.LogEvent(models.EventOrphanRecovered, map[string]any{"entry_id": id})
			}
		}
		fmt.Printf("Recovered %d entr%s.\n", len(ids), plural(len(ids), "y", "ies"))
		return nil
	},
}

var queueAckCmd = &cobra.Command{
	Use:   "ack <entry-id>...",
	Short: "Remove delivered entries from outgoing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Queue == nil {
			return fmt.Errorf("queue not initialized")
		}
		for _, id := range args {
			if err := Queue.Ack(id); err != nil {
				return fmt.Errorf("acknowledging %s: %w", id, err)
			}
			fmt.Printf("Acknowledged %s.\n", id)
		}
		return nil
	},
}

func parseStage(s string) (models.Stage, error) {
	for _, stage := range models.Stages {
		if string(stage) == s {
			return stage, nil
		}
	}
	names := make([]string, len(models.Stages))
	for i, stage := range models.Stages {
		names[i] = string(stage)
	}
	return "", fmt.Errorf("unknown stage %q (use %s)", s, strings.Join(names, ", "))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStage, "stage", string(models.StageIncoming), "Stage to list: incoming, processing or outgoing")
	queueListCmd.Flags().BoolVar(&queueListJSON, "json", false, "Output entries as JSON")
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRecoverCmd)
	queueCmd.AddCommand(queueAckCmd)
	rootCmd.AddCommand(queueCmd)
}
