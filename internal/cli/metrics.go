package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	agentqmcp "github.com/valter-silva-au/agentq/internal/mcp"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display queue and conversation metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include admitted and routed messages, completed turns per worker,
handoffs, finished and truncated conversations, invocation failures and
pairing activity.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		since := strings.TrimSpace(metricsSince)
		if since == "" {
			since = "7d"
		}
		sinceTime, err := agentqmcp.ParseSince(since)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		fmt.Printf("  %-26s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Printf("  %-26s %d\n", "Messages admitted:", metrics.MessagesAdmitted)
		fmt.Printf("  %-26s %d\n", "Messages routed:", metrics.MessagesRouted)
		fmt.Printf("  %-26s %d\n", "Unknown targets:", metrics.UnknownTargets)
		fmt.Printf("  %-26s %d\n", "Turns completed:", metrics.TurnsCompleted)
		if metrics.AvgTurnMillis > 0 {
			fmt.Printf("  %-26s %s\n", "Average turn:", (time.Duration(metrics.AvgTurnMillis) * time.Millisecond).String())
		}
		fmt.Printf("  %-26s %d (%d cross-team)\n", "Handoffs:", metrics.HandoffsEnqueued, metrics.CrossTeamHandoffs)
		fmt.Printf("  %-26s %d\n", "Conversations completed:", metrics.ConversationsCompleted)
		fmt.Printf("  %-26s %d\n", "Conversations truncated:", metrics.ConversationsTruncated)
		fmt.Printf("  %-26s %d\n", "Invocation failures:", metrics.InvocationFailures)
		fmt.Printf("  %-26s %d\n", "Entries quarantined:", metrics.EntriesQuarantined)
		fmt.Printf("  %-26s %d\n", "Orphans recovered:", metrics.OrphansRecovered)
		fmt.Printf("  %-26s %d requested, %d approved\n", "Pairings:", metrics.PairingsRequested, metrics.PairingsApproved)

		printCounts("Turns by worker", metrics.TurnsByWorker)
		printCounts("Failures by worker", metrics.FailuresByWorker)

		if metrics.OldestEvent != nil {
			fmt.Printf("\n  %-26s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Printf("  %-26s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}
		return nil
	},
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("\n  %s:\n", title)
	for _, k := range keys {
		fmt.Printf("    %-22s %d\n", k+":", counts[k])
	}
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
