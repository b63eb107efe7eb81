package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	agentqmcp "github.com/valter-silva-au/agentq/internal/mcp"
	"github.com/valter-silva-au/agentq/internal/observability"
)

var (
	eventsSince  string
	eventsType   string
	eventsLevel  string
	eventsEntity string
	eventsLimit  int
	eventsJSON   bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent entries of the event log",
	Long: `Show recent entries of the event log, oldest first.

Filter by event type (e.g. handoff.enqueued), level (INFO, WARN, ERROR) or
an entity id. An entity matches events that name it as the entry, the
conversation, the worker or either end of a handoff.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if EventLog == nil {
			return fmt.Errorf("event log not initialized (observability may be disabled)")
		}

		filter := observability.EventFilter{
			Type:   strings.TrimSpace(eventsType),
			Level:  strings.ToUpper(strings.TrimSpace(eventsLevel)),
			Entity: strings.TrimSpace(eventsEntity),
			Limit:  eventsLimit,
		}
		if since := strings.TrimSpace(eventsSince); since != "" {
			sinceTime, err := agentqmcp.ParseSince(since)
			if err != nil {
				return fmt.Errorf("parsing --since: %w", err)
			}
			filter.Since = &sinceTime
		}

		events, err := EventLog.Read(filter)
		if err != nil {
			return fmt.Errorf("reading events: %w", err)
		}

		if eventsJSON {
			data, err := json.MarshalIndent(events, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting events as JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}

		if len(events) == 0 {
			fmt.Println("No events.")
			return nil
		}
		for _, e := range events {
			msg := e.Message
			if msg == "" {
				msg = observability.Describe(e.Type, e.Data)
			}
			fmt.Printf("%s  %-5s  %-24s %s\n", e.Time.Local().Format(time.DateTime), e.Level, e.Type, msg)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSince, "since", "24h", "Time window (e.g. 24h, 7d); empty reads the whole log")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only events of this type")
	eventsCmd.Flags().StringVar(&eventsLevel, "level", "", "Only events of this level")
	eventsCmd.Flags().StringVar(&eventsEntity, "entity", "", "Only events naming this entry, conversation or worker id")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Show at most this many of the most recent events (0 for all)")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Output events as JSON")
	rootCmd.AddCommand(eventsCmd)
}
