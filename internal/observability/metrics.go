package observability

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// Metrics holds queue and conversation metrics derived from the event log.
type Metrics struct {
	MessagesAdmitted       int            `json:"messages_admitted"`
	MessagesRouted         int            `json:"messages_routed"`
	UnknownTargets         int            `json:"unknown_targets"`
	EntriesQuarantined     int            `json:"entries_quarantined"`
	OrphansRecovered       int            `json:"orphans_recovered"`
	TurnsCompleted         int            `json:"turns_completed"`
	TurnsByWorker          map[string]int `json:"turns_by_worker"`
	HandoffsEnqueued       int            `json:"handoffs_enqueued"`
	CrossTeamHandoffs      int            `json:"cross_team_handoffs"`
	ConversationsCompleted int            `json:"conversations_completed"`
	ConversationsTruncated int            `json:"conversations_truncated"`
	InvocationFailures     int            `json:"invocation_failures"`
	FailuresByWorker       map[string]int `json:"failures_by_worker"`
	PairingsRequested      int            `json:"pairings_requested"`
	PairingsApproved       int            `json:"pairings_approved"`
	AvgTurnMillis          int64          `json:"avg_turn_ms"`
	EventCount             int            `json:"event_count"`
	OldestEvent            *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent            *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		TurnsByWorker:    make(map[string]int),
		FailuresByWorker: make(map[string]int),
	}
	m.EventCount = len(events)

	var totalMillis int64
	var timedTurns int64
	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		worker, _ := event.Data["worker"].(string)
		switch event.Type {
		case models.EventMessageAdmitted:
			m.MessagesAdmitted++
		case models.EventMessageRouted:
			m.MessagesRouted++
		case models.EventMessageUnknownTarget:
			m.UnknownTargets++
		case models.EventEntryQuarantined:
			m.EntriesQuarantined++
		case models.EventOrphanRecovered:
			m.OrphansRecovered++
		case models.EventTurnCompleted:
			m.TurnsCompleted++
			if worker != "" {
				m.TurnsByWorker[worker]++
			}
			if ms, ok := numberValue(event.Data["duration_ms"]); ok {
				totalMillis += ms
				timedTurns++
			}
		case models.EventHandoffEnqueued:
			m.HandoffsEnqueued++
			if cross, _ := event.Data["cross_team"].(bool); cross {
				m.CrossTeamHandoffs++
			}
		case models.EventConversationDone:
			m.ConversationsCompleted++
		case models.EventConversationCapped:
			m.ConversationsTruncated++
		case models.EventInvocationFailed:
			m.InvocationFailures++
			if worker != "" {
				m.FailuresByWorker[worker]++
			}
		case models.EventPairingRequested:
			m.PairingsRequested++
		case models.EventPairingApproved:
			m.PairingsApproved++
		}
	}
	if timedTurns > 0 {
		m.AvgTurnMillis = totalMillis / timedTurns
	}

	return m, nil
}

// numberValue reads a JSON number decoded into an any.
func numberValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
