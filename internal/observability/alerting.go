package observability

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	MaxIncomingBacklog    int `json:"max_incoming_backlog"`
	MaxInvocationFailures int `json:"max_invocation_failures"`
	FailureWindowHours    int `json:"failure_window_hours"`
}

// DefaultAlertThresholds returns the default alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxIncomingBacklog:    25,
		MaxInvocationFailures: 5,
		FailureWindowHours:    24,
	}
}

// ThresholdsFromSettings applies configured values over the defaults.
func ThresholdsFromSettings(s models.AlertSettings) AlertThresholds {
	t := DefaultAlertThresholds()
	if s.MaxIncomingBacklog > 0 {
		t.MaxIncomingBacklog = s.MaxIncomingBacklog
	}
	if s.MaxInvocationFailures > 0 {
		t.MaxInvocationFailures = s.MaxInvocationFailures
	}
	if s.FailureWindowHours > 0 {
		t.FailureWindowHours = s.FailureWindowHours
	}
	return t
}

// QueueStatsSource reports current queue depths. storage.QueueStore
// satisfies it.
type QueueStatsSource interface {
	Stats() (models.QueueStats, error)
}

// AlertEngine evaluates queue-health conditions.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine checks queue depths and recent events against thresholds.
type alertEngine struct {
	eventLog   EventLog
	queue      QueueStatsSource
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over the event log and queue.
func NewAlertEngine(eventLog EventLog, queue QueueStatsSource, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		queue:      queue,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	var alerts []Alert

	stats, err := ae.queue.Stats()
	if err != nil {
		return nil, fmt.Errorf("reading queue stats: %w", err)
	}
	alerts = append(alerts, ae.checkBacklog(stats, now)...)
	alerts = append(alerts, ae.checkQuarantine(stats, now)...)

	windowStart := now.Add(-time.Duration(ae.thresholds.FailureWindowHours) * time.Hour)
	events, err := ae.eventLog.Read(EventFilter{Since: &windowStart})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}
	alerts = append(alerts, ae.checkFailures(events, now)...)
	alerts = append(alerts, ae.checkTruncations(events, now)...)

	return alerts, nil
}

// checkBacklog fires when incoming holds more entries than the threshold,
// which usually means the dispatcher is not running.
func (ae *alertEngine) checkBacklog(stats models.QueueStats, now time.Time) []Alert {
	if stats.Incoming <= ae.thresholds.MaxIncomingBacklog {
		return nil
	}
	return []Alert{{
		ID:          "incoming-backlog",
		Condition:   "incoming_backlog_too_large",
		Severity:    SeverityHigh,
		Message:     fmt.Sprintf("incoming has %d entries, exceeding the maximum of %d", stats.Incoming, ae.thresholds.MaxIncomingBacklog),
		TriggeredAt: now,
	}}
}

func (ae *alertEngine) checkQuarantine(stats models.QueueStats, now time.Time) []Alert {
	if stats.Quarantined == 0 {
		return nil
	}
	return []Alert{{
		ID:          "quarantine",
		Condition:   "entries_quarantined",
		Severity:    SeverityMedium,
		Message:     fmt.Sprintf("%d corrupt queue entries are waiting in quarantine", stats.Quarantined),
		TriggeredAt: now,
	}}
}

// checkFailures fires per worker whose invocation failures in the window
// exceed the threshold.
func (ae *alertEngine) checkFailures(events []Event, now time.Time) []Alert {
	failures := make(map[string]int)
	var order []string
	for _, event := range events {
		if event.Type != models.EventInvocationFailed {
			continue
		}
		worker, _ := event.Data["worker"].(string)
		if worker == "" {
			worker = "unknown"
		}
		if failures[worker] == 0 {
			order = append(order, worker)
		}
		failures[worker]++
	}

	var alerts []Alert
	for _, worker := range order {
		if failures[worker] <= ae.thresholds.MaxInvocationFailures {
			continue
		}
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("failures-%s", worker),
			Condition:   "invocation_failures",
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("worker %s failed %d invocations in the last %d hours", worker, failures[worker], ae.thresholds.FailureWindowHours),
			TriggeredAt: now,
		})
	}
	return alerts
}

func (ae *alertEngine) checkTruncations(events []Event, now time.Time) []Alert {
	var alerts []Alert
	for _, event := range events {
		if event.Type != models.EventConversationCapped {
			continue
		}
		conv, _ := event.Data["conversation"].(string)
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("truncated-%s", conv),
			Condition:   "conversation_truncated",
			Severity:    SeverityLow,
			Message:     fmt.Sprintf("conversation %s hit the turn cap and was truncated", conv),
			TriggeredAt: now,
		})
	}
	return alerts
}
