package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// Event represents a single observable event in the system.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`  // one of the models.Event* types
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter specifies criteria for reading events.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	Type  string
	Level string
	// Entity matches events whose data references the id as entry_id,
	// conversation or worker.
	Entity string
	// Limit keeps only the most recent matching events when positive.
	Limit int
}

// LevelFor returns the level recorded for an event type.
func LevelFor(eventType string) string {
	switch eventType {
	case models.EventInvocationFailed, models.EventEntryQuarantined:
		return "ERROR"
	case models.EventMessageUnknownTarget, models.EventConversationCapped, models.EventOrphanRecovered:
		return "WARN"
	default:
		return "INFO"
	}
}

// NewEvent stamps an event of the given type with the current time, its level
// and a one-line summary built from data.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Time:    time.Now().UTC(),
		Level:   LevelFor(eventType),
		Type:    eventType,
		Message: Describe(eventType, data),
		Data:    data,
	}
}

// Describe summarizes an event for humans. Unknown types and missing keys
// fall back to the type itself.
func Describe(eventType string, data map[string]any) string {
	str := func(key string) string {
		v, _ := data[key].(string)
		return v
	}
	num := func(key string) int {
		switch v := data[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return 0
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := data[k]; !ok {
				return false
			}
		}
		return true
	}

	switch eventType {
	case models.EventMessageAdmitted:
		if has("entry_id", "channel", "sender") {
			return fmt.Sprintf("admitted %s from %s on %s", str("entry_id"), str("sender"), str("channel"))
		}
	case models.EventMessageRouted:
		if has("entry_id", "worker") {
			return fmt.Sprintf("routed %s to @%s", str("entry_id"), str("worker"))
		}
	case models.EventMessageUnknownTarget:
		if has("entry_id", "error") {
			return fmt.Sprintf("could not route %s: %s", str("entry_id"), str("error"))
		}
	case models.EventTurnCompleted:
		if has("worker", "handoffs") {
			return fmt.Sprintf("@%s answered with %d handoff(s)", str("worker"), num("handoffs"))
		}
	case models.EventHandoffEnqueued:
		if has("from", "to") {
			return fmt.Sprintf("@%s handed off to @%s", str("from"), str("to"))
		}
	case models.EventInvocationFailed:
		if has("worker", "error") {
			return fmt.Sprintf("@%s failed: %s", str("worker"), str("error"))
		}
	case models.EventConversationDone, models.EventConversationCapped:
		if has("conversation", "turns") {
			verb := "completed"
			if eventType == models.EventConversationCapped {
				verb = "truncated"
			}
			return fmt.Sprintf("conversation %s %s after %d turn(s)", str("conversation"), verb, num("turns"))
		}
	case models.EventEntryQuarantined:
		if has("entry_id") {
			return fmt.Sprintf("quarantined unreadable entry %s", str("entry_id"))
		}
	case models.EventOrphanRecovered:
		if has("entry_id") {
			return fmt.Sprintf("requeued orphaned entry %s", str("entry_id"))
		}
	case models.EventPairingRequested, models.EventPairingApproved, models.EventPairingRevoked:
		if has("channel", "sender") {
			verb := map[string]string{
				models.EventPairingRequested: "requested pairing",
				models.EventPairingApproved:  "was approved",
				models.EventPairingRevoked:   "was revoked",
			}[eventType]
			return fmt.Sprintf("%s on %s %s", str("sender"), str("channel"), verb)
		}
	}
	return eventType
}

// EventLog defines the interface for writing and reading events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog implements EventLog using append-only JSONL files.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates a new EventLog backed by a JSONL file at the given path.
func NewJSONLEventLog(path string) (EventLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{
		path: path,
		file: f,
	}, nil
}

// Write appends a JSON-encoded event followed by a newline to the log file.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read opens the log file for reading, scans line by line, decodes each event,
// and returns those matching the given filter.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // skip malformed lines
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[len(events)-filter.Limit:]
	}
	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// matchesEventFilter checks whether an event satisfies all filter criteria.
func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	if filter.Entity != "" && !referencesEntity(event, filter.Entity) {
		return false
	}
	return true
}

func referencesEntity(event Event, id string) bool {
	for _, key := range []string{"entry_id", "conversation", "worker", "from", "to"} {
		if v, ok := event.Data[key].(string); ok && v == id {
			return true
		}
	}
	return false
}
