package observability

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

func newTestLog(t *testing.T) EventLog {
	t.Helper()
	log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func writeAll(t *testing.T, log EventLog, events []Event) {
	t.Helper()
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
}

func TestEventLog_WriteAndRead(t *testing.T) {
	log := newTestLog(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	writeAll(t, log, []Event{
		{Time: now, Level: "INFO", Type: "message.admitted", Message: "message admitted", Data: map[string]any{"entry_id": "e1"}},
		{Time: now.Add(time.Second), Level: "WARN", Type: "message.unknown_target", Message: "no such worker", Data: map[string]any{"entry_id": "e2"}},
	})

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result))
	}
	if result[0].Type != "message.admitted" || result[0].Message != "message admitted" {
		t.Errorf("unexpected first event: %+v", result[0])
	}
	if result[1].Level != "WARN" {
		t.Errorf("expected level WARN, got %s", result[1].Level)
	}
	if result[0].Data["entry_id"] != "e1" {
		t.Errorf("expected entry_id e1, got %v", result[0].Data["entry_id"])
	}
}

func TestEventLog_Filters(t *testing.T) {
	log := newTestLog(t)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	writeAll(t, log, []Event{
		{Time: base, Level: "INFO", Type: "message.routed", Message: "first", Data: map[string]any{"entry_id": "e1", "worker": "coder"}},
		{Time: base.Add(time.Hour), Level: "INFO", Type: "turn.completed", Message: "second", Data: map[string]any{"entry_id": "e1", "worker": "coder", "conversation": "c1"}},
		{Time: base.Add(2 * time.Hour), Level: "INFO", Type: "handoff.enqueued", Message: "third", Data: map[string]any{"entry_id": "e2", "conversation": "c1", "from": "coder", "to": "review"}},
		{Time: base.Add(3 * time.Hour), Level: "ERROR", Type: "invocation.failed", Message: "fourth", Data: map[string]any{"entry_id": "e2", "worker": "review"}},
	})

	since := base.Add(30 * time.Minute)
	until := base.Add(2*time.Hour + 30*time.Minute)

	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{"all", EventFilter{}, []string{"first", "second", "third", "fourth"}},
		{"by type", EventFilter{Type: "turn.completed"}, []string{"second"}},
		{"by level", EventFilter{Level: "ERROR"}, []string{"fourth"}},
		{"by time range", EventFilter{Since: &since, Until: &until}, []string{"second", "third"}},
		{"by entry", EventFilter{Entity: "e1"}, []string{"first", "second"}},
		{"by conversation", EventFilter{Entity: "c1"}, []string{"second", "third"}},
		{"by worker in from or to", EventFilter{Entity: "review"}, []string{"third", "fourth"}},
		{"limit keeps newest", EventFilter{Limit: 2}, []string{"third", "fourth"}},
		{"entity and limit", EventFilter{Entity: "coder", Limit: 1}, []string{"third"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := log.Read(tt.filter)
			if err != nil {
				t.Fatalf("reading events: %v", err)
			}
			if len(result) != len(tt.want) {
				t.Fatalf("expected %d events, got %d", len(tt.want), len(result))
			}
			for i, msg := range tt.want {
				if result[i].Message != msg {
					t.Errorf("event %d: expected %q, got %q", i, msg, result[i].Message)
				}
			}
		})
	}
}

func TestEventLog_EmptyLog(t *testing.T) {
	log := newTestLog(t)

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading empty log: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected 0 events from empty log, got %d", len(result))
	}
}

func TestEventLog_ConcurrentWrites(t *testing.T) {
	log := newTestLog(t)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := log.Write(Event{
					Time:    time.Now().UTC(),
					Level:   "INFO",
					Type:    "turn.completed",
					Message: "turn",
					Data:    map[string]any{"writer": id, "index": i},
				})
				if err != nil {
					t.Errorf("concurrent write error: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events after concurrent writes: %v", err)
	}
	if len(result) != writers*perWriter {
		t.Errorf("expected %d events, got %d", writers*perWriter, len(result))
	}
}

func TestLevelFor(t *testing.T) {
	tests := map[string]string{
		"invocation.failed":      "ERROR",
		"entry.quarantined":      "ERROR",
		"message.unknown_target": "WARN",
		"conversation.truncated": "WARN",
		"orphan.recovered":       "WARN",
		"turn.completed":         "INFO",
		"pairing.approved":       "INFO",
	}
	for eventType, want := range tests {
		t.Run(eventType, func(t *testing.T) {
			if got := LevelFor(eventType); got != want {
				t.Errorf("LevelFor(%q) = %s, want %s", eventType, got, want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	before := time.Now().UTC()
	e := NewEvent(models.EventInvocationFailed, map[string]any{"entry_id": "e1", "worker": "coder", "error": "timed out"})
	if e.Type != models.EventInvocationFailed || e.Level != "ERROR" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Message != "@coder failed: timed out" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Time.Before(before) || e.Time.Location() != time.UTC {
		t.Errorf("expected a current UTC time, got %v", e.Time)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		eventType string
		data      map[string]any
		want      string
	}{
		{models.EventMessageAdmitted, map[string]any{"entry_id": "e1", "channel": "cli", "sender": "alice"}, "admitted e1 from alice on cli"},
		{models.EventMessageRouted, map[string]any{"entry_id": "e1", "worker": "coder", "team": "dev"}, "routed e1 to @coder"},
		{models.EventMessageUnknownTarget, map[string]any{"entry_id": "e1", "error": "no worker @ghost"}, "could not route e1: no worker @ghost"},
		{models.EventTurnCompleted, map[string]any{"worker": "coder", "handoffs": 2}, "@coder answered with 2 handoff(s)"},
		{models.EventHandoffEnqueued, map[string]any{"from": "coder", "to": "reviewer"}, "@coder handed off to @reviewer"},
		{models.EventConversationDone, map[string]any{"conversation": "c1", "turns": 3}, "conversation c1 completed after 3 turn(s)"},
		{models.EventConversationCapped, map[string]any{"conversation": "c1", "turns": 50}, "conversation c1 truncated after 50 turn(s)"},
		{models.EventEntryQuarantined, map[string]any{"entry_id": "bad"}, "quarantined unreadable entry bad"},
		{models.EventOrphanRecovered, map[string]any{"entry_id": "e7"}, "requeued orphaned entry e7"},
		{models.EventPairingRequested, map[string]any{"channel": "telegram", "sender": "bob"}, "bob on telegram requested pairing"},
		{models.EventPairingRevoked, map[string]any{"channel": "telegram", "sender": "bob"}, "bob on telegram was revoked"},
		{models.EventHandoffEnqueued, map[string]any{"from": "coder"}, models.EventHandoffEnqueued},
		{"custom.event", map[string]any{"entry_id": "e1"}, "custom.event"},
		{models.EventOrphanRecovered, nil, models.EventOrphanRecovered},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Describe(tt.eventType, tt.data); got != tt.want {
				t.Errorf("Describe(%s) = %q, want %q", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestDescribe_NumbersReadBackFromTheLog(t *testing.T) {
	log := newTestLog(t)
	writeAll(t, log, []Event{NewEvent(models.EventTurnCompleted, map[string]any{"worker": "coder", "handoffs": 1})})

	events, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].Data["handoffs"].(float64); !ok {
		raw, _ := json.Marshal(events[0].Data)
		t.Fatalf("expected JSON numbers, got %s", raw)
	}
	if got := Describe(events[0].Type, events[0].Data); got != "@coder answered with 1 handoff(s)" {
		t.Errorf("got %q", got)
	}
}
