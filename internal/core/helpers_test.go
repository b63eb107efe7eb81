package core

import (
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// testSettings configures two teams and a standalone default worker:
//
//	dev:  coder (leader), reviewer
//	docs: writer (leader), designer
//	assistant: default worker, no team
func testSettings() *models.Settings {
	workers := map[string]models.WorkerConfig{}
	for _, id := range []string{"assistant", "coder", "reviewer", "writer", "designer"} {
		workers[id] = models.WorkerConfig{ID: id, Name: id, Provider: models.ProviderAnthropic}
	}
	return &models.Settings{
		DefaultWorker: "assistant",
		Workers:       workers,
		Teams: map[string]models.TeamConfig{
			"dev":  {ID: "dev", Name: "Development", Members: []string{"coder", "reviewer"}, Leader: "coder"},
			"docs": {ID: "docs", Name: "Documentation", Members: []string{"writer", "designer"}, Leader: "writer"},
		},
		Queue: models.QueueSettings{
			PollInterval:      20 * time.Millisecond,
			InvocationTimeout: time.Minute,
		},
		Conversation: models.ConversationSettings{
			MaxTurns:              DefaultMaxConversationTurns,
			LongResponseThreshold: DefaultLongResponseThreshold,
		},
	}
}

func newTestQueue(t *testing.T) storage.QueueStore {
	t.Helper()
	q, err := storage.NewQueueStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewQueueStore: %v", err)
	}
	return q
}

// recordingEvents collects logged event types.
type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	typ  string
	data map[string]any
}

func (r *recordingEvents) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{typ: eventType, data: data})
	return nil
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.typ == eventType {
			n++
		}
	}
	return n
}

func (r *recordingEvents) first(eventType string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.typ == eventType {
			return e, true
		}
	}
	return recordedEvent{}, false
}

// approve pairs sender on channel through gate.
func approve(t *testing.T, gate PairingGate, channel, sender string) {
	t.Helper()
	res, err := gate.EnsurePaired(channel, sender)
	if err != nil {
		t.Fatalf("EnsurePaired: %v", err)
	}
	if res.Approved() {
		return
	}
	if _, err := gate.Approve(res.Code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}
