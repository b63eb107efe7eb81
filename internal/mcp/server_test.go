package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/internal/observability"
	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

type testEnv struct {
	srv         *Server
	queue       storage.QueueStore
	gate        core.PairingGate
	transcripts storage.TranscriptStore
	events      observability.EventLog
}

func newTestEnv(t *testing.T, withMetrics bool) *testEnv {
	t.Helper()
	dir := t.TempDir()

	queue, err := storage.NewQueueStore(dir)
	if err != nil {
		t.Fatalf("creating queue store: %v", err)
	}
	gate := core.NewPairingGate(storage.NewPairingStore(dir), nil)
	env := &testEnv{
		queue:       queue,
		gate:        gate,
		transcripts: storage.NewTranscriptStore(dir),
	}
	deps := Deps{
		Intake:      core.NewIntake(gate, queue, nil),
		Queue:       queue,
		Pairing:     gate,
		Transcripts: env.transcripts,
	}
	if withMetrics {
		el, err := observability.NewJSONLEventLog(filepath.Join(dir, "events.jsonl"))
		if err != nil {
			t.Fatalf("creating event log: %v", err)
		}
		t.Cleanup(func() { _ = el.Close() })
		env.events = el
		deps.MetricsCalc = observability.NewMetricsCalculator(el)
	}
	env.srv = NewServer(deps, "test")
	return env
}

// callTool connects an in-memory client to the server and calls one tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := gomcp.NewInMemoryTransports()

	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

// decode reads the structured result of a tool call, falling back to the
// text content.
func decode(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	if result.StructuredContent != nil {
		data, _ := json.Marshal(result.StructuredContent)
		if err := json.Unmarshal(data, out); err == nil {
			return
		}
	}
	if err := json.Unmarshal([]byte(extractText(result)), out); err != nil {
		t.Fatalf("decoding tool output: %v (text was: %s)", err, extractText(result))
	}
}

func TestSendMessage_UnpairedSenderGetsCode(t *testing.T) {
	env := newTestEnv(t, false)

	result := callTool(t, env.srv, "send_message", map[string]any{"sender": "alice", "text": "@coder hello"})
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}

	var out sendMessageOutput
	decode(t, result, &out)
	if out.Paired || out.EntryID != "" {
		t.Errorf("expected unpaired result, got %+v", out)
	}
	if len(out.PairingCode) != 8 {
		t.Errorf("expected an 8 character pairing code, got %q", out.PairingCode)
	}

	stats, err := env.queue.Stats()
	if err != nil {
		t.Fatalf("reading stats: %v", err)
	}
	if stats.Incoming != 0 {
		t.Errorf("expected nothing enqueued for an unpaired sender, got %d", stats.Incoming)
	}
}

func TestSendMessage_ApprovedSenderEnqueues(t *testing.T) {
	env := newTestEnv(t, false)

	res, err := env.gate.EnsurePaired(Channel, "alice")
	if err != nil {
		t.Fatalf("requesting pairing: %v", err)
	}
	approve := callTool(t, env.srv, "approve_pairing", map[string]any{"code": res.Code})
	if approve.IsError {
		t.Fatalf("approving: %s", extractText(approve))
	}

	result := callTool(t, env.srv, "send_message", map[string]any{"sender": "alice", "text": "@coder hello"})
	var out sendMessageOutput
	decode(t, result, &out)
	if !out.Paired || out.EntryID == "" {
		t.Fatalf("expected queued message, got %+v", out)
	}

	entry, err := env.queue.Load(models.StageIncoming, out.EntryID)
	if err != nil {
		t.Fatalf("loading entry: %v", err)
	}
	if entry.Channel != Channel || entry.Text != "@coder hello" {
		t.Errorf("unexpected entry %+v", entry)
	}

	status := callTool(t, env.srv, "queue_status", map[string]any{})
	var stats queueStatusOutput
	decode(t, status, &stats)
	if stats.Incoming != 1 {
		t.Errorf("expected 1 incoming, got %d", stats.Incoming)
	}
}

func TestApprovePairing_UnknownCode(t *testing.T) {
	env := newTestEnv(t, false)
	if _, err := env.gate.EnsurePaired(Channel, "bob"); err != nil {
		t.Fatalf("requesting pairing: %v", err)
	}

	result := callTool(t, env.srv, "approve_pairing", map[string]any{"code": "ZZZZZZZZ"})
	if !result.IsError {
		t.Fatal("expected error for unknown code")
	}

	pending, err := env.gate.ListPending()
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected pending record to survive a wrong code, got %d", len(pending))
	}
}

func TestListPairings(t *testing.T) {
	env := newTestEnv(t, false)
	first, _ := env.gate.EnsurePaired("file", "alice")
	if _, err := env.gate.EnsurePaired("file", "bob"); err != nil {
		t.Fatalf("requesting pairing: %v", err)
	}
	if _, err := env.gate.Approve(first.Code); err != nil {
		t.Fatalf("approving: %v", err)
	}

	tests := []struct {
		status string
		want   int
	}{
		{"", 2},
		{"pending", 1},
		{"approved", 1},
	}
	for _, tt := range tests {
		t.Run("status="+tt.status, func(t *testing.T) {
			var out listPairingsOutput
			decode(t, callTool(t, env.srv, "list_pairings", map[string]any{"status": tt.status}), &out)
			if out.Count != tt.want {
				t.Errorf("expected %d pairings, got %d", tt.want, out.Count)
			}
		})
	}

	if !callTool(t, env.srv, "list_pairings", map[string]any{"status": "revoked"}).IsError {
		t.Error("expected error for an invalid status filter")
	}
}

func TestGetConversation(t *testing.T) {
	env := newTestEnv(t, false)
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	conv := &models.Conversation{
		ID:      "conv-1",
		TeamID:  "dev",
		Status:  models.ConversationCompleted,
		Started: started,
		Turns: []models.Turn{
			{Speaker: "coder", Text: "[@review: verify fix]", At: started},
			{Speaker: "review", Text: "looks good", At: started.Add(time.Minute)},
		},
	}
	if err := env.transcripts.Save(conv); err != nil {
		t.Fatalf("saving conversation: %v", err)
	}

	var out conversationOutput
	decode(t, callTool(t, env.srv, "get_conversation", map[string]any{"conversation_id": "conv-1"}), &out)
	if out.Status != "completed" || len(out.Turns) != 2 || out.Turns[1].Speaker != "review" {
		t.Errorf("unexpected conversation %+v", out)
	}

	if !callTool(t, env.srv, "get_conversation", map[string]any{"conversation_id": "missing"}).IsError {
		t.Error("expected error for a missing conversation")
	}
}

func TestGetMetrics(t *testing.T) {
	env := newTestEnv(t, true)
	now := time.Now().UTC()
	for _, typ := range []string{"message.admitted", "turn.completed", "turn.completed"} {
		if err := env.events.Write(observability.Event{Time: now, Type: typ, Data: map[string]any{"worker": "coder"}}); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	var out observability.Metrics
	decode(t, callTool(t, env.srv, "get_metrics", map[string]any{"since": "1d"}), &out)
	if out.TurnsCompleted != 2 || out.MessagesAdmitted != 1 {
		t.Errorf("unexpected metrics %+v", out)
	}
}

func TestGetMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	if !callTool(t, env.srv, "get_metrics", map[string]any{}).IsError {
		t.Fatal("expected error when metrics are disabled")
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"7d", false},
		{"24h", false},
		{"30d", false},
		{"", true},
		{"d", true},
		{"7w", true},
		{"xd", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseSince(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSince(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
