package cli

import (
	"io"
	"os"
	"testing"

	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// captureStdout captures stdout output during fn execution.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		out, _ := io.ReadAll(r)
		done <- out
	}()

	fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done)
}

// recordingEvents collects logged event types.
type recordingEvents struct {
	types []string
}

func (r *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	r.types = append(r.types, eventType)
	return nil
}

// useTestHome wires real stores rooted at a temp directory into the package
// variables and restores the previous values when the test ends.
func useTestHome(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	origBase, origQueue, origTranscripts, origStatus := BasePath, Queue, Transcripts, StatusStore
	origGate, origIntake, origEvents, origReg := Gate, Intake, Events, ChannelReg
	t.Cleanup(func() {
		BasePath, Queue, Transcripts, StatusStore = origBase, origQueue, origTranscripts, origStatus
		Gate, Intake, Events, ChannelReg = origGate, origIntake, origEvents, origReg
	})

	queue, err := storage.NewQueueStore(base)
	if err != nil {
		t.Fatalf("NewQueueStore: %v", err)
	}
	BasePath = base
	Queue = queue
	Transcripts = storage.NewTranscriptStore(base)
	StatusStore = storage.NewStatusStore(base)
	Events = &recordingEvents{}
	Gate = core.NewPairingGate(storage.NewPairingStore(base), Events)
	Intake = core.NewIntake(Gate, Queue, Events)
	ChannelReg = core.NewChannelRegistry()
	return base
}

// pair approves sender on channel through the gate.
func pair(t *testing.T, channel, sender string) {
	t.Helper()
	res, err := Gate.EnsurePaired(channel, sender)
	if err != nil {
		t.Fatalf("EnsurePaired: %v", err)
	}
	if res.Approved() {
		return
	}
	if _, err := Gate.Approve(res.Code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}

// enqueueReply puts a completed entry for sender into outgoing.
func enqueueReply(t *testing.T, channel, sender, worker, text string) models.QueueEntry {
	t.Helper()
	entry, err := Queue.Enqueue(models.QueueEntry{Channel: channel, Sender: sender, Text: "question"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := Queue.Claim(entry.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := Queue.Complete(claimed.ID, models.Reply{Worker: worker, Text: text}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return claimed
}
