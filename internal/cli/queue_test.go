package cli

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

func TestQueueCmds_NilQueue(t *testing.T) {
	orig := Queue
	defer func() { Queue = orig }()
	Queue = nil

	for _, cmd := range []struct {
		name string
		run  func() error
	}{
		{"status", func() error { return queueStatusCmd.RunE(queueStatusCmd, nil) }},
		{"list", func() error { return queueListCmd.RunE(queueListCmd, nil) }},
		{"recover", func() error { return queueRecoverCmd.RunE(queueRecoverCmd, nil) }},
		{"ack", func() error { return queueAckCmd.RunE(queueAckCmd, []string{"x"}) }},
	} {
		t.Run(cmd.name, func(t *testing.T) {
			err := cmd.run()
			if err == nil || !strings.Contains(err.Error(), "queue not initialized") {
				t.Errorf("expected not initialized error, got %v", err)
			}
		})
	}
}

func TestQueueStatusCmd(t *testing.T) {
	useTestHome(t)
	if _, err := Queue.Enqueue(models.QueueEntry{Channel: "cli", Sender: "carol", Text: "a"}); err != nil {
		t.Fatal(err)
	}
	enqueueReply(t, "cli", "carol", "coder", "b")
	if err := StatusStore.Save([]models.WorkerStatus{
		{Worker: "coder", State: models.WorkerInvoking, Queued: 2, Processed: 5, Failed: 1, Current: "e9", UpdatedAt: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	output := captureStdout(t, func() {
		if err := queueStatusCmd.RunE(queueStatusCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	for _, want := range []string{"incoming:", "outgoing:", "WORKER", "coder", "invoking", "e9"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "quarantined:") {
		t.Errorf("quarantine line should be hidden when empty:\n%s", output)
	}
}

func TestQueueListCmd(t *testing.T) {
	useTestHome(t)
	origStage, origJSON := queueListStage, queueListJSON
	defer func() { queueListStage, queueListJSON = origStage, origJSON }()

	entry, err := Queue.Enqueue(models.QueueEntry{Channel: "cli", Sender: "carol", Text: "@coder  fix\nthe build"})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("table", func(t *testing.T) {
		queueListStage, queueListJSON = "incoming", false
		output := captureStdout(t, func() {
			if err := queueListCmd.RunE(queueListCmd, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
		if !strings.Contains(output, entry.ID) || !strings.Contains(output, "@coder fix the build") {
			t.Errorf("unexpected output:\n%s", output)
		}
	})

	t.Run("json", func(t *testing.T) {
		queueListStage, queueListJSON = "incoming", true
		output := captureStdout(t, func() {
			if err := queueListCmd.RunE(queueListCmd, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
		var entries []models.QueueEntry
		if err := json.Unmarshal([]byte(output), &entries); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, output)
		}
		if len(entries) != 1 || entries[0].ID != entry.ID {
			t.Errorf("unexpected entries: %+v", entries)
		}
	})

	t.Run("empty stage", func(t *testing.T) {
		queueListStage, queueListJSON = "processing", false
		output := captureStdout(t, func() {
			if err := queueListCmd.RunE(queueListCmd, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
		if !strings.Contains(output, "No entries in processing") {
			t.Errorf("unexpected output: %q", output)
		}
	})

	t.Run("unknown stage", func(t *testing.T) {
		queueListStage, queueListJSON = "limbo", false
		err := queueListCmd.RunE(queueListCmd, nil)
		if err == nil || !strings.Contains(err.Error(), `unknown stage "limbo"`) {
			t.Errorf("expected unknown stage error, got %v", err)
		}
	})
}

func TestQueueRecoverCmd(t *testing.T) {
	useTestHome(t)
	entry, err := Queue.Enqueue(models.QueueEntry{Channel: "cli", Sender: "carol", Text: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Queue.Claim(entry.ID); err != nil {
		t.Fatal(err)
	}

	output := captureStdout(t, func() {
		if err := queueRecoverCmd.RunE(queueRecoverCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	if !strings.Contains(output, "Recovered 1 entry.") {
		t.Errorf("unexpected output: %q", output)
	}
	stats, err := Queue.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Incoming != 1 || stats.Processing != 0 {
		t.Errorf("entry should be back in incoming: %+v", stats)
	}
	events := Events.(*recordingEvents)
	if len(events.types) == 0 || events.types[len(events.types)-1] != "orphan.recovered" {
		t.Errorf("expected orphan.recovered event, got %v", events.types)
	}
}

func TestQueueAckCmd(t *testing.T) {
	useTestHome(t)
	reply := enqueueReply(t, "cli", "carol", "coder", "done")

	output := captureStdout(t, func() {
		if err := queueAckCmd.RunE(queueAckCmd, []string{reply.ID}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	if !strings.Contains(output, "Acknowledged "+reply.ID) {
		t.Errorf("unexpected output: %q", output)
	}

	err := queueAckCmd.RunE(queueAckCmd, []string{reply.ID})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("second ack should fail with not found, got %v", err)
	}
}
