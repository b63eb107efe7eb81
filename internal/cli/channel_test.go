package cli

import (
	"strings"
	"testing"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// fakeChannelAdapter implements core.ChannelAdapter for testing.
type fakeChannelAdapter struct {
	name      string
	chanType  models.ChannelType
	items     []models.ChannelItem
	fetchErr  error
	sendErr   error
	sentItems []models.OutputItem
	marked    map[string]models.ChannelItemStatus
}

func (f *fakeChannelAdapter) Name() string             { return f.name }
func (f *fakeChannelAdapter) Type() models.ChannelType { return f.chanType }

func (f *fakeChannelAdapter) Fetch() ([]models.ChannelItem, error) {
	items := f.items
	f.items = nil
	return items, f.fetchErr
}

func (f *fakeChannelAdapter) Send(item models.OutputItem) error {
	f.sentItems = append(f.sentItems, item)
	return f.sendErr
}

func (f *fakeChannelAdapter) MarkProcessed(id string, status models.ChannelItemStatus) error {
	if f.marked == nil {
		f.marked = make(map[string]models.ChannelItemStatus)
	}
	f.marked[id] = status
	return nil
}

// --- channelListCmd tests ---

func TestChannelListCmd_NilRegistry(t *testing.T) {
	origReg := ChannelReg
	defer func() { ChannelReg = origReg }()
	ChannelReg = nil

	err := channelListCmd.RunE(channelListCmd, nil)
	if err == nil {
		t.Fatal("expected error when ChannelReg is nil")
	}
	if !strings.Contains(err.Error(), "channel registry not initialized") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestChannelListCmd_NoAdapters(t *testing.T) {
	useTestHome(t)

	output := captureStdout(t, func() {
		if err := channelListCmd.RunE(channelListCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	if !strings.Contains(output, "No channel adapters registered") {
		t.Errorf("expected 'No channel adapters registered' message, got: %q", output)
	}
}

func TestChannelListCmd_MultipleAdapters(t *testing.T) {
	useTestHome(t)
	if err := ChannelReg.Register(&fakeChannelAdapter{name: "inbox", chanType: models.ChannelFile}); err != nil {
		t.Fatal(err)
	}
	if err := ChannelReg.Register(&fakeChannelAdapter{name: "terminal", chanType: models.ChannelCLI}); err != nil {
		t.Fatal(err)
	}

	output := captureStdout(t, func() {
		if err := channelListCmd.RunE(channelListCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	if !strings.Contains(output, "NAME") || !strings.Contains(output, "TYPE") {
		t.Errorf("expected table header with NAME and TYPE, got: %q", output)
	}
	for _, want := range []string{"inbox", "terminal", "file", "cli"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %q", want, output)
		}
	}
}

// --- channelPumpCmd tests ---

func TestChannelPumpCmd_NilRegistry(t *testing.T) {
	origReg := ChannelReg
	defer func() { ChannelReg = origReg }()
	ChannelReg = nil

	err := channelPumpCmd.RunE(channelPumpCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}

func TestChannelPumpCmd_AdmitsAndDelivers(t *testing.T) {
	useTestHome(t)
	pair(t, "inbox", "alice")

	adapter := &fakeChannelAdapter{
		name:     "inbox",
		chanType: models.ChannelFile,
		items: []models.ChannelItem{
			{ID: "m1", From: "alice", Content: "@coder hello"},
			{ID: "m2", From: "mallory", Content: "let me in"},
		},
	}
	if err := ChannelReg.Register(adapter); err != nil {
		t.Fatal(err)
	}
	reply := enqueueReply(t, "inbox", "alice", "coder", "done")

	output := captureStdout(t, func() {
		if err := channelPumpCmd.RunE(channelPumpCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	if !strings.Contains(output, "Admitted 1, awaiting pairing 1, delivered 1.") {
		t.Errorf("unexpected summary: %q", output)
	}
	if adapter.marked["m1"] != models.ChannelStatusAdmitted {
		t.Errorf("m1 marked %q, want admitted", adapter.marked["m1"])
	}
	if adapter.marked["m2"] != models.ChannelStatusUnpaired {
		t.Errorf("m2 marked %q, want unpaired", adapter.marked["m2"])
	}

	var sawCode, sawReply bool
	for _, item := range adapter.sentItems {
		if item.Destination == "mallory" && strings.Contains(item.Content, "agentq pairing approve") {
			sawCode = true
		}
		if item.InReplyTo == reply.ID && item.Content == "done" {
			sawReply = true
		}
	}
	if !sawCode {
		t.Error("unpaired sender should receive a pairing code")
	}
	if !sawReply {
		t.Error("outgoing reply should be delivered")
	}

	incoming, err := Queue.List(models.StageIncoming)
	if err != nil {
		t.Fatal(err)
	}
	if len(incoming) != 1 || incoming[0].Sender != "alice" {
		t.Errorf("expected alice's message in incoming, got %+v", incoming)
	}
	outgoing, err := Queue.List(models.StageOutgoing)
	if err != nil {
		t.Fatal(err)
	}
	if len(outgoing) != 0 {
		t.Errorf("delivered reply should be acked, %d left", len(outgoing))
	}
}
