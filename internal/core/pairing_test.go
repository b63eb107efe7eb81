package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
	"pgregory.net/rapid"
)

func newTestGate(t *testing.T) (PairingGate, *recordingEvents) {
	t.Helper()
	events := &recordingEvents{}
	return NewPairingGate(storage.NewPairingStore(t.TempDir()), events), events
}

func TestPairingGate_UnknownSenderGetsCode(t *testing.T) {
	gate, events := newTestGate(t)

	res, err := gate.EnsurePaired("cli", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Approved() || !res.New {
		t.Fatalf("expected a new pending record, got %+v", res)
	}
	if len(res.Code) != pairingCodeLength {
		t.Fatalf("code %q has length %d", res.Code, len(res.Code))
	}
	for _, c := range res.Code {
		if !strings.ContainsRune(pairingAlphabet, c) {
			t.Fatalf("code %q uses %q outside the alphabet", res.Code, c)
		}
	}
	if events.count("pairing.requested") != 1 {
		t.Fatal("expected pairing.requested event")
	}

	again, err := gate.EnsurePaired("cli", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.New || again.Code != res.Code {
		t.Fatalf("expected the same pending code, got %+v", again)
	}
	if events.count("pairing.requested") != 1 {
		t.Fatal("repeated checks must not log another request")
	}
}

func TestPairingGate_RequiresChannelAndSender(t *testing.T) {
	gate, _ := newTestGate(t)
	if _, err := gate.EnsurePaired("", "alice"); err == nil {
		t.Fatal("expected error for empty channel")
	}
	if _, err := gate.EnsurePaired("cli", ""); err == nil {
		t.Fatal("expected error for empty sender")
	}
}

func TestPairingGate_ChannelNamesWithoutColon(t *testing.T) {
	gate, _ := newTestGate(t)
	// "team:chat"+"bob" and "team"+"chat:bob" would share one key.
	if _, err := gate.EnsurePaired("team:chat", "bob"); err == nil {
		t.Fatal("expected error for a channel containing ':'")
	}
	if err := gate.Revoke("team:chat", "bob"); err == nil {
		t.Fatal("expected error for a channel containing ':'")
	}

	res, err := gate.EnsurePaired("team", "chat:bob")
	if err != nil {
		t.Fatalf("a sender may contain ':': %v", err)
	}
	if res.Approved() || res.Code == "" {
		t.Fatalf("expected a pending record, got %+v", res)
	}
	pending, _ := gate.ListPending()
	if len(pending) != 1 || pending[0].Channel != "team" || pending[0].Sender != "chat:bob" {
		t.Fatalf("unexpected records: %+v", pending)
	}
}

func TestPairingGate_Approve(t *testing.T) {
	gate, events := newTestGate(t)
	res, _ := gate.EnsurePaired("file", "bob")

	rec, err := gate.Approve(strings.ToLower(res.Code) + " ")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rec.Channel != "file" || rec.Sender != "bob" || rec.Status != models.PairingApproved {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ApprovedAt == nil {
		t.Fatal("expected approved_at")
	}
	if events.count("pairing.approved") != 1 {
		t.Fatal("expected pairing.approved event")
	}

	check, err := gate.EnsurePaired("file", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !check.Approved() || check.Code != "" {
		t.Fatalf("expected approved without code, got %+v", check)
	}

	if _, err := gate.Approve(res.Code); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("re-approving a used code: expected ErrUnknownCode, got %v", err)
	}
}

func TestPairingGate_ApproveUnknownCode(t *testing.T) {
	gate, events := newTestGate(t)
	res, err := gate.EnsurePaired("cli", "alice")
	if err != nil {
		t.Fatal(err)
	}
	before, err := gate.ListPending()
	if err != nil {
		t.Fatal(err)
	}

	wrong := "ZZZZZZZZ"
	if res.Code == wrong {
		wrong = "YYYYYYYY"
	}
	if _, err := gate.Approve(wrong); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got %v", err)
	}

	after, err := gate.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || len(before) != 1 {
		t.Fatalf("expected the one pending record kept, got %+v", after)
	}
	if after[0].Code != before[0].Code || after[0].Status != models.PairingPending || !after[0].RequestedAt.Equal(before[0].RequestedAt) {
		t.Fatalf("pending record changed: before %+v, after %+v", before[0], after[0])
	}
	approved, err := gate.ListApproved()
	if err != nil {
		t.Fatal(err)
	}
	if len(approved) != 0 {
		t.Fatalf("a wrong code must approve nobody, got %+v", approved)
	}
	if events.count("pairing.approved") != 0 {
		t.Fatal("unexpected pairing.approved event")
	}

	check, _ := gate.EnsurePaired("cli", "alice")
	if check.Approved() || check.Code != res.Code {
		t.Fatalf("sender must still hold the original code, got %+v", check)
	}
}

func TestPairingGate_PairingIsPerChannel(t *testing.T) {
	gate, _ := newTestGate(t)
	approve(t, gate, "cli", "alice")

	res, err := gate.EnsurePaired("file", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Approved() {
		t.Fatal("approval on one channel must not carry over to another")
	}
}

func TestPairingGate_Revoke(t *testing.T) {
	gate, events := newTestGate(t)
	approve(t, gate, "cli", "alice")

	if err := gate.Revoke("cli", "alice"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if events.count("pairing.revoked") != 1 {
		t.Fatal("expected pairing.revoked event")
	}
	res, _ := gate.EnsurePaired("cli", "alice")
	if res.Approved() || !res.New {
		t.Fatalf("expected a fresh pending record after revoke, got %+v", res)
	}

	if err := gate.Revoke("cli", "nobody"); err == nil {
		t.Fatal("expected error revoking an unknown sender")
	}
}

func TestPairingGate_Lists(t *testing.T) {
	store := storage.NewPairingStore(t.TempDir())
	g := NewPairingGate(store, nil).(*pairingGate)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for _, sender := range []string{"carol", "alice", "bob"} {
		if _, err := g.EnsurePaired("cli", sender); err != nil {
			t.Fatal(err)
		}
	}
	approve(t, g, "cli", "alice")

	pending, err := g.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].Sender != "carol" || pending[1].Sender != "bob" {
		t.Fatalf("expected carol then bob by request time, got %+v", pending)
	}
	approved, err := g.ListApproved()
	if err != nil {
		t.Fatal(err)
	}
	if len(approved) != 1 || approved[0].Sender != "alice" {
		t.Fatalf("unexpected approved list: %+v", approved)
	}
}

// Pending codes stay unique across any number of pending senders.
func TestProperty_PendingCodesUnique(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		state := storage.PairingState{}
		n := rapid.IntRange(1, 60).Draw(rt, "senders")
		for i := 0; i < n; i++ {
			code, err := uniquePairingCode(state)
			if err != nil {
				rt.Fatal(err)
			}
			for _, rec := range state {
				if rec.Code == code {
					rt.Fatalf("code %s reused", code)
				}
			}
			state[models.PairingKey("cli", code)] = models.PairingRecord{Status: models.PairingPending, Code: code}
		}
	})
}
