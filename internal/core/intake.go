package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// Message is an inbound message from a channel adapter.
type Message struct {
	Channel     string
	Sender      string
	Text        string
	Attachments []string
}

// Admission is the result of offering a message to the queue. When the
// sender is not yet paired Entry is nil and Pairing carries the code the
// adapter should send back.
type Admission struct {
	Entry   *models.QueueEntry
	Pairing models.PairingResult
}

// Intake admits external messages: the pairing gate runs first and only
// approved senders reach the queue.
type Intake struct {
	gate   PairingGate
	queue  storage.QueueStore
	events EventLogger
	now    func() time.Time
}

// NewIntake creates an Intake. events may be nil.
func NewIntake(gate PairingGate, queue storage.QueueStore, events EventLogger) *Intake {
	return &Intake{gate: gate, queue: queue, events: eventsOrNop(events), now: time.Now}
}

// Admit checks the sender's pairing and enqueues the message when approved.
func (in *Intake) Admit(msg Message) (Admission, error) {
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return Admission{}, fmt.Errorf("admitting message: empty message")
	}

	pairing, err := in.gate.EnsurePaired(msg.Channel, msg.Sender)
	if err != nil {
		return Admission{}, fmt.Errorf("admitting message: %w", err)
	}
	if !pairing.Approved() {
		return Admission{Pairing: pairing}, nil
	}

	entry, err := in.queue.Enqueue(models.QueueEntry{
		Channel:     msg.Channel,
		Sender:      msg.Sender,
		Text:        msg.Text,
		Attachments: msg.Attachments,
		CreatedAt:   in.now().UTC(),
	})
	if err != nil {
		return Admission{}, fmt.Errorf("admitting message: %w", err)
	}
	_ = in.events.LogEvent(models.EventMessageAdmitted, map[string]any{
		"entry_id": entry.ID,
		"channel":  entry.Channel,
		"sender":   entry.Sender,
	})
	return Admission{Entry: &entry, Pairing: pairing}, nil
}
