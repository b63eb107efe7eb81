package models

import "time"

// ConversationStatus is the lifecycle state of a team conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationTruncated ConversationStatus = "truncated"
)

// Turn is one worker reply inside a conversation.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
	// EntryID is the queue entry the turn answered. A recovered entry that is
	// processed again replaces its turn instead of adding one.
	EntryID string `json:"entry_id,omitempty"`
	// Handoffs is the number of branches the turn opened.
	Handoffs int `json:"handoffs,omitempty"`
}

// Conversation is the persisted state of a handoff chain. Pending counts the
// handoff entries queued for this conversation that have not produced a turn yet.
type Conversation struct {
	ID       string             `json:"id"`
	TeamID   string             `json:"team_id"`
	Status   ConversationStatus `json:"status"`
	Turns    []Turn             `json:"turns"`
	Pending  int                `json:"pending"`
	Channel  string             `json:"channel,omitempty"`
	Sender   string             `json:"sender,omitempty"`
	Origin   string             `json:"origin,omitempty"` // text of the message that opened the chain
	Started  time.Time          `json:"started_at"`
	Finished *time.Time         `json:"finished_at,omitempty"`
}

// TurnFor returns the index of the turn that answered entryID, or -1.
func (c *Conversation) TurnFor(entryID string) int {
	if entryID == "" {
		return -1
	}
	for i, t := range c.Turns {
		if t.EntryID == entryID {
			return i
		}
	}
	return -1
}

// Closed reports whether the conversation no longer accepts handoffs.
func (c *Conversation) Closed() bool {
	return c.Status != ConversationActive
}
