package models

import "time"

// PairingStatus is the approval state of a (channel, sender) pair.
type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingApproved PairingStatus = "approved"
)

// PairingRecord is one allowlist entry keyed by "channel:sender".
type PairingRecord struct {
	Channel     string        `json:"channel"`
	Sender      string        `json:"sender"`
	Status      PairingStatus `json:"status"`
	Code        string        `json:"code"`
	RequestedAt time.Time     `json:"requested_at"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
}

// PairingKey builds the map key for a (channel, sender) pair. Channel names
// never contain ':', so the key is unambiguous.
func PairingKey(channel, sender string) string {
	return channel + ":" + sender
}

// PairingResult is the outcome of a gate check.
type PairingResult struct {
	Status PairingStatus
	Code   string // empty when approved
	New    bool   // a pending record was created by this check
}

// Approved reports whether the sender may enqueue messages.
func (r PairingResult) Approved() bool {
	return r.Status == PairingApproved
}
