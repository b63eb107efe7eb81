package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

const (
	// pairingAlphabet omits 0/O and 1/I/L.
	pairingAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingCodeLength = 8
	maxCodeAttempts   = 32
)

// PairingGate decides whether an external sender may enqueue messages.
type PairingGate interface {
	// EnsurePaired reports the sender's status, creating a pending record
	// with a fresh approval code for unknown senders.
	EnsurePaired(channel, sender string) (models.PairingResult, error)

	// Approve flips the pending record holding code to approved.
	Approve(code string) (models.PairingRecord, error)

	// Revoke removes any record for the sender.
	Revoke(channel, sender string) error

	ListPending() ([]models.PairingRecord, error)
	ListApproved() ([]models.PairingRecord, error)
}

type pairingGate struct {
	store  storage.PairingStore
	events EventLogger
	now    func() time.Time
}

// NewPairingGate returns a PairingGate over store. events may be nil.
func NewPairingGate(store storage.PairingStore, events EventLogger) PairingGate {
	return &pairingGate{store: store, events: eventsOrNop(events), now: time.Now}
}

func (g *pairingGate) EnsurePaired(channel, sender string) (models.PairingResult, error) {
	if err := checkPairingKey(channel, sender); err != nil {
		return models.PairingResult{}, fmt.Errorf("checking pairing: %w", err)
	}

	// Approved senders are the common case and need no lock.
	if state, err := g.store.Load(); err == nil {
		if rec, ok := state[models.PairingKey(channel, sender)]; ok && rec.Status == models.PairingApproved {
			return models.PairingResult{Status: models.PairingApproved}, nil
		}
	}

	var result models.PairingResult
	err := g.store.Update(func(state storage.PairingState) error {
		key := models.PairingKey(channel, sender)
		if rec, ok := state[key]; ok {
			result = models.PairingResult{Status: rec.Status}
			if rec.Status == models.PairingPending {
				result.Code = rec.Code
			}
			return nil
		}

		code, err := uniquePairingCode(state)
		if err != nil {
			return err
		}
		state[key] = models.PairingRecord{
			Channel:     channel,
			Sender:      sender,
			Status:      models.PairingPending,
			Code:        code,
			RequestedAt: g.now().UTC(),
		}
		result = models.PairingResult{Status: models.PairingPending, Code: code, New: true}
		return nil
	})
	if err != nil {
		return models.PairingResult{}, fmt.Errorf("checking pairing for %s: %w", models.PairingKey(channel, sender), err)
	}

	if result.New {
		g.logEvent(models.EventPairingRequested, map[string]any{"channel": channel, "sender": sender})
	}
	return result, nil
}

func (g *pairingGate) Approve(code string) (models.PairingRecord, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var approved models.PairingRecord
	err := g.store.Update(func(state storage.PairingState) error {
		for key, rec := range state {
			if rec.Status != models.PairingPending || rec.Code != code {
				continue
			}
			now := g.now().UTC()
			rec.Status = models.PairingApproved
			rec.ApprovedAt = &now
			state[key] = rec
			approved = rec
			return nil
		}
		return ErrUnknownCode
	})
	if err != nil {
		return models.PairingRecord{}, fmt.Errorf("approving code %q: %w", code, err)
	}
	g.logEvent(models.EventPairingApproved, map[string]any{"channel": approved.Channel, "sender": approved.Sender})
	return approved, nil
}

func (g *pairingGate) Revoke(channel, sender string) error {
	if err := checkPairingKey(channel, sender); err != nil {
		return fmt.Errorf("revoking pairing: %w", err)
	}
	key := models.PairingKey(channel, sender)
	err := g.store.Update(func(state storage.PairingState) error {
		if _, ok := state[key]; !ok {
			return fmt.Errorf("no pairing record for %s", key)
		}
		delete(state, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoking pairing: %w", err)
	}
	g.logEvent(models.EventPairingRevoked, map[string]any{"channel": channel, "sender": sender})
	return nil
}

// checkPairingKey rejects pairs whose "channel:sender" key would be
// ambiguous.
func checkPairingKey(channel, sender string) error {
	if channel == "" || sender == "" {
		return fmt.Errorf("channel and sender are required")
	}
	if strings.Contains(channel, ":") {
		return fmt.Errorf("channel name %q must not contain ':'", channel)
	}
	return nil
}

func (g *pairingGate) ListPending() ([]models.PairingRecord, error) {
	return g.list(models.PairingPending)
}

func (g *pairingGate) ListApproved() ([]models.PairingRecord, error) {
	return g.list(models.PairingApproved)
}

func (g *pairingGate) list(status models.PairingStatus) ([]models.PairingRecord, error) {
	state, err := g.store.Load()
	if err != nil {
		return nil, fmt.Errorf("listing pairings: %w", err)
	}
	var recs []models.PairingRecord
	for _, rec := range state {
		if rec.Status == status {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].RequestedAt.Equal(recs[j].RequestedAt) {
			return recs[i].RequestedAt.Before(recs[j].RequestedAt)
		}
		return models.PairingKey(recs[i].Channel, recs[i].Sender) < models.PairingKey(recs[j].Channel, recs[j].Sender)
	})
	return recs, nil
}

func (g *pairingGate) logEvent(eventType string, data map[string]any) {
	_ = g.events.LogEvent(eventType, data)
}

// uniquePairingCode draws codes until one is not held by a pending record.
func uniquePairingCode(state storage.PairingState) (string, error) {
	inUse := make(map[string]bool, len(state))
	for _, rec := range state {
		if rec.Status == models.PairingPending {
			inUse[rec.Code] = true
		}
	}
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := randomPairingCode()
		if err != nil {
			return "", err
		}
		if !inUse[code] {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique pairing code after %d attempts", maxCodeAttempts)
}

func randomPairingCode() (string, error) {
	max := big.NewInt(int64(len(pairingAlphabet)))
	var sb strings.Builder
	sb.Grow(pairingCodeLength)
	for i := 0; i < pairingCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating pairing code: %w", err)
		}
		sb.WriteByte(pairingAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
