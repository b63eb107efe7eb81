package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// SettingsSource supplies the current settings snapshot. *Router implements it.
type SettingsSource interface {
	Settings() *models.Settings
}

// TurnOutcome tells the dispatcher what to do with a finished turn.
type TurnOutcome struct {
	// Conversation is a snapshot after the turn, nil for standalone turns.
	Conversation *models.Conversation

	// Handoffs are the mentions to enqueue as follow-up entries.
	Handoffs []models.Mention

	// Deliver is true when the reply goes to outgoing. Turns that only spawn
	// handoffs are not delivered.
	Deliver bool

	LongResponse bool
}

// ConversationTracker follows handoff chains. Every mutation is persisted
// through the TranscriptStore before the call returns.
type ConversationTracker interface {
	// Record registers a worker reply for entry. mentions are the handoffs
	// extracted from reply.
	Record(entry models.QueueEntry, route models.RoutingResult, reply string, mentions []models.Mention) (TurnOutcome, error)

	// RecordFailure registers a turn that produced an error reply instead of
	// a worker answer. The branch is closed.
	RecordFailure(entry models.QueueEntry, speaker, reason string) (TurnOutcome, error)

	// DropBranches closes n open branches of a conversation whose follow-up
	// entries could not be enqueued.
	DropBranches(conversationID string, n int) error

	Get(id string) (*models.Conversation, error)
	Active() []*models.Conversation

	// Restore reloads active conversations from storage after a restart.
	Restore() error
}

type conversationTracker struct {
	mu       sync.Mutex
	store    storage.TranscriptStore
	settings SettingsSource
	events   EventLogger
	logger   *slog.Logger
	now      func() time.Time
	active   map[string]*models.Conversation
}

// NewConversationTracker creates a tracker persisting to store. events and
// logger may be nil.
func NewConversationTracker(store storage.TranscriptStore, settings SettingsSource, events EventLogger, logger *slog.Logger) ConversationTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &conversationTracker{
		store:    store,
		settings: settings,
		events:   eventsOrNop(events),
		logger:   logger,
		now:      time.Now,
		active:   make(map[string]*models.Conversation),
	}
}

func (t *conversationTracker) limits() models.ConversationSettings {
	limits := models.ConversationSettings{
		MaxTurns:              DefaultMaxConversationTurns,
		LongResponseThreshold: DefaultLongResponseThreshold,
	}
	if s := t.settings.Settings(); s != nil {
		if s.Conversation.MaxTurns > 0 {
			limits.MaxTurns = s.Conversation.MaxTurns
		}
		if s.Conversation.LongResponseThreshold > 0 {
			limits.LongResponseThreshold = s.Conversation.LongResponseThreshold
		}
	}
	return limits
}

func (t *conversationTracker) Record(entry models.QueueEntry, route models.RoutingResult, reply string, mentions []models.Mention) (TurnOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	limits := t.limits()
	outcome := TurnOutcome{LongResponse: utf8.RuneCountInString(reply) > limits.LongResponseThreshold}
	turn := models.Turn{Speaker: route.Worker, Text: reply, At: t.now().UTC(), EntryID: entry.ID}

	var conv *models.Conversation
	if entry.ConversationID == "" {
		conv = t.openedBy(entry.ID)
		if conv == nil {
			if len(mentions) == 0 {
				outcome.Deliver = true
				return outcome, nil
			}
			return t.open(entry, route, turn, mentions, outcome)
		}
	} else {
		var err error
		conv, err = t.lookup(entry.ConversationID)
		if err != nil {
			return TurnOutcome{}, err
		}
		if conv == nil || conv.Closed() {
			// The chain was truncated or lost; the reply still reaches the
			// requester but spawns nothing further.
			outcome.Deliver = true
			if conv != nil {
				outcome.Conversation = cloneConversation(conv)
			}
			return outcome, nil
		}
	}

	idx := conv.TurnFor(entry.ID)
	if idx >= 0 {
		// A recovered entry is answered again: the new reply replaces the
		// old turn and the branches the old turn opened are withdrawn.
		conv.Pending -= conv.Turns[idx].Handoffs
		if conv.Pending < 0 {
			conv.Pending = 0
		}
		conv.Turns[idx] = turn
		t.logger.Info("replayed turn replaced", "conversation", conv.ID, "entry", entry.ID)
	} else {
		if conv.Pending > 0 {
			conv.Pending--
		}
		conv.Turns = append(conv.Turns, turn)
		idx = len(conv.Turns) - 1
	}

	switch {
	case len(conv.Turns) > limits.MaxTurns:
		outcome.Deliver = true
		if err := t.finish(conv, models.ConversationTruncated); err != nil {
			return TurnOutcome{}, err
		}
	case len(mentions) > 0:
		conv.Pending += len(mentions)
		conv.Turns[idx].Handoffs = len(mentions)
		outcome.Handoffs = mentions
		if err := t.store.Save(conv); err != nil {
			return TurnOutcome{}, fmt.Errorf("recording turn: %w", err)
		}
	default:
		outcome.Deliver = true
		if conv.Pending == 0 {
			if err := t.finish(conv, models.ConversationCompleted); err != nil {
				return TurnOutcome{}, err
			}
		} else if err := t.store.Save(conv); err != nil {
			return TurnOutcome{}, fmt.Errorf("recording turn: %w", err)
		}
	}

	outcome.Conversation = cloneConversation(conv)
	return outcome, nil
}

// open starts a conversation from an external entry whose reply mentions
// workers.
func (t *conversationTracker) open(entry models.QueueEntry, route models.RoutingResult, turn models.Turn, mentions []models.Mention, outcome TurnOutcome) (TurnOutcome, error) {
	turn.Handoffs = len(mentions)
	conv := &models.Conversation{
		ID:      uuid.NewString(),
		TeamID:  route.TeamID,
		Status:  models.ConversationActive,
		Turns:   []models.Turn{turn},
		Pending: len(mentions),
		Channel: entry.Channel,
		Sender:  entry.Sender,
		Origin:  entry.Text,
		Started: turn.At,
	}
	if err := t.store.Save(conv); err != nil {
		return TurnOutcome{}, fmt.Errorf("opening conversation: %w", err)
	}
	t.active[conv.ID] = conv
	outcome.Conversation = cloneConversation(conv)
	outcome.Handoffs = mentions
	return outcome, nil
}

// openedBy returns the active conversation whose first turn answered
// entryID, left behind when the process stopped before the entry finished.
func (t *conversationTracker) openedBy(entryID string) *models.Conversation {
	for _, conv := range t.active {
		if len(conv.Turns) > 0 && conv.Turns[0].EntryID == entryID {
			return conv
		}
	}
	return nil
}

func (t *conversationTracker) RecordFailure(entry models.QueueEntry, speaker, reason string) (TurnOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	outcome := TurnOutcome{Deliver: true}
	var conv *models.Conversation
	if entry.ConversationID == "" {
		if conv = t.openedBy(entry.ID); conv == nil {
			return outcome, nil
		}
	} else {
		var err error
		if conv, err = t.lookup(entry.ConversationID); err != nil {
			return TurnOutcome{}, err
		}
		if conv == nil || conv.Closed() {
			return outcome, nil
		}
	}

	turn := models.Turn{Speaker: speaker, Text: "error: " + reason, At: t.now().UTC(), EntryID: entry.ID}
	if idx := conv.TurnFor(entry.ID); idx >= 0 {
		conv.Pending -= conv.Turns[idx].Handoffs
		if conv.Pending < 0 {
			conv.Pending = 0
		}
		conv.Turns[idx] = turn
	} else {
		if conv.Pending > 0 {
			conv.Pending--
		}
		conv.Turns = append(conv.Turns, turn)
	}
	if conv.Pending == 0 {
		if err := t.finish(conv, models.ConversationCompleted); err != nil {
			return TurnOutcome{}, err
		}
	} else if err := t.store.Save(conv); err != nil {
		return TurnOutcome{}, fmt.Errorf("recording failed turn: %w", err)
	}
	outcome.Conversation = cloneConversation(conv)
	return outcome, nil
}

func (t *conversationTracker) DropBranches(conversationID string, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv, err := t.lookup(conversationID)
	if err != nil {
		return err
	}
	if conv == nil || conv.Closed() || n <= 0 {
		return nil
	}
	conv.Pending -= n
	if conv.Pending <= 0 {
		conv.Pending = 0
		return t.finish(conv, models.ConversationCompleted)
	}
	if err := t.store.Save(conv); err != nil {
		return fmt.Errorf("dropping branches: %w", err)
	}
	return nil
}

// lookup returns the active conversation, falling back to storage for
// conversations the tracker has not seen since start. A missing transcript
// yields nil.
func (t *conversationTracker) lookup(id string) (*models.Conversation, error) {
	if conv, ok := t.active[id]; ok {
		return conv, nil
	}
	conv, err := t.store.Load(id)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			t.logger.Warn("turn references unknown conversation", "conversation", id)
			return nil, nil
		}
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	if !conv.Closed() {
		t.active[id] = conv
	}
	return conv, nil
}

// finish closes conv, persists it and writes the team chat log.
func (t *conversationTracker) finish(conv *models.Conversation, status models.ConversationStatus) error {
	now := t.now().UTC()
	conv.Status = status
	conv.Finished = &now
	if status == models.ConversationTruncated {
		conv.Pending = 0
	}
	if err := t.store.Save(conv); err != nil {
		return fmt.Errorf("closing conversation %s: %w", conv.ID, err)
	}
	delete(t.active, conv.ID)

	data := map[string]any{"conversation": conv.ID, "team": conv.TeamID, "turns": len(conv.Turns)}
	if status == models.ConversationTruncated {
		_ = t.events.LogEvent(models.EventConversationCapped, data)
	} else {
		_ = t.events.LogEvent(models.EventConversationDone, data)
	}

	if conv.TeamID != "" {
		if path, err := t.store.WriteChatLog(conv); err != nil {
			t.logger.Warn("writing chat log failed", "conversation", conv.ID, "error", err)
		} else {
			t.logger.Debug("chat log written", "conversation", conv.ID, "path", path)
		}
	}
	return nil
}

func (t *conversationTracker) Get(id string) (*models.Conversation, error) {
	t.mu.Lock()
	if conv, ok := t.active[id]; ok {
		c := cloneConversation(conv)
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()
	return t.store.Load(id)
}

func (t *conversationTracker) Active() []*models.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()

	convs := make([]*models.Conversation, 0, len(t.active))
	for _, conv := range t.active {
		convs = append(convs, cloneConversation(conv))
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].Started.Equal(convs[j].Started) {
			return convs[i].Started.Before(convs[j].Started)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs
}

func (t *conversationTracker) Restore() error {
	convs, err := t.store.List(models.ConversationActive)
	if err != nil {
		return fmt.Errorf("restoring conversations: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conv := range convs {
		t.active[conv.ID] = conv
	}
	return nil
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	c := *conv
	c.Turns = append([]models.Turn(nil), conv.Turns...)
	if conv.Finished != nil {
		f := *conv.Finished
		c.Finished = &f
	}
	return &c
}
