package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// ChannelAdapter is the boundary to one external messaging channel. The
// adapter's Name is the channel recorded on queue entries it admits.
type ChannelAdapter interface {
	// Name returns the adapter's unique name.
	Name() string

	// Type returns the channel type this adapter handles.
	Type() models.ChannelType

	// Fetch retrieves pending inbound items from the channel.
	Fetch() ([]models.ChannelItem, error)

	// Send delivers an output item to the channel.
	Send(item models.OutputItem) error

	// MarkProcessed records how an inbound item was handled.
	MarkProcessed(itemID string, status models.ChannelItemStatus) error
}

// ChannelRegistry manages registered channel adapters.
type ChannelRegistry interface {
	Register(adapter ChannelAdapter) error
	GetAdapter(name string) (ChannelAdapter, error)

	// ListAdapters returns all registered adapters ordered by name.
	ListAdapters() []ChannelAdapter
}

type channelRegistry struct {
	mu       sync.RWMutex
	adapters map[string]ChannelAdapter
}

// NewChannelRegistry creates a ChannelRegistry.
func NewChannelRegistry() ChannelRegistry {
	return &channelRegistry{
		adapters: make(map[string]ChannelAdapter),
	}
}

func (r *channelRegistry) Register(adapter ChannelAdapter) error {
	if adapter == nil {
		return fmt.Errorf("registering channel adapter: adapter is nil")
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("registering channel adapter: name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("registering channel adapter: adapter %q already registered", name)
	}
	r.adapters[name] = adapter
	return nil
}

func (r *channelRegistry) GetAdapter(name string) (ChannelAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("getting channel adapter: adapter %q not found", name)
	}
	return adapter, nil
}

func (r *channelRegistry) ListAdapters() []ChannelAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ChannelAdapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		result = append(result, adapter)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// previewLength is how much of a long response is delivered inline.
const previewLength = 1000

// ChannelBridge moves messages between the registered adapters and the queue:
// inbound items go through Intake, outgoing entries are sent and acked.
type ChannelBridge struct {
	registry ChannelRegistry
	intake   *Intake
	queue    storage.QueueStore
	filesDir string
	logger   *slog.Logger
}

// NewChannelBridge creates a bridge. Full texts of long responses are saved
// under filesDir. logger may be nil.
func NewChannelBridge(registry ChannelRegistry, intake *Intake, queue storage.QueueStore, filesDir string, logger *slog.Logger) *ChannelBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelBridge{registry: registry, intake: intake, queue: queue, filesDir: filesDir, logger: logger}
}

// PumpResult counts what one Pump pass did.
type PumpResult struct {
	Admitted  int
	Unpaired  int
	Delivered int
}

// Pump admits pending inbound items and delivers outgoing replies for every
// registered adapter. Errors of one item are logged and do not stop the pass.
func (b *ChannelBridge) Pump() (PumpResult, error) {
	var res PumpResult
	for _, adapter := range b.registry.ListAdapters() {
		if err := b.admit(adapter, &res); err != nil {
			return res, err
		}
	}
	if err := b.deliver(&res); err != nil {
		return res, err
	}
	return res, nil
}

// Run pumps every interval until ctx is cancelled.
func (b *ChannelBridge) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := b.Pump(); err != nil {
			b.logger.Error("channel pump failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *ChannelBridge) admit(adapter ChannelAdapter, res *PumpResult) error {
	items, err := adapter.Fetch()
	if err != nil {
		return fmt.Errorf("fetching from channel %q: %w", adapter.Name(), err)
	}
	for _, item := range items {
		adm, err := b.intake.Admit(Message{
			Channel:     adapter.Name(),
			Sender:      item.From,
			Text:        item.Content,
			Attachments: item.Attachments,
		})
		if err != nil {
			b.logger.Warn("admitting channel item failed", "channel", adapter.Name(), "item", item.ID, "error", err)
			continue
		}

		status := models.ChannelStatusAdmitted
		if adm.Entry == nil {
			status = models.ChannelStatusUnpaired
			res.Unpaired++
			reply := models.OutputItem{
				ID:          "pairing-" + item.ID,
				Channel:     adapter.Type(),
				Destination: item.From,
				InReplyTo:   item.ID,
				Content:     pairingNotice(adm.Pairing),
			}
			if err := adapter.Send(reply); err != nil {
				b.logger.Warn("sending pairing code failed", "channel", adapter.Name(), "sender", item.From, "error", err)
			}
		} else {
			res.Admitted++
		}
		if err := adapter.MarkProcessed(item.ID, status); err != nil {
			b.logger.Warn("marking channel item failed", "channel", adapter.Name(), "item", item.ID, "error", err)
		}
	}
	return nil
}

func pairingNotice(p models.PairingResult) string {
	return fmt.Sprintf("This sender is not paired yet. Ask the operator to run:\n\n    agentq pairing approve %s\n\nand send your message again.", p.Code)
}

func (b *ChannelBridge) deliver(res *PumpResult) error {
	entries, err := b.queue.List(models.StageOutgoing)
	if err != nil {
		return fmt.Errorf("listing outgoing: %w", err)
	}
	for _, entry := range entries {
		adapter, err := b.registry.GetAdapter(entry.Channel)
		if err != nil {
			// Another process owns this channel.
			continue
		}
		item, err := b.outputFor(adapter, entry)
		if err != nil {
			b.logger.Warn("preparing reply failed", "entry", entry.ID, "error", err)
			continue
		}
		if err := adapter.Send(item); err != nil {
			b.logger.Warn("sending reply failed", "entry", entry.ID, "error", err)
			continue
		}
		if err := b.queue.Ack(entry.ID); err != nil {
			b.logger.Warn("acking delivered entry failed", "entry", entry.ID, "error", err)
			continue
		}
		res.Delivered++
	}
	return nil
}

// outputFor renders an outgoing entry. Long responses are saved in full to
// filesDir and attached, with a preview inline.
func (b *ChannelBridge) outputFor(adapter ChannelAdapter, entry models.QueueEntry) (models.OutputItem, error) {
	item := models.OutputItem{
		ID:          entry.ID,
		Channel:     adapter.Type(),
		Destination: entry.Sender,
		InReplyTo:   entry.ID,
	}
	if entry.Reply == nil {
		item.Content = "(no reply)"
		return item, nil
	}

	reply := entry.Reply
	item.Worker = reply.Worker
	item.Content = reply.Text
	item.Attachments = append(item.Attachments, reply.Files...)
	if reply.ConversationID != "" {
		item.Metadata = map[string]string{"conversation": reply.ConversationID}
	}
	if reply.Failed() {
		if item.Metadata == nil {
			item.Metadata = map[string]string{}
		}
		item.Metadata["error"] = reply.Error
	}

	if reply.LongResponse {
		if err := os.MkdirAll(b.filesDir, 0o755); err != nil {
			return item, fmt.Errorf("creating files directory: %w", err)
		}
		path := filepath.Join(b.filesDir, "response-"+entry.ID+".md")
		if err := os.WriteFile(path, []byte(reply.Text), 0o644); err != nil {
			return item, fmt.Errorf("saving long response: %w", err)
		}
		item.LongResponse = true
		item.Content = preview(reply.Text) + "\n\n(Full response attached.)"
		item.Attachments = append(item.Attachments, path)
	}
	return item, nil
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "..."
}
