package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/agentq/pkg/models"
)

var (
	// ErrAlreadyClaimed is returned by Claim when the entry is no longer in
	// incoming, i.e. another claimer won the rename.
	ErrAlreadyClaimed = errors.New("queue entry already claimed")

	// ErrCorruptEntry is returned when a queue file fails schema validation.
	ErrCorruptEntry = errors.New("corrupt queue entry")

	// ErrEntryNotFound is returned when an entry is not in the expected stage.
	ErrEntryNotFound = errors.New("queue entry not found")
)

const (
	entryExt      = ".json"
	tmpDirName    = ".tmp"
	quarantineDir = "quarantine"
)

// QueueStore is the three-stage durable queue under <root>/queue/. Every stage
// transition is a single rename; new and rewritten files are staged in a
// hidden temp directory on the same filesystem first.
type QueueStore interface {
	// Enqueue writes a new entry into incoming. ID and CreatedAt are assigned
	// when empty. The stored entry is returned.
	Enqueue(entry models.QueueEntry) (models.QueueEntry, error)

	// Claim moves an entry from incoming to processing.
	Claim(id string) (models.QueueEntry, error)

	// Complete records the reply on a processing entry and moves it to outgoing.
	Complete(id string, reply models.Reply) error

	// Discard removes a processing entry whose turn was absorbed into a
	// conversation without producing a delivery.
	Discard(id string) error

	// Ack removes a delivered entry from outgoing.
	Ack(id string) error

	// Quarantine moves the file for id out of stage into queue/quarantine/.
	Quarantine(stage models.Stage, id string) error

	// RecoverOrphans moves every processing entry back into incoming and
	// returns the recovered ids.
	RecoverOrphans() ([]string, error)

	// Scan reads every entry in a stage, ordered by creation time then id.
	// Files that fail validation are returned by id in corrupt.
	Scan(stage models.Stage) (entries []models.QueueEntry, corrupt []string, err error)

	// List is Scan without the corrupt ids.
	List(stage models.Stage) ([]models.QueueEntry, error)

	// Load reads one entry from a stage.
	Load(stage models.Stage, id string) (models.QueueEntry, error)

	// Stats counts entries per stage.
	Stats() (models.QueueStats, error)

	// Dir returns the directory backing a stage.
	Dir(stage models.Stage) string
}

type fileQueueStore struct {
	root string
	now  func() time.Time
}

// NewQueueStore creates the queue directory layout under basePath/queue and
// returns a store backed by it.
func NewQueueStore(basePath string) (QueueStore, error) {
	s := &fileQueueStore{
		root: filepath.Join(basePath, "queue"),
		now:  func() time.Time { return time.Now().UTC() },
	}
	dirs := []string{s.tmpDir(), filepath.Join(s.root, quarantineDir)}
	for _, stage := range models.Stages {
		dirs = append(dirs, s.Dir(stage))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating queue directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *fileQueueStore) Dir(stage models.Stage) string {
	return filepath.Join(s.root, string(stage))
}

func (s *fileQueueStore) tmpDir() string {
	return filepath.Join(s.root, tmpDirName)
}

func (s *fileQueueStore) path(stage models.Stage, id string) string {
	return filepath.Join(s.Dir(stage), id+entryExt)
}

// NewEntryID returns a time-ordered unique entry id.
func NewEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *fileQueueStore) Enqueue(entry models.QueueEntry) (models.QueueEntry, error) {
	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := validateEntry(entry, entry.ID); err != nil {
		return models.QueueEntry{}, fmt.Errorf("enqueuing %s: %w", entry.ID, err)
	}
	if err := writeJSONAtomic(s.path(models.StageIncoming, entry.ID), s.tmpDir(), entry); err != nil {
		return models.QueueEntry{}, fmt.Errorf("enqueuing %s: %w", entry.ID, err)
	}
	return entry, nil
}

func (s *fileQueueStore) Claim(id string) (models.QueueEntry, error) {
	src := s.path(models.StageIncoming, id)
	dst := s.path(models.StageProcessing, id)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.QueueEntry{}, fmt.Errorf("claiming %s: %w", id, ErrAlreadyClaimed)
		}
		return models.QueueEntry{}, fmt.Errorf("claiming %s: %w", id, err)
	}
	entry, err := s.Load(models.StageProcessing, id)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("claiming %s: %w", id, err)
	}
	return entry, nil
}

func (s *fileQueueStore) Complete(id string, reply models.Reply) error {
	entry, err := s.Load(models.StageProcessing, id)
	if err != nil {
		return fmt.Errorf("completing %s: %w", id, err)
	}
	if reply.CompletedAt.IsZero() {
		reply.CompletedAt = s.now()
	}
	entry.Reply = &reply

	processing := s.path(models.StageProcessing, id)
	if err := writeJSONAtomic(processing, s.tmpDir(), entry); err != nil {
		return fmt.Errorf("completing %s: writing reply: %w", id, err)
	}
	if err := os.Rename(processing, s.path(models.StageOutgoing, id)); err != nil {
		return fmt.Errorf("completing %s: moving to outgoing: %w", id, err)
	}
	return nil
}

func (s *fileQueueStore) Discard(id string) error {
	return s.remove(models.StageProcessing, id)
}

func (s *fileQueueStore) Ack(id string) error {
	return s.remove(models.StageOutgoing, id)
}

func (s *fileQueueStore) remove(stage models.Stage, id string) error {
	if err := os.Remove(s.path(stage, id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s from %s: %w", id, stage, ErrEntryNotFound)
		}
		return fmt.Errorf("removing %s from %s: %w", id, stage, err)
	}
	return nil
}

func (s *fileQueueStore) Quarantine(stage models.Stage, id string) error {
	dst := filepath.Join(s.root, quarantineDir, id+entryExt)
	if err := os.Rename(s.path(stage, id), dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("quarantining %s: %w", id, ErrEntryNotFound)
		}
		return fmt.Errorf("quarantining %s: %w", id, err)
	}
	return nil
}

func (s *fileQueueStore) RecoverOrphans() ([]string, error) {
	// Recover in the same stable order the dispatcher would claim them in.
	entries, corrupt, err := s.Scan(models.StageProcessing)
	if err != nil {
		return nil, fmt.Errorf("recovering orphans: %w", err)
	}
	ordered := make([]string, 0, len(entries)+len(corrupt))
	for _, e := range entries {
		ordered = append(ordered, e.ID)
	}
	ordered = append(ordered, corrupt...)

	var recovered []string
	for _, id := range ordered {
		err := os.Rename(s.path(models.StageProcessing, id), s.path(models.StageIncoming, id))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return recovered, fmt.Errorf("recovering orphan %s: %w", id, err)
		}
		recovered = append(recovered, id)
	}
	return recovered, nil
}

// ids returns the entry ids present in a stage directory, ignoring temp files
// and anything that is not a .json file.
func (s *fileQueueStore) ids(stage models.Stage) ([]string, error) {
	dirEntries, err := os.ReadDir(s.Dir(stage))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s directory: %w", stage, err)
	}
	var ids []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, entryExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, entryExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fileQueueStore) Scan(stage models.Stage) ([]models.QueueEntry, []string, error) {
	ids, err := s.ids(stage)
	if err != nil {
		return nil, nil, err
	}

	var entries []models.QueueEntry
	var corrupt []string
	for _, id := range ids {
		entry, err := s.Load(stage, id)
		if err != nil {
			if errors.Is(err, ErrCorruptEntry) {
				corrupt = append(corrupt, id)
			}
			// A file that vanished between ReadDir and Load was moved by
			// someone else; skip it.
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, corrupt, nil
}

func (s *fileQueueStore) List(stage models.Stage) ([]models.QueueEntry, error) {
	entries, _, err := s.Scan(stage)
	return entries, err
}

func (s *fileQueueStore) Load(stage models.Stage, id string) (models.QueueEntry, error) {
	data, err := os.ReadFile(s.path(stage, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.QueueEntry{}, fmt.Errorf("loading %s from %s: %w", id, stage, ErrEntryNotFound)
		}
		return models.QueueEntry{}, fmt.Errorf("loading %s from %s: %w", id, stage, err)
	}

	var entry models.QueueEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.QueueEntry{}, fmt.Errorf("loading %s: %w: %v", id, ErrCorruptEntry, err)
	}
	if err := validateEntry(entry, id); err != nil {
		return models.QueueEntry{}, fmt.Errorf("loading %s: %w", id, err)
	}
	return entry, nil
}

func (s *fileQueueStore) Stats() (models.QueueStats, error) {
	var stats models.QueueStats
	for _, stage := range models.Stages {
		ids, err := s.ids(stage)
		if err != nil {
			return stats, fmt.Errorf("counting queue entries: %w", err)
		}
		switch stage {
		case models.StageIncoming:
			stats.Incoming = len(ids)
		case models.StageProcessing:
			stats.Processing = len(ids)
		case models.StageOutgoing:
			stats.Outgoing = len(ids)
		}
	}
	quarantined, err := os.ReadDir(filepath.Join(s.root, quarantineDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return stats, fmt.Errorf("counting quarantined entries: %w", err)
	}
	stats.Quarantined = len(quarantined)
	return stats, nil
}

// validateEntry checks the fields every queue file must carry. fileID is the
// id implied by the file name.
func validateEntry(entry models.QueueEntry, fileID string) error {
	var problems []string
	if entry.ID == "" {
		problems = append(problems, "id is empty")
	} else if entry.ID != fileID {
		problems = append(problems, fmt.Sprintf("id %q does not match file name %q", entry.ID, fileID))
	}
	if strings.ContainsAny(entry.ID, `/\`) {
		problems = append(problems, "id contains a path separator")
	}
	if entry.Channel == "" {
		problems = append(problems, "channel is empty")
	}
	if entry.Sender == "" {
		problems = append(problems, "sender is empty")
	}
	if entry.CreatedAt.IsZero() {
		problems = append(problems, "created_at is missing")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrCorruptEntry, strings.Join(problems, "; "))
	}
	return nil
}
