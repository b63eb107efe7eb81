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

	"github.com/valter-silva-au/agentq/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrConversationNotFound is returned when no transcript exists for an id.
var ErrConversationNotFound = errors.New("conversation not found")

// TranscriptStore persists conversation transcripts, one JSON document per
// conversation under conversations/, and renders finished team conversations
// as markdown chat logs under chats/<team>/.
type TranscriptStore interface {
	Save(conv *models.Conversation) error
	Load(id string) (*models.Conversation, error)
	List(status models.ConversationStatus) ([]*models.Conversation, error)
	WriteChatLog(conv *models.Conversation) (string, error)
}

type fileTranscriptStore struct {
	basePath string
}

// NewTranscriptStore returns a TranscriptStore rooted at basePath.
func NewTranscriptStore(basePath string) TranscriptStore {
	return &fileTranscriptStore{basePath: basePath}
}

func (s *fileTranscriptStore) dir() string {
	return filepath.Join(s.basePath, "conversations")
}

func (s *fileTranscriptStore) path(id string) string {
	return filepath.Join(s.dir(), id+".json")
}

// Save replaces the transcript for conv.ID atomically.
func (s *fileTranscriptStore) Save(conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("saving transcript: conversation id is empty")
	}
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return fmt.Errorf("saving transcript: creating directory: %w", err)
	}
	if err := writeJSONAtomic(s.path(conv.ID), "", conv); err != nil {
		return fmt.Errorf("saving transcript %s: %w", conv.ID, err)
	}
	return nil
}

func (s *fileTranscriptStore) Load(id string) (*models.Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading transcript %s: %w", id, ErrConversationNotFound)
		}
		return nil, fmt.Errorf("loading transcript %s: %w", id, err)
	}
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("parsing transcript %s: %w", id, err)
	}
	return &conv, nil
}

// List returns transcripts with the given status, or all when status is
// empty, oldest first. Unreadable transcripts are skipped.
func (s *fileTranscriptStore) List(status models.ConversationStatus) ([]*models.Conversation, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}

	var convs []*models.Conversation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if status != "" && conv.Status != status {
			continue
		}
		convs = append(convs, conv)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].Started.Equal(convs[j].Started) {
			return convs[i].Started.Before(convs[j].Started)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// chatLogFrontmatter is the YAML header of a rendered chat log.
type chatLogFrontmatter struct {
	Conversation string `yaml:"conversation"`
	Team         string `yaml:"team"`
	Status       string `yaml:"status"`
	Channel      string `yaml:"channel,omitempty"`
	Sender       string `yaml:"sender,omitempty"`
	Turns        int    `yaml:"turns"`
	Started      string `yaml:"started"`
	Finished     string `yaml:"finished,omitempty"`
}

// WriteChatLog renders conv as markdown with YAML frontmatter into
// chats/<team>/<timestamp>-<id>.md and returns the file path. Conversations
// without a team are filed under "dispatch".
func (s *fileTranscriptStore) WriteChatLog(conv *models.Conversation) (string, error) {
	team := conv.TeamID
	if team == "" {
		team = "dispatch"
	}
	dir := filepath.Join(s.basePath, "chats", team)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("writing chat log: creating directory: %w", err)
	}

	fm := chatLogFrontmatter{
		Conversation: conv.ID,
		Team:         team,
		Status:       string(conv.Status),
		Channel:      conv.Channel,
		Sender:       conv.Sender,
		Turns:        len(conv.Turns),
		Started:      conv.Started.UTC().Format(time.RFC3339),
	}
	if conv.Finished != nil {
		fm.Finished = conv.Finished.UTC().Format(time.RFC3339)
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("writing chat log: marshaling frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(fmBytes)
	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "# Team conversation @%s\n\n", team)
	if conv.Origin != "" {
		sb.WriteString("## Request\n\n")
		sb.WriteString(conv.Origin)
		sb.WriteString("\n\n")
	}
	for _, turn := range conv.Turns {
		sb.WriteString("------\n\n")
		fmt.Fprintf(&sb, "## @%s (%s)\n\n", turn.Speaker, turn.At.UTC().Format(time.RFC3339))
		sb.WriteString(turn.Text)
		sb.WriteString("\n\n")
	}

	stamp := conv.Started.UTC().Format("2006-01-02T15-04-05")
	path := filepath.Join(dir, stamp+"-"+conv.ID+".md")
	if err := writeFileAtomic(path, "", []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing chat log: %w", err)
	}
	return path, nil
}
