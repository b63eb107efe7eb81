package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
	"gopkg.in/yaml.v3"
)

// fileChannelAdapter implements core.ChannelAdapter using markdown files with
// YAML frontmatter. Inbound messages are read from an inbox directory and
// replies are written to an outbox directory.
type fileChannelAdapter struct {
	name      string
	baseDir   string
	inboxDir  string
	outboxDir string
}

// FileChannelConfig holds the paths for the file-based channel adapter.
type FileChannelConfig struct {
	Name    string
	BaseDir string // Parent directory; inbox/ and outbox/ are created beneath it.
}

// NewFileChannelAdapter creates a file-based channel adapter that reads from
// baseDir/inbox/ and writes to baseDir/outbox/.
func NewFileChannelAdapter(cfg FileChannelConfig) (*fileChannelAdapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("creating file channel adapter: name is empty")
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("creating file channel adapter: base dir is empty")
	}

	inboxDir := filepath.Join(cfg.BaseDir, "inbox")
	outboxDir := filepath.Join(cfg.BaseDir, "outbox")

	for _, dir := range []string{inboxDir, outboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating file channel directory %s: %w", dir, err)
		}
	}

	return &fileChannelAdapter{
		name:      cfg.Name,
		baseDir:   cfg.BaseDir,
		inboxDir:  inboxDir,
		outboxDir: outboxDir,
	}, nil
}

func (a *fileChannelAdapter) Name() string {
	return a.name
}

func (a *fileChannelAdapter) Type() models.ChannelType {
	return models.ChannelFile
}

// fileFrontmatter is the YAML frontmatter of inbox and outbox files.
type fileFrontmatter struct {
	ID           string            `yaml:"id"`
	From         string            `yaml:"from,omitempty"`
	To           string            `yaml:"to,omitempty"`
	Date         string            `yaml:"date"`
	Status       string            `yaml:"status"`
	Worker       string            `yaml:"worker,omitempty"`
	InReplyTo    string            `yaml:"in_reply_to,omitempty"`
	LongResponse bool              `yaml:"long_response,omitempty"`
	Attachments  []string          `yaml:"attachments,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

// Fetch reads the pending markdown files of the inbox, oldest file name
// first. Files without a sender are skipped.
func (a *fileChannelAdapter) Fetch() ([]models.ChannelItem, error) {
	entries, err := os.ReadDir(a.inboxDir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox directory: %w", err)
	}

	var items []models.ChannelItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}

		filePath := filepath.Join(a.inboxDir, entry.Name())
		item, err := a.parseInboxFile(filePath)
		if err != nil {
			// Skip malformed files rather than failing the entire fetch.
			continue
		}

		if item.Status == models.ChannelStatusPending && item.From != "" {
			items = append(items, *item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Send writes an OutputItem as a markdown file in the outbox directory.
func (a *fileChannelAdapter) Send(item models.OutputItem) error {
	if item.ID == "" {
		return fmt.Errorf("sending to file channel: item ID is empty")
	}

	fm := fileFrontmatter{
		ID:           item.ID,
		To:           item.Destination,
		Date:         time.Now().UTC().Format(time.RFC3339),
		Status:       "sent",
		Worker:       item.Worker,
		InReplyTo:    item.InReplyTo,
		LongResponse: item.LongResponse,
		Attachments:  item.Attachments,
	}
	for k, v := range item.Metadata {
		if fm.Metadata == nil {
			fm.Metadata = make(map[string]string)
		}
		fm.Metadata[k] = v
	}

	content, err := renderFile(fm, item.Content)
	if err != nil {
		return fmt.Errorf("rendering outbox file: %w", err)
	}

	filePath := filepath.Join(a.outboxDir, item.ID+".md")
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing outbox file: %w", err)
	}

	return nil
}

// MarkProcessed rewrites the status in the frontmatter of an inbox file.
func (a *fileChannelAdapter) MarkProcessed(itemID string, status models.ChannelItemStatus) error {
	filePath, err := a.findInboxFile(itemID)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading inbox file: %w", err)
	}

	fm, body, err := parseFrontmatter(string(data))
	if err != nil {
		return fmt.Errorf("parsing frontmatter: %w", err)
	}

	fm.Status = string(status)

	content, err := renderFile(fm, body)
	if err != nil {
		return fmt.Errorf("rendering updated file: %w", err)
	}

	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing updated inbox file: %w", err)
	}

	return nil
}

// parseInboxFile reads a markdown file with YAML frontmatter and converts it
// to a ChannelItem.
func (a *fileChannelAdapter) parseInboxFile(filePath string) (*models.ChannelItem, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", filePath, err)
	}

	fm, body, err := parseFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter in %s: %w", filePath, err)
	}

	status := models.ChannelStatusPending
	switch strings.ToLower(fm.Status) {
	case "admitted":
		status = models.ChannelStatusAdmitted
	case "unpaired":
		status = models.ChannelStatusUnpaired
	case "processed":
		status = models.ChannelStatusProcessed
	}

	item := &models.ChannelItem{
		ID:          fm.ID,
		Channel:     models.ChannelFile,
		Source:      a.name,
		From:        fm.From,
		Content:     strings.TrimSpace(body),
		Date:        fm.Date,
		Status:      status,
		Attachments: fm.Attachments,
		Metadata:    fm.Metadata,
	}

	// Use filename as ID if frontmatter ID is empty.
	if item.ID == "" {
		item.ID = strings.TrimSuffix(filepath.Base(filePath), ".md")
	}

	return item, nil
}

// findInboxFile locates an inbox file by item ID. It checks for ID.md first,
// then scans all files for a matching frontmatter ID.
func (a *fileChannelAdapter) findInboxFile(itemID string) (string, error) {
	direct := filepath.Join(a.inboxDir, itemID+".md")
	if _, err := os.Stat(direct); err == nil {
		return direct, nil
	}

	entries, err := os.ReadDir(a.inboxDir)
	if err != nil {
		return "", fmt.Errorf("scanning inbox for item %s: %w", itemID, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		filePath := filepath.Join(a.inboxDir, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}
		fm, _, err := parseFrontmatter(string(data))
		if err != nil {
			continue
		}
		if fm.ID == itemID {
			return filePath, nil
		}
	}

	return "", fmt.Errorf("inbox item %q not found", itemID)
}

// renderFile produces a markdown string with YAML frontmatter.
func renderFile(fm fileFrontmatter, body string) (string, error) {
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(fmBytes)
	sb.WriteString("---\n\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// parseFrontmatter splits a markdown file into its YAML frontmatter and body.
// The frontmatter is delimited by "---" lines.
func parseFrontmatter(content string) (fileFrontmatter, string, error) {
	var fm fileFrontmatter

	if !strings.HasPrefix(content, "---\n") {
		return fm, content, fmt.Errorf("no frontmatter delimiter found")
	}

	rest := content[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		if strings.HasSuffix(rest, "\n---") {
			idx = len(rest) - 4
		} else {
			return fm, content, fmt.Errorf("no closing frontmatter delimiter found")
		}
	}

	fmStr := rest[:idx]
	body := ""
	if idx+5 <= len(rest) {
		body = strings.TrimLeft(rest[idx+5:], "\n")
	}

	if err := yaml.Unmarshal([]byte(fmStr), &fm); err != nil {
		return fm, body, fmt.Errorf("unmarshaling frontmatter: %w", err)
	}

	return fm, body, nil
}
