package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	rosterStart = "<!-- AGENTQ_ROSTER_START -->"
	rosterEnd   = "<!-- AGENTQ_ROSTER_END -->"
)

// contextFiles are the instruction files providers read from their working
// directory, relative to it.
var contextFiles = []string{
	"AGENTS.md",
	filepath.Join(".claude", "CLAUDE.md"),
}

// WriteWorkerContext places roster between the roster markers of every
// context file in dir. Text outside the markers is kept, so operators can add
// their own instructions. Missing files are created; files whose roster is
// already current are not rewritten.
func WriteWorkerContext(dir, workerID, roster string) error {
	for _, name := range contextFiles {
		path := filepath.Join(dir, name)
		existing, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("writing worker context: reading %s: %w", path, err)
		}
		content := mergeRoster(string(existing), workerID, roster)
		if content == string(existing) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("writing worker context: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("writing worker context: writing %s: %w", path, err)
		}
	}
	return nil
}

// mergeRoster replaces the marked block of existing, or appends one when the
// markers are missing.
func mergeRoster(existing, workerID, roster string) string {
	block := rosterStart + "\n" + strings.Trim(roster, "\n") + "\n" + rosterEnd
	if existing == "" {
		return fmt.Sprintf("# Worker @%s\n\n%s\n", workerID, block)
	}
	start := strings.Index(existing, rosterStart)
	end := strings.Index(existing, rosterEnd)
	if start >= 0 && end > start {
		return existing[:start] + block + existing[end+len(rosterEnd):]
	}
	return strings.TrimRight(existing, "\n") + "\n\n" + block + "\n"
}
