package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// StatusStore publishes the dispatcher's worker mailbox states so other
// processes (dashboard, MCP server) can display them.
type StatusStore interface {
	Save(statuses []models.WorkerStatus) error
	Load() ([]models.WorkerStatus, error)
}

type fileStatusStore struct {
	path string
}

// NewStatusStore returns a StatusStore backed by basePath/workers.json.
func NewStatusStore(basePath string) StatusStore {
	return &fileStatusStore{path: filepath.Join(basePath, "workers.json")}
}

func (s *fileStatusStore) Save(statuses []models.WorkerStatus) error {
	if statuses == nil {
		statuses = []models.WorkerStatus{}
	}
	if err := writeJSONAtomic(s.path, "", statuses); err != nil {
		return fmt.Errorf("saving worker status: %w", err)
	}
	return nil
}

// Load returns the last published statuses, or nil when the dispatcher has
// never run.
func (s *fileStatusStore) Load() ([]models.WorkerStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading worker status: %w", err)
	}
	var statuses []models.WorkerStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("parsing worker status: %w", err)
	}
	return statuses, nil
}
