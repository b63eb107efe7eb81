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

// PairingState is the whole pairing document keyed by "channel:sender".
type PairingState map[string]models.PairingRecord

// PairingStore persists the sender allowlist as one JSON document. Several
// channel adapter processes may write it concurrently, so every mutation runs
// under an exclusive file lock and replaces the document atomically.
type PairingStore interface {
	// Load returns the current document. A missing file is an empty state.
	Load() (PairingState, error)

	// Update runs fn on the current document under the lock and persists the
	// result when fn returns nil.
	Update(fn func(state PairingState) error) error
}

type filePairingStore struct {
	path string
}

// NewPairingStore returns a PairingStore backed by basePath/pairing.json.
func NewPairingStore(basePath string) PairingStore {
	return &filePairingStore{path: filepath.Join(basePath, "pairing.json")}
}

func (s *filePairingStore) lockPath() string {
	return s.path + ".lock"
}

func (s *filePairingStore) Load() (PairingState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return PairingState{}, nil
		}
		return nil, fmt.Errorf("reading pairing file: %w", err)
	}
	state := PairingState{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing pairing file: %w", err)
	}
	return state, nil
}

func (s *filePairingStore) Update(fn func(state PairingState) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating pairing directory: %w", err)
	}
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return fmt.Errorf("locking pairing file: %w", err)
	}
	defer func() { _ = unlock() }()

	state, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.path, "", state); err != nil {
		return fmt.Errorf("saving pairing file: %w", err)
	}
	return nil
}
