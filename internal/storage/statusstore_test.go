package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

func TestStatusStore_LoadBeforeSave(t *testing.T) {
	store := NewStatusStore(t.TempDir())
	statuses, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses != nil {
		t.Fatalf("expected nil statuses, got %+v", statuses)
	}
}

func TestStatusStore_SaveLoad(t *testing.T) {
	store := NewStatusStore(t.TempDir())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := []models.WorkerStatus{
		{Worker: "coder", State: models.WorkerInvoking, Queued: 2, Current: "e1", Processed: 5, Failed: 1, UpdatedAt: now},
		{Worker: "reviewer", State: models.WorkerIdle, UpdatedAt: now},
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(out))
	}
	if out[0].State != models.WorkerInvoking || out[0].Queued != 2 || out[0].Current != "e1" {
		t.Fatalf("unexpected status: %+v", out[0])
	}
}

func TestStatusStore_SaveNil(t *testing.T) {
	dir := t.TempDir()
	store := NewStatusStore(dir)
	if err := store.Save(nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "workers.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]\n" {
		t.Fatalf("expected empty JSON array, got %q", data)
	}
}

func TestStatusStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "workers.json"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStatusStore(dir).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
