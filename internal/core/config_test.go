package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

const sampleSettingsYAML = `default_worker: helper
workspace: /tmp/agentq-work
workers:
  helper:
    name: Helper
    model: sonnet
  coder:
    name: Coder
    provider: openai
    working_directory: coder
  reviewer:
    name: Reviewer
    provider: opencode
teams:
  dev:
    name: Development
    members: [coder, reviewer]
    leader: coder
queue:
  poll_interval: 5s
conversation:
  max_turns: 12
`

func writeSettingsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSettingsManager_LoadMissingFile(t *testing.T) {
	mgr := NewSettingsManager(t.TempDir())
	settings, err := mgr.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.DefaultWorker != DefaultWorkerID {
		t.Errorf("default worker = %q", settings.DefaultWorker)
	}
	if settings.Queue.PollInterval != DefaultPollInterval {
		t.Errorf("poll interval = %v", settings.Queue.PollInterval)
	}
	if settings.Conversation.MaxTurns != DefaultMaxConversationTurns {
		t.Errorf("max turns = %d", settings.Conversation.MaxTurns)
	}
	if mgr.Path() != "" {
		t.Errorf("expected no settings path, got %q", mgr.Path())
	}

	err = mgr.Validate(settings)
	if err == nil || !strings.Contains(err.Error(), "at least one worker") {
		t.Fatalf("expected missing worker error, got %v", err)
	}
}

func TestSettingsManager_LoadFile(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, sampleSettingsYAML)

	mgr := NewSettingsManager(dir)
	settings, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Validate(settings); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if mgr.Path() != filepath.Join(dir, "settings.yaml") {
		t.Errorf("path = %q", mgr.Path())
	}

	helper, ok := settings.Worker("helper")
	if !ok {
		t.Fatal("expected helper worker")
	}
	if helper.ID != "helper" || helper.Provider != models.ProviderAnthropic || helper.Model != "sonnet" {
		t.Errorf("unexpected helper: %+v", helper)
	}
	coder, _ := settings.Worker("coder")
	if coder.Provider != models.ProviderOpenAI || coder.WorkingDirectory != "coder" {
		t.Errorf("unexpected coder: %+v", coder)
	}

	dev, ok := settings.Team("dev")
	if !ok || dev.ID != "dev" || dev.Leader != "coder" || len(dev.Members) != 2 {
		t.Errorf("unexpected team: %+v", dev)
	}

	if settings.Queue.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v", settings.Queue.PollInterval)
	}
	if settings.Queue.InvocationTimeout != DefaultInvocationTimeout {
		t.Errorf("invocation timeout = %v", settings.Queue.InvocationTimeout)
	}
	if settings.Conversation.MaxTurns != 12 {
		t.Errorf("max turns = %d", settings.Conversation.MaxTurns)
	}
	if settings.Conversation.LongResponseThreshold != DefaultLongResponseThreshold {
		t.Errorf("long response threshold = %d", settings.Conversation.LongResponseThreshold)
	}
	if settings.Alerts.MaxIncomingBacklog != 25 {
		t.Errorf("alert backlog = %d", settings.Alerts.MaxIncomingBacklog)
	}
}

func TestSettingsManager_LoadKeepsIDCase(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, `default_worker: Coder
workers:
  Coder:
    provider: openai
  QA-Bot:
    name: QA
teams:
  Dev:
    members: [Coder, QA-Bot]
    leader: Coder
`)

	mgr := NewSettingsManager(dir)
	settings, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := mgr.Validate(settings); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	coder, ok := settings.Worker("Coder")
	if !ok || coder.ID != "Coder" || coder.Provider != models.ProviderOpenAI {
		t.Fatalf("expected worker Coder, got workers %v", sortedKeys(settings.Workers))
	}
	if _, ok := settings.Worker("coder"); ok {
		t.Error("ids are case-sensitive, lowercase coder must not exist")
	}
	if qa, ok := settings.Worker("QA-Bot"); !ok || qa.Provider != models.ProviderAnthropic {
		t.Errorf("expected QA-Bot with the default provider, got %+v", qa)
	}
	if dev, ok := settings.Team("Dev"); !ok || dev.ID != "Dev" || dev.Leader != "Coder" {
		t.Errorf("expected team Dev, got teams %v", sortedKeys(settings.Teams))
	}

	router := NewRouter(settings)
	for text, want := range map[string]string{"@Coder fix it": "Coder", "@Dev fix it": "Coder", "hello": "Coder"} {
		route, err := router.Route(models.QueueEntry{ID: "e", Text: text})
		if err != nil {
			t.Fatalf("Route(%q): %v", text, err)
		}
		if route.Worker != want {
			t.Errorf("Route(%q) = %q, want %q", text, route.Worker, want)
		}
	}
	if _, err := router.Route(models.QueueEntry{ID: "e", Text: "@coder fix it"}); err == nil {
		t.Error("expected @coder to be an unknown target")
	}
}

func TestSettingsManager_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, sampleSettingsYAML)
	t.Setenv("AGENTQ_DEFAULT_WORKER", "reviewer")
	t.Setenv("AGENTQ_QUEUE_POLL_INTERVAL", "250ms")

	settings, err := NewSettingsManager(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if settings.DefaultWorker != "reviewer" {
		t.Errorf("default worker = %q, want reviewer", settings.DefaultWorker)
	}
	if settings.Queue.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v, want 250ms", settings.Queue.PollInterval)
	}
}

func TestSettingsManager_LoadMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, "workers: [unclosed\n")
	if _, err := NewSettingsManager(dir).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *models.Settings)
		wantErr string
	}{
		{"valid", func(s *models.Settings) {}, ""},
		{"invalid worker id", func(s *models.Settings) {
			s.Workers["bad id"] = models.WorkerConfig{Provider: models.ProviderAnthropic}
		}, `worker id "bad id" is invalid`},
		{"unknown provider", func(s *models.Settings) {
			s.Workers["coder"] = models.WorkerConfig{ID: "coder", Provider: "gemini"}
		}, `provider "gemini"`},
		{"team collides with worker", func(s *models.Settings) {
			s.Teams["coder"] = models.TeamConfig{Members: []string{"coder"}, Leader: "coder"}
		}, "collides with a worker id"},
		{"team without members", func(s *models.Settings) {
			s.Teams["empty"] = models.TeamConfig{Leader: "coder"}
		}, `team "empty" has no members`},
		{"member is not a worker", func(s *models.Settings) {
			s.Teams["dev"] = models.TeamConfig{Members: []string{"coder", "ghost"}, Leader: "coder"}
		}, `member "ghost" is not a configured worker`},
		{"leader not a member", func(s *models.Settings) {
			s.Teams["dev"] = models.TeamConfig{Members: []string{"coder"}, Leader: "reviewer"}
		}, `leader "reviewer" is not a member`},
		{"team without leader", func(s *models.Settings) {
			s.Teams["dev"] = models.TeamConfig{Members: []string{"coder"}}
		}, `team "dev" has no leader`},
		{"default worker missing", func(s *models.Settings) {
			s.DefaultWorker = "ghost"
		}, `default_worker "ghost"`},
		{"zero poll interval", func(s *models.Settings) {
			s.Queue.PollInterval = 0
		}, "queue.poll_interval must be positive"},
		{"zero max turns", func(s *models.Settings) {
			s.Conversation.MaxTurns = 0
		}, "conversation.max_turns must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSettings_Nil(t *testing.T) {
	if err := ValidateSettings(nil); err == nil {
		t.Fatal("expected error for nil settings")
	}
}

func TestValidateSettings_ReportsEveryProblem(t *testing.T) {
	s := testSettings()
	s.DefaultWorker = "ghost"
	s.Queue.PollInterval = 0
	err := ValidateSettings(s)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Count(err.Error(), "\n  - ") != 2 {
		t.Fatalf("expected two listed problems, got:\n%v", err)
	}
}
