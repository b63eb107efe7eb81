// Package core contains the orchestration engine of agentq: routing, mention
// extraction, the pairing gate, the conversation tracker and the mailbox
// dispatcher that ties them to the durable queue.
package core

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/agentq/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval          = 2 * time.Second
	DefaultInvocationTimeout     = 10 * time.Minute
	DefaultMaxConversationTurns  = 50
	DefaultLongResponseThreshold = 4000
	DefaultWorkerID              = "default"
)

// validIDPattern matches worker and team ids usable in @mentions.
var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var knownProviders = map[models.Provider]bool{
	models.ProviderAnthropic: true,
	models.ProviderOpenAI:    true,
	models.ProviderOpenCode:  true,
}

// SettingsManager loads and validates the worker/team configuration. The
// engine only ever reads it.
type SettingsManager interface {
	Load() (*models.Settings, error)
	Validate(settings *models.Settings) error
	Path() string
}

// viperSettingsManager reads settings.{yaml,yml,json} from basePath with
// AGENTQ_* environment overrides.
type viperSettingsManager struct {
	basePath string
	lastPath string
}

// NewSettingsManager creates a SettingsManager reading from basePath.
func NewSettingsManager(basePath string) SettingsManager {
	return &viperSettingsManager{basePath: basePath}
}

func defaultSettings() *models.Settings {
	return &models.Settings{
		DefaultWorker: DefaultWorkerID,
		Workers:       map[string]models.WorkerConfig{},
		Teams:         map[string]models.TeamConfig{},
		Queue: models.QueueSettings{
			PollInterval:      DefaultPollInterval,
			InvocationTimeout: DefaultInvocationTimeout,
		},
		Conversation: models.ConversationSettings{
			MaxTurns:              DefaultMaxConversationTurns,
			LongResponseThreshold: DefaultLongResponseThreshold,
		},
		Alerts: models.AlertSettings{
			MaxIncomingBacklog:    25,
			MaxInvocationFailures: 5,
			FailureWindowHours:    24,
		},
	}
}

func (m *viperSettingsManager) Path() string {
	return m.lastPath
}

// Load reads the settings file. A missing file yields defaults with no
// workers; Validate reports that as an error.
func (m *viperSettingsManager) Load() (*models.Settings, error) {
	cfg := defaultSettings()

	v := viper.New()
	v.SetConfigName("settings")
	v.AddConfigPath(m.basePath)
	v.SetEnvPrefix("AGENTQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("default_worker", cfg.DefaultWorker)
	v.SetDefault("workspace", cfg.Workspace)
	v.SetDefault("queue.poll_interval", cfg.Queue.PollInterval)
	v.SetDefault("queue.invocation_timeout", cfg.Queue.InvocationTimeout)
	v.SetDefault("conversation.max_turns", cfg.Conversation.MaxTurns)
	v.SetDefault("conversation.long_response_threshold", cfg.Conversation.LongResponseThreshold)
	v.SetDefault("alerts.max_incoming_backlog", cfg.Alerts.MaxIncomingBacklog)
	v.SetDefault("alerts.max_invocation_failures", cfg.Alerts.MaxInvocationFailures)
	v.SetDefault("alerts.failure_window_hours", cfg.Alerts.FailureWindowHours)
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.slack.webhook_url", "")

	used := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading settings: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
		m.lastPath = used
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}

	// viper lowercases map keys; ids are case-sensitive, so the worker and
	// team maps are decoded again straight from the file.
	if used != "" {
		if err := decodeIDMaps(used, cfg); err != nil {
			return nil, err
		}
	}

	// Map keys carry the ids; copy them into the values.
	for id, w := range cfg.Workers {
		w.ID = id
		if w.Provider == "" {
			w.Provider = models.ProviderAnthropic
		}
		cfg.Workers[id] = w
	}
	for id, t := range cfg.Teams {
		t.ID = id
		cfg.Teams[id] = t
	}
	return cfg, nil
}

// idMaps is the part of the settings file whose keys are ids.
type idMaps struct {
	Workers map[string]models.WorkerConfig `yaml:"workers"`
	Teams   map[string]models.TeamConfig   `yaml:"teams"`
}

// decodeIDMaps replaces cfg's worker and team maps with the ones in path,
// keys kept as written. JSON settings files parse as YAML.
func decodeIDMaps(path string, cfg *models.Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	var maps idMaps
	if err := yaml.Unmarshal(data, &maps); err != nil {
		return fmt.Errorf("decoding worker and team ids: %w", err)
	}
	if maps.Workers != nil {
		cfg.Workers = maps.Workers
	}
	if maps.Teams != nil {
		cfg.Teams = maps.Teams
	}
	return nil
}

// Validate checks the invariants the router and extractor rely on: team
// leaders are members, members are workers, and worker and team ids share one
// namespace without collisions.
func (m *viperSettingsManager) Validate(settings *models.Settings) error {
	return ValidateSettings(settings)
}

// ValidateSettings is the validation used by SettingsManager.Validate.
func ValidateSettings(settings *models.Settings) error {
	if settings == nil {
		return fmt.Errorf("settings are nil")
	}

	var errs []string

	if len(settings.Workers) == 0 {
		errs = append(errs, "at least one worker must be configured")
	}

	for _, id := range sortedKeys(settings.Workers) {
		w := settings.Workers[id]
		if !validIDPattern.MatchString(id) {
			errs = append(errs, fmt.Sprintf("worker id %q is invalid, must match [A-Za-z0-9_-]+", id))
		}
		if w.Provider != "" && !knownProviders[w.Provider] {
			errs = append(errs, fmt.Sprintf("worker %q: provider %q is not one of anthropic, openai, opencode", id, w.Provider))
		}
	}

	for _, id := range sortedKeys(settings.Teams) {
		t := settings.Teams[id]
		if !validIDPattern.MatchString(id) {
			errs = append(errs, fmt.Sprintf("team id %q is invalid, must match [A-Za-z0-9_-]+", id))
		}
		if _, clash := settings.Workers[id]; clash {
			errs = append(errs, fmt.Sprintf("team id %q collides with a worker id", id))
		}
		if len(t.Members) == 0 {
			errs = append(errs, fmt.Sprintf("team %q has no members", id))
		}
		for _, member := range t.Members {
			if _, ok := settings.Workers[member]; !ok {
				errs = append(errs, fmt.Sprintf("team %q: member %q is not a configured worker", id, member))
			}
		}
		if t.Leader == "" {
			errs = append(errs, fmt.Sprintf("team %q has no leader", id))
		} else if !t.HasMember(t.Leader) {
			errs = append(errs, fmt.Sprintf("team %q: leader %q is not a member", id, t.Leader))
		}
	}

	if settings.DefaultWorker != "" {
		if _, ok := settings.Workers[settings.DefaultWorker]; !ok && len(settings.Workers) > 0 {
			errs = append(errs, fmt.Sprintf("default_worker %q is not a configured worker", settings.DefaultWorker))
		}
	}

	if settings.Queue.PollInterval <= 0 {
		errs = append(errs, "queue.poll_interval must be positive")
	}
	if settings.Queue.InvocationTimeout <= 0 {
		errs = append(errs, "queue.invocation_timeout must be positive")
	}
	if settings.Conversation.MaxTurns <= 0 {
		errs = append(errs, "conversation.max_turns must be positive")
	}
	if settings.Conversation.LongResponseThreshold <= 0 {
		errs = append(errs, "conversation.long_response_threshold must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("settings validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
