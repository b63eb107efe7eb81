package models

import "time"

// Provider names the backing CLI a worker runs on.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic" // claude CLI, plain text output
	ProviderOpenAI    Provider = "openai"    // codex CLI, JSONL event stream
	ProviderOpenCode  Provider = "opencode"  // opencode CLI, JSONL event stream
)

// WorkerConfig describes one AI worker. The engine treats it as read-only.
type WorkerConfig struct {
	ID               string   `yaml:"-" mapstructure:"-"`
	Name             string   `yaml:"name" mapstructure:"name"`
	Provider         Provider `yaml:"provider" mapstructure:"provider"`
	Model            string   `yaml:"model" mapstructure:"model"`
	WorkingDirectory string   `yaml:"working_directory" mapstructure:"working_directory"`
	Role             string   `yaml:"role,omitempty" mapstructure:"role"`
	// Command overrides the provider's default executable.
	Command string `yaml:"command,omitempty" mapstructure:"command"`
}

// TeamConfig groups workers behind a leader.
type TeamConfig struct {
	ID        string   `yaml:"-" mapstructure:"-"`
	Name      string   `yaml:"name" mapstructure:"name"`
	Members   []string `yaml:"members" mapstructure:"members"`
	Leader    string   `yaml:"leader" mapstructure:"leader"`
	Namespace string   `yaml:"namespace,omitempty" mapstructure:"namespace"`
}

// HasMember reports whether id is one of the team's members.
func (t TeamConfig) HasMember(id string) bool {
	for _, m := range t.Members {
		if m == id {
			return true
		}
	}
	return false
}

// QueueSettings tunes the dispatcher.
type QueueSettings struct {
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	InvocationTimeout time.Duration `yaml:"invocation_timeout" mapstructure:"invocation_timeout"`
}

// ConversationSettings tunes the conversation tracker.
type ConversationSettings struct {
	MaxTurns              int `yaml:"max_turns" mapstructure:"max_turns"`
	LongResponseThreshold int `yaml:"long_response_threshold" mapstructure:"long_response_threshold"`
}

// AlertSettings configures queue-health alert thresholds.
type AlertSettings struct {
	MaxIncomingBacklog    int `yaml:"max_incoming_backlog" mapstructure:"max_incoming_backlog"`
	MaxInvocationFailures int `yaml:"max_invocation_failures" mapstructure:"max_invocation_failures"`
	FailureWindowHours    int `yaml:"failure_window_hours" mapstructure:"failure_window_hours"`
}

// SlackSettings holds the webhook used for alert notifications.
type SlackSettings struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// NotificationSettings controls alert delivery.
type NotificationSettings struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Slack   SlackSettings `yaml:"slack" mapstructure:"slack"`
}

// Settings is the full configuration snapshot supplied at start and on reload.
type Settings struct {
	DefaultWorker string                  `yaml:"default_worker" mapstructure:"default_worker"`
	Workspace     string                  `yaml:"workspace" mapstructure:"workspace"`
	Workers       map[string]WorkerConfig `yaml:"workers" mapstructure:"workers"`
	Teams         map[string]TeamConfig   `yaml:"teams" mapstructure:"teams"`
	Queue         QueueSettings           `yaml:"queue" mapstructure:"queue"`
	Conversation  ConversationSettings    `yaml:"conversation" mapstructure:"conversation"`
	Alerts        AlertSettings           `yaml:"alerts" mapstructure:"alerts"`
	Notifications NotificationSettings    `yaml:"notifications" mapstructure:"notifications"`
}

// Worker returns the worker with the given id.
func (s *Settings) Worker(id string) (WorkerConfig, bool) {
	w, ok := s.Workers[id]
	return w, ok
}

// Team returns the team with the given id.
func (s *Settings) Team(id string) (TeamConfig, bool) {
	t, ok := s.Teams[id]
	return t, ok
}

// TeamOf returns the first team (by id order) that lists the worker as a member.
func (s *Settings) TeamOf(workerID string) (TeamConfig, bool) {
	var best TeamConfig
	found := false
	for id, t := range s.Teams {
		if !t.HasMember(workerID) {
			continue
		}
		if !found || id < best.ID {
			best = t
			found = true
		}
	}
	return best, found
}
