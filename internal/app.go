// Package internal provides the App struct that wires all components of
// agentq together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/agentq/internal/cli"
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/internal/integration"
	"github.com/valter-silva-au/agentq/internal/observability"
	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// App holds all service dependencies of agentq.
type App struct {
	BasePath string

	// Configuration
	SettingsMgr core.SettingsManager
	Settings    *models.Settings
	// SettingsErr is set when the settings file could not be loaded or is
	// invalid. Commands that do not need workers still run.
	SettingsErr error

	// Storage layer
	Queue       storage.QueueStore
	Pairings    storage.PairingStore
	Transcripts storage.TranscriptStore
	Status      storage.StatusStore

	// Core services
	Router     *core.Router
	Gate       core.PairingGate
	Intake     *core.Intake
	ChannelReg core.ChannelRegistry

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components. basePath is the agentq home
// directory holding settings, the queue and all state.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.SettingsMgr = core.NewSettingsManager(basePath)
	settings, err := app.SettingsMgr.Load()
	if err == nil {
		err = app.SettingsMgr.Validate(settings)
	}
	if err != nil {
		app.SettingsErr = err
		if settings == nil {
			settings = &models.Settings{DefaultWorker: core.DefaultWorkerID}
		}
	}
	app.Settings = settings

	// --- Storage layer ---
	app.Queue, err = storage.NewQueueStore(basePath)
	if err != nil {
		return nil, fmt.Errorf("opening queue: %w", err)
	}
	app.Pairings = storage.NewPairingStore(basePath)
	app.Transcripts = storage.NewTranscriptStore(basePath)
	app.Status = storage.NewStatusStore(basePath)

	// --- Observability ---
	eventLogPath := filepath.Join(basePath, "events.jsonl")
	app.EventLog, err = observability.NewJSONLEventLog(eventLogPath)
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = &eventLogAdapter{log: app.EventLog}
		thresholds := observability.ThresholdsFromSettings(settings.Alerts)
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, app.Queue, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if settings.Notifications.Enabled && settings.Notifications.Slack.WebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(settings.Notifications.Slack.WebhookURL, app.Queue)
	}

	// --- Core services ---
	app.Router = core.NewRouter(settings)
	app.Gate = core.NewPairingGate(app.Pairings, events)
	app.Intake = core.NewIntake(app.Gate, app.Queue, events)

	// --- Channel adapters ---
	app.ChannelReg = core.NewChannelRegistry()
	fileAdapter, fileAdapterErr := integration.NewFileChannelAdapter(integration.FileChannelConfig{
		Name:    string(models.ChannelFile),
		BaseDir: filepath.Join(basePath, "channels", "file"),
	})
	if fileAdapterErr == nil {
		_ = app.ChannelReg.Register(fileAdapter) // Non-fatal if registration fails.
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.SettingsMgr = app.SettingsMgr
	cli.SettingsErr = app.SettingsErr
	cli.Router = app.Router
	cli.Queue = app.Queue
	cli.Transcripts = app.Transcripts
	cli.StatusStore = app.Status
	cli.Gate = app.Gate
	cli.Intake = app.Intake
	cli.ChannelReg = app.ChannelReg
	cli.Events = events

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath returns the agentq home directory: AGENTQ_HOME when set,
// ~/.agentq otherwise.
func ResolveBasePath() string {
	if home := os.Getenv("AGENTQ_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".agentq")
	}
	return filepath.Join(userHome, ".agentq")
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.NewEvent(eventType, data))
}
