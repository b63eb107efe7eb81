package cli

import (
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/internal/observability"
	"github.com/valter-silva-au/agentq/internal/storage"
)

// BasePath is the agentq home directory, set during app initialization.
var BasePath string

// Configuration, set during app initialization in app.go. SettingsErr holds
// the load or validation error of the settings file, if any.
var (
	SettingsMgr core.SettingsManager
	SettingsErr error
	Router      *core.Router
)

// Queue and engine service instances, set during app initialization in app.go.
var (
	Queue       storage.QueueStore
	Transcripts storage.TranscriptStore
	StatusStore storage.StatusStore
	Gate        core.PairingGate
	Intake      *core.Intake
	ChannelReg  core.ChannelRegistry
	Events      core.EventLogger
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)
