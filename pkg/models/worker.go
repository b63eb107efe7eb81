package models

import "time"

// WorkerState is the mailbox state of one worker: Idle → Claimed → Invoking → Idle.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerClaimed  WorkerState = "claimed"
	WorkerInvoking WorkerState = "invoking"
)

// WorkerStatus is a point-in-time view of a worker's mailbox.
type WorkerStatus struct {
	Worker    string      `json:"worker"`
	State     WorkerState `json:"state"`
	Queued    int         `json:"queued"`
	Current   string      `json:"current,omitempty"` // entry being processed
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// InvocationRequest is one turn handed to a worker's provider.
type InvocationRequest struct {
	Worker      WorkerConfig
	Text        string
	Attachments []string
	// Reset starts a fresh provider session instead of continuing the last one.
	Reset     bool
	Workspace string
	Timeout   time.Duration
	// Context is the worker's roster, written into its working directory
	// before the provider starts. Empty leaves the directory untouched.
	Context string
}

// Response is the normalized output of a provider invocation.
type Response struct {
	Text     string
	Provider Provider
	Duration time.Duration
}
