// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the agentq queue as MCP tools for AI coding assistants.
package mcp

import (
	"context"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/agentq/internal/core"
	"github.com/valter-silva-au/agentq/internal/observability"
	"github.com/valter-silva-au/agentq/internal/storage"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// Channel is the channel name recorded on messages sent through MCP.
const Channel = string(models.ChannelMCP)

// Deps are the services the MCP tools operate on. MetricsCalc may be nil
// when observability is disabled.
type Deps struct {
	Intake      *core.Intake
	Queue       storage.QueueStore
	Pairing     core.PairingGate
	Transcripts storage.TranscriptStore
	MetricsCalc observability.MetricsCalculator
}

// Server wraps agentq services and exposes them as MCP tools.
type Server struct {
	server *gomcp.Server
	deps   Deps
}

// NewServer creates a new MCP server over deps.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{deps: deps}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "agentq", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type sendMessageInput struct {
	Sender      string   `json:"sender" jsonschema:"required,the sender identity; unknown senders receive a pairing code"`
	Text        string   `json:"text" jsonschema:"required,message text, optionally starting with @worker or @team"`
	Attachments []string `json:"attachments,omitempty" jsonschema:"absolute paths of files to attach"`
}

type sendMessageOutput struct {
	EntryID     string `json:"entry_id,omitempty"`
	Paired      bool   `json:"paired"`
	PairingCode string `json:"pairing_code,omitempty"`
	Message     string `json:"message"`
}

type queueStatusInput struct{}

type queueStatusOutput struct {
	Incoming    int `json:"incoming"`
	Processing  int `json:"processing"`
	Outgoing    int `json:"outgoing"`
	Quarantined int `json:"quarantined"`
}

type listPairingsInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter by pending or approved; both when empty"`
}

type pairingOutput struct {
	Channel     string `json:"channel"`
	Sender      string `json:"sender"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
	RequestedAt string `json:"requested_at"`
}

type listPairingsOutput struct {
	Pairings []pairingOutput `json:"pairings"`
	Count    int             `json:"count"`
}

type approvePairingInput struct {
	Code string `json:"code" jsonschema:"required,the pairing code shown to the sender"`
}

type approvePairingOutput struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type getConversationInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,the conversation identifier"`
}

type turnOutput struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	At      string `json:"at"`
}

type conversationOutput struct {
	ID      string       `json:"id"`
	TeamID  string       `json:"team_id,omitempty"`
	Status  string       `json:"status"`
	Pending int          `json:"pending"`
	Started string       `json:"started_at"`
	Turns   []turnOutput `json:"turns"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 24h). Defaults to 7d."`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "send_message",
		Description: "Offer a message to the queue through the pairing gate. Prefix the text with @worker or @team to address it.",
	}, s.handleSendMessage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "queue_status",
		Description: "Count queue entries per stage, including quarantined corrupt entries.",
	}, s.handleQueueStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_pairings",
		Description: "List pending and approved sender pairings.",
	}, s.handleListPairings)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "approve_pairing",
		Description: "Approve the pending sender holding the given pairing code.",
	}, s.handleApprovePairing)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_conversation",
		Description: "Get a team conversation with all of its turns.",
	}, s.handleGetConversation)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get queue and conversation metrics aggregated from the event log.",
	}, s.handleGetMetrics)
}

// --- Tool handlers ---

func (s *Server) handleSendMessage(_ context.Context, _ *gomcp.CallToolRequest, input sendMessageInput) (*gomcp.CallToolResult, sendMessageOutput, error) {
	if input.Sender == "" {
		return errorResult("sender is required"), sendMessageOutput{}, nil
	}
	adm, err := s.deps.Intake.Admit(core.Message{
		Channel:     Channel,
		Sender:      input.Sender,
		Text:        input.Text,
		Attachments: input.Attachments,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("sending message: %s", err)), sendMessageOutput{}, nil
	}
	if adm.Entry == nil {
		return nil, sendMessageOutput{
			PairingCode: adm.Pairing.Code,
			Message:     fmt.Sprintf("sender %s is not paired; approve code %s first", input.Sender, adm.Pairing.Code),
		}, nil
	}
	return nil, sendMessageOutput{
		EntryID: adm.Entry.ID,
		Paired:  true,
		Message: fmt.Sprintf("message queued as %s", adm.Entry.ID),
	}, nil
}

func (s *Server) handleQueueStatus(_ context.Context, _ *gomcp.CallToolRequest, _ queueStatusInput) (*gomcp.CallToolResult, queueStatusOutput, error) {
	stats, err := s.deps.Queue.Stats()
	if err != nil {
		return errorResult(fmt.Sprintf("reading queue stats: %s", err)), queueStatusOutput{}, nil
	}
	return nil, queueStatusOutput(stats), nil
}

func (s *Server) handleListPairings(_ context.Context, _ *gomcp.CallToolRequest, input listPairingsInput) (*gomcp.CallToolResult, listPairingsOutput, error) {
	var records []models.PairingRecord
	switch models.PairingStatus(input.Status) {
	case "", models.PairingPending, models.PairingApproved:
	default:
		return errorResult(fmt.Sprintf("invalid status %q: must be pending or approved", input.Status)), listPairingsOutput{}, nil
	}

	if input.Status == "" || input.Status == string(models.PairingPending) {
		pending, err := s.deps.Pairing.ListPending()
		if err != nil {
			return errorResult(fmt.Sprintf("listing pending pairings: %s", err)), listPairingsOutput{}, nil
		}
		records = append(records, pending...)
	}
	if input.Status == "" || input.Status == string(models.PairingApproved) {
		approved, err := s.deps.Pairing.ListApproved()
		if err != nil {
			return errorResult(fmt.Sprintf("listing approved pairings: %s", err)), listPairingsOutput{}, nil
		}
		records = append(records, approved...)
	}

	out := listPairingsOutput{Pairings: make([]pairingOutput, len(records)), Count: len(records)}
	for i, r := range records {
		out.Pairings[i] = pairingOutput{
			Channel:     r.Channel,
			Sender:      r.Sender,
			Status:      string(r.Status),
			Code:        r.Code,
			RequestedAt: r.RequestedAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func (s *Server) handleApprovePairing(_ context.Context, _ *gomcp.CallToolRequest, input approvePairingInput) (*gomcp.CallToolResult, approvePairingOutput, error) {
	if input.Code == "" {
		return errorResult("code is required"), approvePairingOutput{}, nil
	}
	rec, err := s.deps.Pairing.Approve(input.Code)
	if err != nil {
		return errorResult(fmt.Sprintf("approving pairing: %s", err)), approvePairingOutput{}, nil
	}
	return nil, approvePairingOutput{
		Channel: rec.Channel,
		Sender:  rec.Sender,
		Message: fmt.Sprintf("approved %s on %s", rec.Sender, rec.Channel),
	}, nil
}

func (s *Server) handleGetConversation(_ context.Context, _ *gomcp.CallToolRequest, input getConversationInput) (*gomcp.CallToolResult, conversationOutput, error) {
	if input.ConversationID == "" {
		return errorResult("conversation_id is required"), conversationOutput{}, nil
	}
	conv, err := s.deps.Transcripts.Load(input.ConversationID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading conversation %s: %s", input.ConversationID, err)), conversationOutput{}, nil
	}

	out := conversationOutput{
		ID:      conv.ID,
		TeamID:  conv.TeamID,
		Status:  string(conv.Status),
		Pending: conv.Pending,
		Started: conv.Started.Format(time.RFC3339),
		Turns:   make([]turnOutput, len(conv.Turns)),
	}
	for i, turn := range conv.Turns {
		out.Turns[i] = turnOutput{Speaker: turn.Speaker, Text: turn.Text, At: turn.At.Format(time.RFC3339)}
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, observability.Metrics, error) {
	if s.deps.MetricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetrics(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}
	since, err := ParseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetrics(), nil
	}

	m, err := s.deps.MetricsCalc.Calculate(since)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetrics(), nil
	}
	return nil, *m, nil
}

// --- Helpers ---

func emptyMetrics() observability.Metrics {
	return observability.Metrics{
		TurnsByWorker:    make(map[string]int),
		FailuresByWorker: make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a duration like "7d" or "24h" into the corresponding
// time in the past.
func ParseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	var num int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
