package models

import "time"

// Stage is a queue directory. An entry's stage is where its file lives; it is
// never stored inside the file.
type Stage string

const (
	StageIncoming   Stage = "incoming"
	StageProcessing Stage = "processing"
	StageOutgoing   Stage = "outgoing"
)

// Stages lists the three stage directories in pipeline order.
var Stages = []Stage{StageIncoming, StageProcessing, StageOutgoing}

// QueueEntry is one message unit persisted as a JSON file under queue/<stage>/.
type QueueEntry struct {
	ID             string    `json:"id"`
	Channel        string    `json:"channel"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Attachments    []string  `json:"attachments,omitempty"`
	Destination    string    `json:"destination,omitempty"`
	TeamContextID  string    `json:"team_context_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	FromWorker     string    `json:"from_worker,omitempty"`
	Reset          bool      `json:"reset"`
	CreatedAt      time.Time `json:"created_at"`

	// Reply is set only once the entry has been completed into outgoing.
	Reply *Reply `json:"reply,omitempty"`
}

// IsInternal reports whether the entry was produced by a handoff.
func (e QueueEntry) IsInternal() bool {
	return e.ConversationID != ""
}

// Reply is the result payload written before an entry moves to outgoing.
type Reply struct {
	Worker         string    `json:"worker"`
	Text           string    `json:"text"`
	Files          []string  `json:"files,omitempty"`
	LongResponse   bool      `json:"long_response"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Failed reports whether the reply is a failure notice rather than a worker answer.
func (r Reply) Failed() bool {
	return r.Error != ""
}

// RoutingResult is the Router's decision for one entry.
type RoutingResult struct {
	Worker string
	TeamID string // set when the message addressed a team
	Text   string // message body with the routing prefix and directives removed
	Reset  bool
}

// Mention is a handoff directive found in a worker reply. It is derived on
// every turn and never persisted.
type Mention struct {
	Target    string
	Text      string
	CrossTeam bool
}

// QueueStats counts entries per stage.
type QueueStats struct {
	Incoming    int `json:"incoming"`
	Processing  int `json:"processing"`
	Outgoing    int `json:"outgoing"`
	Quarantined int `json:"quarantined"`
}
