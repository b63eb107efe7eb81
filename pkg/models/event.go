package models

// Event types recorded in the event log. Data keys per type are listed next
// to each constant.
const (
	EventMessageAdmitted      = "message.admitted"       // entry_id, channel, sender
	EventMessageRouted        = "message.routed"         // entry_id, worker, team, internal
	EventMessageUnknownTarget = "message.unknown_target" // entry_id, error
	EventTurnCompleted        = "turn.completed"         // entry_id, worker, conversation, mentions, handoffs, duration_ms
	EventHandoffEnqueued      = "handoff.enqueued"       // entry_id, conversation, from, to, cross_team
	EventInvocationFailed     = "invocation.failed"      // entry_id, worker, error
	EventConversationDone     = "conversation.completed" // conversation, team, turns
	EventConversationCapped   = "conversation.truncated" // conversation, team, turns
	EventEntryQuarantined     = "entry.quarantined"      // entry_id
	EventOrphanRecovered      = "orphan.recovered"       // entry_id
	EventPairingRequested     = "pairing.requested"      // channel, sender
	EventPairingApproved      = "pairing.approved"       // channel, sender
	EventPairingRevoked       = "pairing.revoked"        // channel, sender
)
