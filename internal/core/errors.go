package core

import "errors"

var (
	// ErrUnknownTarget is returned when a message or handoff names an id that
	// is neither a worker nor a team, or when no default worker exists.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrUnknownCode is returned when a pairing approval code matches no
	// pending record.
	ErrUnknownCode = errors.New("unknown pairing code")

	// ErrNotPaired is returned when an unapproved sender tries to enqueue.
	ErrNotPaired = errors.New("sender is not paired")
)
