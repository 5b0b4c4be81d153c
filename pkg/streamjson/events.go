package streamjson

import (
	"github.com/kandev/agentwire/pkg/claudecode"
)

// Status is the adapter's connection state. Connect moves the adapter
// through provisioning into ready; a dead pipe moves it to disconnected;
// a spawn failure or handshake timeout moves it to error.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// EventType discriminates the events delivered on Updates().
type EventType string

const (
	// EventTypeStatus reports a connection state change.
	EventTypeStatus EventType = "adapter_status"
	// EventTypeMessage delivers one decoded domain message.
	EventTypeMessage EventType = "adapter_message"
	// EventTypeDone reports the end of a query turn with its outcome.
	EventTypeDone EventType = "adapter_done"
)

// OutcomeKind classifies how a query turn ended.
type OutcomeKind string

const (
	// OutcomeResult is normal completion: the turn ended in a result record.
	OutcomeResult OutcomeKind = "result"
	// OutcomeInterrupted is a turn that ended without a result record after
	// an interrupt. The protocol guarantees termination but not a terminal
	// result, so this is a valid completion, not an error.
	OutcomeInterrupted OutcomeKind = "interrupted"
	// OutcomeDisconnect is a turn cut short by the connection dying.
	OutcomeDisconnect OutcomeKind = "disconnect"
)

// Outcome is the terminal state of one query turn.
type Outcome struct {
	Kind   OutcomeKind
	Result *claudecode.ResultMessage // set for OutcomeResult
	Err    error                     // set for OutcomeDisconnect
}

// Event is one asynchronous notification from the adapter. Type selects
// which of the remaining fields are populated.
type Event struct {
	Type EventType

	// For EventTypeStatus
	Status Status
	Reason string

	// Ref identifies the query turn for message and done events. Empty for
	// messages that arrive outside a query (session init, auth status).
	Ref string

	// For EventTypeMessage
	Message claudecode.Message

	// For EventTypeDone
	Outcome *Outcome
}

// Health is the result of a health probe.
type Health struct {
	Healthy bool
	Reason  string
}
