package claudecode

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected is returned when an operation requires a live CLI connection.
	ErrNotConnected = errors.New("not connected to CLI")
	// ErrAlreadyConnected is returned when Connect is called on a live connection.
	ErrAlreadyConnected = errors.New("already connected to CLI")
	// ErrDisconnected resolves operations that were in flight when the connection died.
	ErrDisconnected = errors.New("CLI connection closed")
	// ErrControlTimeout resolves a control request whose response never arrived in time.
	ErrControlTimeout = errors.New("control request timed out")
	// ErrInitializeTimeout is reported when the CLI never acknowledges the initialize handshake.
	ErrInitializeTimeout = errors.New("initialize handshake timed out")
	// ErrQueryInFlight is returned when a query is submitted while another is active.
	ErrQueryInFlight = errors.New("query already in flight")
	// ErrUnknownMessageType marks a record whose top-level type is not part of the protocol.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnknownBlockType marks a content block whose type is outside the modeled set.
	ErrUnknownBlockType = errors.New("unknown content block type")
	// ErrLineTooLong marks a stdout line that exceeded the buffer limit.
	ErrLineTooLong = errors.New("line exceeds maximum buffer size")
)

// ParseError describes a protocol record that could not be decoded into a
// typed message. Records that fail with a ParseError are skipped; the stream
// itself stays usable.
type ParseError struct {
	// MessageType is the top-level type of the offending record, if present.
	MessageType string
	// MissingFields lists required fields the record did not carry.
	MissingFields []string
	// Err is the underlying cause when the failure was not a missing field.
	Err error
}

func (e *ParseError) Error() string {
	switch {
	case len(e.MissingFields) > 0:
		return fmt.Sprintf("parse %s message: missing fields: %s", e.MessageType, strings.Join(e.MissingFields, ", "))
	case e.Err != nil:
		return fmt.Sprintf("parse %s message: %v", e.MessageType, e.Err)
	default:
		return fmt.Sprintf("parse %s message failed", e.MessageType)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// ControlError carries an error string reported by the CLI in a control_response.
type ControlError struct {
	RequestID string
	Subtype   string
	Message   string
}

func (e *ControlError) Error() string {
	if e.Subtype != "" {
		return fmt.Sprintf("control request %s (%s) failed: %s", e.RequestID, e.Subtype, e.Message)
	}
	return fmt.Sprintf("control request %s failed: %s", e.RequestID, e.Message)
}

func missingFieldsError(messageType string, fields ...string) *ParseError {
	return &ParseError{MessageType: messageType, MissingFields: fields}
}
