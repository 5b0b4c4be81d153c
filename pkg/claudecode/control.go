package claudecode

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Classify assigns an incoming record to exactly one dispatch class based on
// its top-level type. Records that are not control traffic, including ones
// that fail the shallow probe, classify as domain messages and are left to
// the message parser to accept or reject.
func Classify(record []byte) RecordClass {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(record, &probe); err != nil {
		return RecordMessage
	}
	switch probe.Type {
	case MessageTypeControlRequest:
		return RecordControlRequest
	case MessageTypeControlResponse:
		return RecordControlResponse
	default:
		return RecordMessage
	}
}

// requestIDGenerator issues correlation IDs of the form req_<n>_<hex8>. The
// counter keeps IDs ordered within a connection; the random suffix keeps them
// unique across reconnects, where the counter restarts.
type requestIDGenerator struct {
	counter atomic.Int64
}

func (g *requestIDGenerator) next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("req_%d_%s", n, uuid.NewString()[:8])
}

// NewInitializeRequest builds the handshake request carrying the hook wire
// table and subagent definitions.
func NewInitializeRequest(requestID string, hooks map[string][]HookTableEntry, agents map[string]AgentDefinition) *SDKControlRequest {
	return &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request: SDKControlRequestBody{
			Subtype: SubtypeInitialize,
			Hooks:   hooks,
			Agents:  agents,
		},
	}
}

// NewInterruptRequest builds an interrupt for the current turn.
func NewInterruptRequest(requestID string) *SDKControlRequest {
	return &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request:   SDKControlRequestBody{Subtype: SubtypeInterrupt},
	}
}

// NewSetModelRequest builds a model switch. A nil model clears the override.
func NewSetModelRequest(requestID string, model *string) *SDKControlRequest {
	return &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request:   SDKControlRequestBody{Subtype: SubtypeSetModel, Model: model},
	}
}

// NewSetPermissionModeRequest builds a permission mode switch.
func NewSetPermissionModeRequest(requestID, mode string) *SDKControlRequest {
	return &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request:   SDKControlRequestBody{Subtype: SubtypeSetPermissionMode, Mode: mode},
	}
}

// NewRewindFilesRequest builds a checkpoint restore.
func NewRewindFilesRequest(requestID, backupID string) *SDKControlRequest {
	return &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request:   SDKControlRequestBody{Subtype: SubtypeRewindFiles, BackupID: backupID},
	}
}

// NewMCPStatusRequest builds an MCP server health query.
func NewMCPStatusRequest(requestID string) *SDKControlRequest {
	return &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request:   SDKControlRequestBody{Subtype: SubtypeMCPStatus},
	}
}

// SuccessResponse builds a success control_response for an inbound ask.
func SuccessResponse(requestID string, data any) (*ControlResponseEnvelope, error) {
	var payload json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode control response payload: %w", err)
		}
		payload = encoded
	}
	return &ControlResponseEnvelope{
		Type: MessageTypeControlResponse,
		Response: ControlResponseBody{
			Subtype:   ResponseSuccess,
			RequestID: requestID,
			Response:  payload,
		},
	}, nil
}

// ErrorResponse builds an error control_response for an inbound ask.
func ErrorResponse(requestID, message string) *ControlResponseEnvelope {
	return &ControlResponseEnvelope{
		Type: MessageTypeControlResponse,
		Response: ControlResponseBody{
			Subtype:   ResponseError,
			RequestID: requestID,
			Error:     message,
		},
	}
}

// ParseControlResponse decodes a control_response record and returns its body.
// Callers reach it only after Classify, which proved the record decodes as
// JSON, so a failure here is a shape mismatch in one record, not a broken
// stream: it is reported as a ParseError and the record is skippable.
func ParseControlResponse(record []byte) (*ControlResponseBody, error) {
	var env ControlResponseEnvelope
	if err := json.Unmarshal(record, &env); err != nil {
		return nil, &ParseError{MessageType: MessageTypeControlResponse, Err: err}
	}
	if env.Response.RequestID == "" {
		return nil, missingFieldsError(MessageTypeControlResponse, "response.request_id")
	}
	if env.Response.Subtype == "" {
		return nil, missingFieldsError(MessageTypeControlResponse, "response.subtype")
	}
	return &env.Response, nil
}

// ParseControlRequest decodes an inbound control_request record.
func ParseControlRequest(record []byte) (requestID string, req *ControlRequest, err error) {
	var env struct {
		Type      string          `json:"type"`
		RequestID string          `json:"request_id"`
		Request   *ControlRequest `json:"request"`
	}
	if err := json.Unmarshal(record, &env); err != nil {
		// Same contract as ParseControlResponse: Classify already proved the
		// record is valid JSON, so this is a per-record shape mismatch.
		return "", nil, &ParseError{MessageType: MessageTypeControlRequest, Err: err}
	}
	if env.RequestID == "" {
		return "", nil, missingFieldsError(MessageTypeControlRequest, "request_id")
	}
	// Keep the ID on the remaining failures so the caller can still answer
	// the ask with an error response.
	if env.Request == nil {
		return env.RequestID, nil, missingFieldsError(MessageTypeControlRequest, "request")
	}
	if env.Request.Subtype == "" {
		return env.RequestID, nil, missingFieldsError(MessageTypeControlRequest, "request.subtype")
	}
	return env.RequestID, env.Request, nil
}

// ParseControlCancel decodes a control_cancel_request record.
func ParseControlCancel(record []byte) (*ControlCancelRequest, error) {
	var cancel ControlCancelRequest
	if err := json.Unmarshal(record, &cancel); err != nil {
		return nil, &ParseError{MessageType: MessageTypeControlCancelRequest, Err: err}
	}
	if cancel.RequestID == "" {
		return nil, missingFieldsError(MessageTypeControlCancelRequest, "request_id")
	}
	return &cancel, nil
}

// ParseInitializeResult decodes the payload of a successful initialize
// response, retaining the raw payload alongside the modeled fields.
func ParseInitializeResult(payload json.RawMessage) (*InitializeResult, error) {
	info := &InitializeResult{Raw: payload}
	if len(payload) == 0 {
		return info, nil
	}
	if err := json.Unmarshal(payload, info); err != nil {
		return nil, fmt.Errorf("decode initialize response: %w", err)
	}
	return info, nil
}
