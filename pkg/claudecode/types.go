// Package claudecode implements the stream-json protocol spoken by the Claude
// Code CLI: newline-delimited JSON over stdin/stdout carrying domain messages
// in one direction and a bidirectional control channel multiplexed onto the
// same pipes.
package claudecode

import "encoding/json"

// Message types from Claude Code CLI
const (
	// MessageTypeSystem is an out-of-band system message (init, compact_boundary, ...)
	MessageTypeSystem = "system"
	// MessageTypeAssistant contains content blocks produced by the model
	MessageTypeAssistant = "assistant"
	// MessageTypeUser echoes user turns and tool results back into the stream
	MessageTypeUser = "user"
	// MessageTypeResult terminates a turn with cost and duration accounting
	MessageTypeResult = "result"
	// MessageTypeStreamEvent carries a partial-message event when streaming is on
	MessageTypeStreamEvent = "stream_event"
	// MessageTypeRateLimit reports rate limit status changes
	MessageTypeRateLimit = "rate_limit_event"
	// MessageTypeToolProgress reports elapsed time for a running tool call
	MessageTypeToolProgress = "tool_progress"
	// MessageTypeToolUseSummary summarizes completed tool activity
	MessageTypeToolUseSummary = "tool_use_summary"
	// MessageTypeAuthStatus reports authentication state changes
	MessageTypeAuthStatus = "auth_status"
	// MessageTypePromptSuggestion proposes a follow-up prompt for a UI
	MessageTypePromptSuggestion = "prompt_suggestion"
	// MessageTypeControlRequest is an ask on the control channel
	MessageTypeControlRequest = "control_request"
	// MessageTypeControlResponse answers a control_request
	MessageTypeControlResponse = "control_response"
	// MessageTypeControlCancelRequest withdraws a pending inbound control_request
	MessageTypeControlCancelRequest = "control_cancel_request"
)

// System message subtypes
const (
	// SubtypeInit is the first system message of a session
	SubtypeInit = "init"
	// SubtypeCompactBoundary marks a conversation compaction point
	SubtypeCompactBoundary = "compact_boundary"
	// SubtypeSuccess marks a successful result
	SubtypeSuccess = "success"
)

// Control request subtypes sent to the CLI
const (
	// SubtypeInitialize opens the control handshake and registers hooks
	SubtypeInitialize = "initialize"
	// SubtypeInterrupt asks the CLI to stop the current turn
	SubtypeInterrupt = "interrupt"
	// SubtypeSetModel switches the active model mid-session
	SubtypeSetModel = "set_model"
	// SubtypeSetPermissionMode switches the permission mode
	SubtypeSetPermissionMode = "set_permission_mode"
	// SubtypeRewindFiles restores a file checkpoint
	SubtypeRewindFiles = "rewind_files"
	// SubtypeMCPStatus queries MCP server health
	SubtypeMCPStatus = "mcp_status"
)

// Control request subtypes received from the CLI
const (
	// SubtypeCanUseTool asks for a tool permission decision
	SubtypeCanUseTool = "can_use_tool"
	// SubtypeHookCallback invokes a registered hook by callback ID
	SubtypeHookCallback = "hook_callback"
	// SubtypeMCPMessage routes a JSON-RPC message to an in-process MCP server
	SubtypeMCPMessage = "mcp_message"
)

// Control response subtypes
const (
	// ResponseSuccess acknowledges a control request
	ResponseSuccess = "success"
	// ResponseError rejects a control request with an error string
	ResponseError = "error"
)

// Permission behaviors
const (
	// BehaviorAllow allows the tool use
	BehaviorAllow = "allow"
	// BehaviorDeny denies the tool use
	BehaviorDeny = "deny"
)

// Permission modes accepted by set_permission_mode
const (
	PermissionModeDefault           = "default"
	PermissionModeAcceptEdits       = "acceptEdits"
	PermissionModeBypassPermissions = "bypassPermissions"
	PermissionModePlan              = "plan"
)

// RecordClass partitions incoming records for dispatch. Every record belongs
// to exactly one class.
type RecordClass int

const (
	// RecordMessage is any record that is not part of the control channel
	RecordMessage RecordClass = iota
	// RecordControlRequest is an inbound ask from the CLI
	RecordControlRequest
	// RecordControlResponse answers one of our asks
	RecordControlResponse
)

func (c RecordClass) String() string {
	switch c {
	case RecordControlRequest:
		return MessageTypeControlRequest
	case RecordControlResponse:
		return MessageTypeControlResponse
	default:
		return "message"
	}
}

// SDKControlRequest is a control request sent to Claude Code CLI.
type SDKControlRequest struct {
	Type      string                `json:"type"` // "control_request"
	RequestID string                `json:"request_id"`
	Request   SDKControlRequestBody `json:"request"`
}

// SDKControlRequestBody contains the body of an outbound control request.
// Subtype selects which of the remaining fields are meaningful.
type SDKControlRequestBody struct {
	Subtype string `json:"subtype"`

	// For initialize requests
	Hooks  map[string][]HookTableEntry `json:"hooks,omitempty"`
	Agents map[string]AgentDefinition  `json:"agents,omitempty"`

	// For set_permission_mode requests
	Mode string `json:"mode,omitempty"`

	// For set_model requests. A nil model clears the override, so the field
	// is only serialized for that subtype.
	Model *string `json:"model,omitempty"`

	// For rewind_files requests
	BackupID string `json:"backup_id,omitempty"`
}

// AgentDefinition declares a subagent available to the session.
type AgentDefinition struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// ControlRequest represents a control request from Claude Code CLI.
// Subtype selects which of the remaining fields are populated.
type ControlRequest struct {
	Subtype string `json:"subtype"`

	// For can_use_tool requests
	ToolName              string             `json:"tool_name,omitempty"`
	Input                 map[string]any     `json:"input,omitempty"`
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`
	BlockedPath           string             `json:"blocked_path,omitempty"`

	// For hook_callback requests
	CallbackID string `json:"callback_id,omitempty"`

	// For mcp_message requests
	ServerName string          `json:"server_name,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`

	// ToolUseID correlates can_use_tool and hook_callback with a tool call.
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// ControlResponseEnvelope is the wire form of a control_response in both
// directions: responses sent to CLI asks and responses the CLI sends to ours
// share this shape.
type ControlResponseEnvelope struct {
	Type     string              `json:"type"` // "control_response"
	Response ControlResponseBody `json:"response"`
}

// ControlResponseBody resolves the request named by RequestID. Subtype is
// either "success" with an optional payload or "error" with a message.
type ControlResponseBody struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ControlCancelRequest withdraws a still-unanswered inbound control_request.
type ControlCancelRequest struct {
	Type      string `json:"type"` // "control_cancel_request"
	RequestID string `json:"request_id"`
}

// PermissionResult is the host's decision on a can_use_tool request.
type PermissionResult struct {
	// Behavior is "allow" or "deny"
	Behavior string `json:"behavior"`

	// UpdatedInput replaces the tool input when allowing
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`

	// UpdatedPermissions adds permission rules for future requests
	UpdatedPermissions []PermissionUpdate `json:"updatedPermissions,omitempty"`

	// Message provides feedback to the model (for deny)
	Message string `json:"message,omitempty"`

	// Interrupt stops the current operation (for deny)
	Interrupt bool `json:"interrupt,omitempty"`
}

// PermissionUpdate modifies the permission rule set. It arrives in
// can_use_tool suggestions and is echoed back in decisions, so unset fields
// are omitted rather than zeroed.
type PermissionUpdate struct {
	Type        string                `json:"type"`
	Rules       []PermissionRuleValue `json:"rules,omitempty"`
	Behavior    string                `json:"behavior,omitempty"`
	Mode        string                `json:"mode,omitempty"`
	Directories []string              `json:"directories,omitempty"`
	Destination string                `json:"destination,omitempty"`
}

// PermissionRuleValue names a tool and an optional argument pattern.
type PermissionRuleValue struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

// SlashCommand describes one command advertised by the CLI at initialize.
type SlashCommand struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ArgumentHint string `json:"argument_hint,omitempty"`
}

// InitializeResult is the CLI's answer to the initialize handshake.
type InitializeResult struct {
	Commands    []SlashCommand `json:"commands,omitempty"`
	Agents      []string       `json:"agents,omitempty"`
	OutputStyle string         `json:"output_style,omitempty"`

	// Raw preserves the full payload for fields this struct does not model.
	Raw json.RawMessage `json:"-"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// ModelUsageStats contains per-model usage statistics from the result message.
// The context_window field provides the actual model context window size.
type ModelUsageStats struct {
	ContextWindow *int64 `json:"context_window,omitempty"`
}

// UserInputMessage is an outbound user turn written to the CLI's stdin.
type UserInputMessage struct {
	Type            string               `json:"type"` // "user"
	Message         UserInputMessageBody `json:"message"`
	ParentToolUseID *string              `json:"parent_tool_use_id"`
	SessionID       string               `json:"session_id,omitempty"`
}

// UserInputMessageBody contains the user message content. Content is either a
// plain string or a list of content blocks.
type UserInputMessageBody struct {
	Role    string `json:"role"` // "user"
	Content any    `json:"content"`
}

// NewUserInputMessage builds an outbound user turn from plain text.
func NewUserInputMessage(text, sessionID string) *UserInputMessage {
	return &UserInputMessage{
		Type:      MessageTypeUser,
		Message:   UserInputMessageBody{Role: "user", Content: text},
		SessionID: sessionID,
	}
}

// NewUserInputBlocks builds an outbound user turn from content blocks, used
// for tool results and mixed content. The blocks are wrapped so they encode
// with their type discriminators.
func NewUserInputBlocks(blocks []ContentBlock, sessionID string) *UserInputMessage {
	return &UserInputMessage{
		Type:      MessageTypeUser,
		Message:   UserInputMessageBody{Role: "user", Content: ContentBlocks(blocks)},
		SessionID: sessionID,
	}
}

// Common tool names that require permission
const (
	ToolBash         = "Bash"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolNotebookEdit = "NotebookEdit"
	ToolRead         = "Read"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolTask         = "Task"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
)
