package claudecode

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one decoded domain record from the CLI stream. The concrete type
// is determined by the record's type field, with system messages dispatched a
// second time on their subtype.
type Message interface {
	messageType() string
}

// SystemInitMessage is the first message of a session, carrying the session
// ID and the CLI's capability inventory.
type SystemInitMessage struct {
	SessionID      string            `json:"session_id"`
	CWD            string            `json:"cwd,omitempty"`
	Tools          []string          `json:"tools,omitempty"`
	MCPServers     []MCPServerStatus `json:"mcp_servers,omitempty"`
	Model          string            `json:"model,omitempty"`
	PermissionMode string            `json:"permissionMode,omitempty"`
	SlashCommands  []string          `json:"slash_commands,omitempty"`
	APIKeySource   string            `json:"apiKeySource,omitempty"`
	OutputStyle    string            `json:"output_style,omitempty"`
	Agents         []string          `json:"agents,omitempty"`
	UUID           string            `json:"uuid,omitempty"`
}

func (*SystemInitMessage) messageType() string { return MessageTypeSystem }

// MCPServerStatus is one server entry of the init message inventory.
type MCPServerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// SystemCompactBoundaryMessage marks the point where the CLI compacted the
// conversation history.
type SystemCompactBoundaryMessage struct {
	SessionID       string          `json:"session_id,omitempty"`
	CompactMetadata CompactMetadata `json:"compact_metadata"`
	UUID            string          `json:"uuid,omitempty"`
}

func (*SystemCompactBoundaryMessage) messageType() string { return MessageTypeSystem }

// CompactMetadata describes why a compaction happened and how large the
// conversation was before it.
type CompactMetadata struct {
	Trigger   string `json:"trigger"` // "manual" or "auto"
	PreTokens int64  `json:"pre_tokens,omitempty"`
}

// SystemMessage is any system subtype without a dedicated shape. The full
// record is retained in Data so unrecognized subtypes lose nothing.
type SystemMessage struct {
	Subtype   string         `json:"subtype"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"-"`
}

func (*SystemMessage) messageType() string { return MessageTypeSystem }

// AssistantMessage contains the content blocks of one assistant turn.
type AssistantMessage struct {
	Content         []ContentBlock
	Model           string
	StopReason      string
	Usage           *Usage
	ParentToolUseID string
	SessionID       string
	UUID            string
	// Error is set when the CLI attaches a turn-level error.
	Error string
}

func (*AssistantMessage) messageType() string { return MessageTypeAssistant }

// TextContent joins the text blocks of the message with newlines.
func (m *AssistantMessage) TextContent() string {
	var parts []string
	for _, block := range m.Content {
		if text, ok := block.(*TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use blocks of the message in order.
func (m *AssistantMessage) ToolUses() []*ToolUseBlock {
	var uses []*ToolUseBlock
	for _, block := range m.Content {
		if use, ok := block.(*ToolUseBlock); ok {
			uses = append(uses, use)
		}
	}
	return uses
}

// UserMessage is a user turn echoed back into the stream: the original
// prompt, a replayed turn on resume, or a synthetic turn carrying tool
// results.
type UserMessage struct {
	Content         *UserContent
	ParentToolUseID string
	SessionID       string
	UUID            string
	IsReplay        bool
	IsSynthetic     bool
	// ToolUseResult carries structured agent results on synthetic turns.
	ToolUseResult json.RawMessage
}

func (*UserMessage) messageType() string { return MessageTypeUser }

// ResultMessage terminates a turn with status and accounting.
type ResultMessage struct {
	Subtype       string
	DurationMS    int64
	DurationAPIMS int64
	IsError       bool
	NumTurns      int
	SessionID     string
	TotalCostUSD  *float64
	Usage         *Usage
	ModelUsage    map[string]ModelUsageStats
	// Result is the final text for success subtypes, or an error description.
	Result string
	UUID   string
}

func (*ResultMessage) messageType() string { return MessageTypeResult }

// StreamEventMessage wraps one partial-message event emitted while streaming.
type StreamEventMessage struct {
	UUID            string
	SessionID       string
	Event           *StreamEvent
	ParentToolUseID string
}

func (*StreamEventMessage) messageType() string { return MessageTypeStreamEvent }

// RateLimitMessage reports a rate limit status change.
type RateLimitMessage struct {
	Info      map[string]any
	SessionID string
}

func (*RateLimitMessage) messageType() string { return MessageTypeRateLimit }

// ToolProgressMessage reports elapsed time for a still-running tool call.
type ToolProgressMessage struct {
	ToolName           string
	ToolUseID          string
	ParentToolUseID    string
	ElapsedTimeSeconds float64
	SessionID          string
	UUID               string
}

func (*ToolProgressMessage) messageType() string { return MessageTypeToolProgress }

// ToolUseSummaryMessage is a model-generated summary of completed tool calls.
type ToolUseSummaryMessage struct {
	Summary             string
	PrecedingToolUseIDs []string
	SessionID           string
	UUID                string
}

func (*ToolUseSummaryMessage) messageType() string { return MessageTypeToolUseSummary }

// AuthStatusMessage reports authentication state changes.
type AuthStatusMessage struct {
	IsAuthenticating bool
	Output           string
	Error            string
	SessionID        string
}

func (*AuthStatusMessage) messageType() string { return MessageTypeAuthStatus }

// PromptSuggestionMessage proposes a follow-up prompt for display.
type PromptSuggestionMessage struct {
	Suggestion string
	SessionID  string
	UUID       string
}

func (*PromptSuggestionMessage) messageType() string { return MessageTypePromptSuggestion }

// MessageSession extracts the session ID carried by a message, if any.
func MessageSession(msg Message) string {
	switch m := msg.(type) {
	case *SystemInitMessage:
		return m.SessionID
	case *SystemCompactBoundaryMessage:
		return m.SessionID
	case *SystemMessage:
		return m.SessionID
	case *AssistantMessage:
		return m.SessionID
	case *UserMessage:
		return m.SessionID
	case *ResultMessage:
		return m.SessionID
	case *StreamEventMessage:
		return m.SessionID
	case *RateLimitMessage:
		return m.SessionID
	case *ToolProgressMessage:
		return m.SessionID
	case *ToolUseSummaryMessage:
		return m.SessionID
	case *AuthStatusMessage:
		return m.SessionID
	case *PromptSuggestionMessage:
		return m.SessionID
	default:
		return ""
	}
}

// ParseMessage decodes one domain record into its typed variant. A record
// whose type or required fields cannot be handled returns a *ParseError and
// a nil message; the caller skips it and the stream continues. A line that is
// not valid JSON at all returns a non-ParseError error, which callers treat
// as fatal to the stream.
func ParseMessage(line []byte) (Message, error) {
	var probe struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("undecodable record: %w", err)
	}

	switch probe.Type {
	case MessageTypeSystem:
		return parseSystemMessage(line, probe.Subtype)
	case MessageTypeAssistant:
		return parseAssistantMessage(line)
	case MessageTypeUser:
		return parseUserMessage(line)
	case MessageTypeResult:
		return parseResultMessage(line)
	case MessageTypeStreamEvent:
		return parseStreamEventMessage(line)
	case MessageTypeRateLimit:
		return parseRateLimitMessage(line)
	case MessageTypeToolProgress:
		return parseToolProgressMessage(line)
	case MessageTypeToolUseSummary:
		return parseToolUseSummaryMessage(line)
	case MessageTypeAuthStatus:
		return parseAuthStatusMessage(line)
	case MessageTypePromptSuggestion:
		return parsePromptSuggestionMessage(line)
	case "":
		return nil, missingFieldsError("", "type")
	default:
		return nil, &ParseError{MessageType: probe.Type, Err: ErrUnknownMessageType}
	}
}

func parseSystemMessage(line []byte, subtype string) (Message, error) {
	switch subtype {
	case SubtypeInit:
		var msg SystemInitMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, &ParseError{MessageType: MessageTypeSystem, Err: err}
		}
		if msg.SessionID == "" {
			return nil, missingFieldsError(MessageTypeSystem, "session_id")
		}
		return &msg, nil

	case SubtypeCompactBoundary:
		var wire struct {
			SessionID       string           `json:"session_id"`
			CompactMetadata *CompactMetadata `json:"compact_metadata"`
			UUID            string           `json:"uuid"`
		}
		if err := json.Unmarshal(line, &wire); err != nil {
			return nil, &ParseError{MessageType: MessageTypeSystem, Err: err}
		}
		if wire.CompactMetadata == nil {
			return nil, missingFieldsError(MessageTypeSystem, "compact_metadata")
		}
		return &SystemCompactBoundaryMessage{
			SessionID:       wire.SessionID,
			CompactMetadata: *wire.CompactMetadata,
			UUID:            wire.UUID,
		}, nil

	case "":
		return nil, missingFieldsError(MessageTypeSystem, "subtype")

	default:
		// Unrecognized subtypes degrade to the generic shape rather than
		// failing, so CLI additions pass through.
		var data map[string]any
		if err := json.Unmarshal(line, &data); err != nil {
			return nil, &ParseError{MessageType: MessageTypeSystem, Err: err}
		}
		msg := &SystemMessage{Subtype: subtype, Data: data}
		if sid, ok := data["session_id"].(string); ok {
			msg.SessionID = sid
		}
		return msg, nil
	}
}

func parseAssistantMessage(line []byte) (Message, error) {
	var wire struct {
		Message *struct {
			Content    []json.RawMessage `json:"content"`
			Model      string            `json:"model"`
			StopReason string            `json:"stop_reason"`
			Usage      *Usage            `json:"usage"`
		} `json:"message"`
		ParentToolUseID string `json:"parent_tool_use_id"`
		SessionID       string `json:"session_id"`
		UUID            string `json:"uuid"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeAssistant, Err: err}
	}
	if wire.Message == nil {
		return nil, missingFieldsError(MessageTypeAssistant, "message")
	}
	if wire.Message.Content == nil {
		return nil, missingFieldsError(MessageTypeAssistant, "message.content")
	}
	blocks, err := ParseContentBlocks(wire.Message.Content)
	if err != nil {
		return nil, &ParseError{MessageType: MessageTypeAssistant, Err: err}
	}
	return &AssistantMessage{
		Content:         blocks,
		Model:           wire.Message.Model,
		StopReason:      wire.Message.StopReason,
		Usage:           wire.Message.Usage,
		ParentToolUseID: wire.ParentToolUseID,
		SessionID:       wire.SessionID,
		UUID:            wire.UUID,
		Error:           wire.Error,
	}, nil
}

func parseUserMessage(line []byte) (Message, error) {
	var wire struct {
		Message *struct {
			Content *UserContent `json:"content"`
		} `json:"message"`
		ParentToolUseID string          `json:"parent_tool_use_id"`
		SessionID       string          `json:"session_id"`
		UUID            string          `json:"uuid"`
		IsReplay        bool            `json:"isReplay"`
		IsSynthetic     bool            `json:"isSynthetic"`
		ToolUseResult   json.RawMessage `json:"tool_use_result"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeUser, Err: err}
	}
	if wire.Message == nil || wire.Message.Content == nil {
		return nil, missingFieldsError(MessageTypeUser, "message.content")
	}
	return &UserMessage{
		Content:         wire.Message.Content,
		ParentToolUseID: wire.ParentToolUseID,
		SessionID:       wire.SessionID,
		UUID:            wire.UUID,
		IsReplay:        wire.IsReplay,
		IsSynthetic:     wire.IsSynthetic,
		ToolUseResult:   wire.ToolUseResult,
	}, nil
}

func parseResultMessage(line []byte) (Message, error) {
	var wire struct {
		Subtype       string                     `json:"subtype"`
		DurationMS    int64                      `json:"duration_ms"`
		DurationAPIMS int64                      `json:"duration_api_ms"`
		IsError       bool                       `json:"is_error"`
		NumTurns      int                        `json:"num_turns"`
		SessionID     *string                    `json:"session_id"`
		TotalCostUSD  *float64                   `json:"total_cost_usd"`
		Usage         *Usage                     `json:"usage"`
		ModelUsage    map[string]ModelUsageStats `json:"model_usage"`
		Result        json.RawMessage            `json:"result"`
		UUID          string                     `json:"uuid"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeResult, Err: err}
	}
	if wire.SessionID == nil {
		return nil, missingFieldsError(MessageTypeResult, "session_id")
	}

	msg := &ResultMessage{
		Subtype:       wire.Subtype,
		DurationMS:    wire.DurationMS,
		DurationAPIMS: wire.DurationAPIMS,
		IsError:       wire.IsError,
		NumTurns:      wire.NumTurns,
		SessionID:     *wire.SessionID,
		TotalCostUSD:  wire.TotalCostUSD,
		Usage:         wire.Usage,
		ModelUsage:    wire.ModelUsage,
		UUID:          wire.UUID,
	}
	// result is usually a string but older CLIs emitted an object for some
	// subtypes; keep whatever text can be extracted.
	if len(wire.Result) > 0 {
		var s string
		if err := json.Unmarshal(wire.Result, &s); err == nil {
			msg.Result = s
		} else {
			msg.Result = string(wire.Result)
		}
	}
	return msg, nil
}

func parseStreamEventMessage(line []byte) (Message, error) {
	var wire struct {
		UUID            string          `json:"uuid"`
		SessionID       string          `json:"session_id"`
		Event           json.RawMessage `json:"event"`
		ParentToolUseID string          `json:"parent_tool_use_id"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeStreamEvent, Err: err}
	}
	if len(wire.Event) == 0 {
		return nil, missingFieldsError(MessageTypeStreamEvent, "event")
	}
	event, err := ParseStreamEvent(wire.Event)
	if err != nil {
		return nil, &ParseError{MessageType: MessageTypeStreamEvent, Err: err}
	}
	return &StreamEventMessage{
		UUID:            wire.UUID,
		SessionID:       wire.SessionID,
		Event:           event,
		ParentToolUseID: wire.ParentToolUseID,
	}, nil
}

func parseRateLimitMessage(line []byte) (Message, error) {
	var wire struct {
		Info      map[string]any `json:"rate_limit_info"`
		SessionID string         `json:"session_id"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeRateLimit, Err: err}
	}
	if wire.Info == nil {
		return nil, missingFieldsError(MessageTypeRateLimit, "rate_limit_info")
	}
	return &RateLimitMessage{Info: wire.Info, SessionID: wire.SessionID}, nil
}

func parseToolProgressMessage(line []byte) (Message, error) {
	var wire struct {
		ToolName           string  `json:"tool_name"`
		ToolUseID          *string `json:"tool_use_id"`
		ParentToolUseID    string  `json:"parent_tool_use_id"`
		ElapsedTimeSeconds float64 `json:"elapsed_time_seconds"`
		SessionID          string  `json:"session_id"`
		UUID               string  `json:"uuid"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeToolProgress, Err: err}
	}
	if wire.ToolUseID == nil {
		return nil, missingFieldsError(MessageTypeToolProgress, "tool_use_id")
	}
	return &ToolProgressMessage{
		ToolName:           wire.ToolName,
		ToolUseID:          *wire.ToolUseID,
		ParentToolUseID:    wire.ParentToolUseID,
		ElapsedTimeSeconds: wire.ElapsedTimeSeconds,
		SessionID:          wire.SessionID,
		UUID:               wire.UUID,
	}, nil
}

func parseToolUseSummaryMessage(line []byte) (Message, error) {
	var wire struct {
		Summary             *string  `json:"summary"`
		PrecedingToolUseIDs []string `json:"preceding_tool_use_ids"`
		SessionID           string   `json:"session_id"`
		UUID                string   `json:"uuid"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeToolUseSummary, Err: err}
	}
	if wire.Summary == nil {
		return nil, missingFieldsError(MessageTypeToolUseSummary, "summary")
	}
	return &ToolUseSummaryMessage{
		Summary:             *wire.Summary,
		PrecedingToolUseIDs: wire.PrecedingToolUseIDs,
		SessionID:           wire.SessionID,
		UUID:                wire.UUID,
	}, nil
}

func parseAuthStatusMessage(line []byte) (Message, error) {
	var wire struct {
		IsAuthenticating bool   `json:"isAuthenticating"`
		Output           string `json:"output"`
		Error            string `json:"error"`
		SessionID        string `json:"session_id"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypeAuthStatus, Err: err}
	}
	return &AuthStatusMessage{
		IsAuthenticating: wire.IsAuthenticating,
		Output:           wire.Output,
		Error:            wire.Error,
		SessionID:        wire.SessionID,
	}, nil
}

func parsePromptSuggestionMessage(line []byte) (Message, error) {
	var wire struct {
		Suggestion *string `json:"suggestion"`
		SessionID  string  `json:"session_id"`
		UUID       string  `json:"uuid"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return nil, &ParseError{MessageType: MessageTypePromptSuggestion, Err: err}
	}
	if wire.Suggestion == nil {
		return nil, missingFieldsError(MessageTypePromptSuggestion, "suggestion")
	}
	return &PromptSuggestionMessage{
		Suggestion: *wire.Suggestion,
		SessionID:  wire.SessionID,
		UUID:       wire.UUID,
	}, nil
}
