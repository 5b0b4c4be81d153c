package main

import "encoding/json"

// inboundRecord is the decoded form of anything the host writes: user turns,
// control requests and control responses all land here, with the irrelevant
// fields left nil.
type inboundRecord struct {
	Type      string                  `json:"type"`
	RequestID string                  `json:"request_id,omitempty"`
	Request   *inboundControlRequest  `json:"request,omitempty"`
	Response  *inboundControlResponse `json:"response,omitempty"`
	Message   *inboundUserBody        `json:"message,omitempty"`
}

type inboundControlRequest struct {
	Subtype string                     `json:"subtype"`
	Agents  map[string]json.RawMessage `json:"agents,omitempty"`
}

type inboundControlResponse struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// inboundUserBody is a user turn's message body. Content is either a plain
// string or a block list; ContentText flattens both.
type inboundUserBody struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (b *inboundUserBody) ContentText() string {
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		for _, blk := range blocks {
			if blk.Type == "text" {
				return blk.Text
			}
		}
	}
	return ""
}

// permissionDecision is the payload of a can_use_tool response.
type permissionDecision struct {
	Behavior string `json:"behavior"`
}

// --- Outgoing records ---

type systemInitMsg struct {
	Type           string   `json:"type"`
	Subtype        string   `json:"subtype"`
	SessionID      string   `json:"session_id"`
	CWD            string   `json:"cwd,omitempty"`
	Model          string   `json:"model,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	SlashCommands  []string `json:"slash_commands,omitempty"`
	UUID           string   `json:"uuid,omitempty"`
}

type compactBoundaryMsg struct {
	Type            string          `json:"type"`
	Subtype         string          `json:"subtype"`
	SessionID       string          `json:"session_id"`
	CompactMetadata compactMetadata `json:"compact_metadata"`
}

type compactMetadata struct {
	Trigger   string `json:"trigger"`
	PreTokens int64  `json:"pre_tokens"`
}

type assistantMsg struct {
	Type            string        `json:"type"`
	Message         assistantBody `json:"message"`
	ParentToolUseID string        `json:"parent_tool_use_id,omitempty"`
	SessionID       string        `json:"session_id"`
	UUID            string        `json:"uuid,omitempty"`
}

type assistantBody struct {
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *usage         `json:"usage,omitempty"`
}

type userMsg struct {
	Type            string   `json:"type"`
	Message         userBody `json:"message"`
	ParentToolUseID string   `json:"parent_tool_use_id,omitempty"`
	SessionID       string   `json:"session_id"`
}

type userBody struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock covers all four block kinds; Type picks the populated fields.
type contentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Thinking string `json:"thinking,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type resultMsg struct {
	Type          string                `json:"type"`
	Subtype       string                `json:"subtype"`
	SessionID     string                `json:"session_id"`
	IsError       bool                  `json:"is_error"`
	NumTurns      int                   `json:"num_turns"`
	DurationMS    int64                 `json:"duration_ms"`
	DurationAPIMS int64                 `json:"duration_api_ms"`
	TotalCostUSD  float64               `json:"total_cost_usd"`
	Usage         *usage                `json:"usage,omitempty"`
	ModelUsage    map[string]modelUsage `json:"model_usage,omitempty"`
	Result        string                `json:"result"`
	UUID          string                `json:"uuid,omitempty"`
}

type modelUsage struct {
	ContextWindow int64 `json:"context_window"`
}

type streamEventMsg struct {
	Type            string          `json:"type"`
	Event           json.RawMessage `json:"event"`
	SessionID       string          `json:"session_id"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
	UUID            string          `json:"uuid,omitempty"`
}

type toolProgressMsg struct {
	Type               string  `json:"type"`
	ToolName           string  `json:"tool_name"`
	ToolUseID          string  `json:"tool_use_id"`
	ElapsedTimeSeconds float64 `json:"elapsed_time_seconds"`
	SessionID          string  `json:"session_id"`
}

type toolSummaryMsg struct {
	Type                string   `json:"type"`
	Summary             string   `json:"summary"`
	PrecedingToolUseIDs []string `json:"preceding_tool_use_ids"`
	SessionID           string   `json:"session_id"`
}

type controlRequestMsg struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id"`
	Request   controlRequestBody `json:"request"`
}

type controlRequestBody struct {
	Subtype   string         `json:"subtype"`
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

type controlResponseMsg struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}
