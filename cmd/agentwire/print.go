package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kandev/agentwire/pkg/claudecode"
	"github.com/kandev/agentwire/pkg/streamjson"
)

// printer renders adapter events for a terminal. Text deltas print inline as
// they stream; whole messages print as annotated lines.
type printer struct {
	w io.Writer

	// inDelta is true while an unterminated delta line is open.
	inDelta bool
	// streamed is true when the current turn's text already printed via
	// deltas, so the full assistant message must not repeat it.
	streamed bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) render(ev streamjson.Event) {
	switch ev.Type {
	case streamjson.EventTypeStatus:
		p.line("[status] %s%s", ev.Status, suffixReason(ev.Reason))
	case streamjson.EventTypeMessage:
		p.message(ev.Message)
	case streamjson.EventTypeDone:
		p.outcome(ev.Outcome)
	}
}

func (p *printer) message(msg claudecode.Message) {
	switch m := msg.(type) {
	case *claudecode.SystemInitMessage:
		p.line("[session] %s model=%s tools=%d", m.SessionID, m.Model, len(m.Tools))
	case *claudecode.SystemCompactBoundaryMessage:
		p.line("[compact] trigger=%s pre_tokens=%d", m.CompactMetadata.Trigger, m.CompactMetadata.PreTokens)
	case *claudecode.AssistantMessage:
		p.assistant(m)
	case *claudecode.UserMessage:
		p.toolResults(m)
	case *claudecode.StreamEventMessage:
		p.streamEvent(m.Event)
	case *claudecode.ToolProgressMessage:
		p.line("[progress] %s running for %.0fs", m.ToolName, m.ElapsedTimeSeconds)
	case *claudecode.ToolUseSummaryMessage:
		p.line("[summary] %s", m.Summary)
	case *claudecode.PromptSuggestionMessage:
		p.line("[suggest] %s", m.Suggestion)
	case *claudecode.AuthStatusMessage:
		if m.Error != "" {
			p.line("[auth] error: %s", m.Error)
		} else if m.Output != "" {
			p.line("[auth] %s", m.Output)
		}
	case *claudecode.RateLimitMessage:
		if status, ok := m.Info["status"].(string); ok {
			p.line("[rate-limit] %s", status)
		} else {
			p.line("[rate-limit] changed")
		}
	}
}

func (p *printer) assistant(m *claudecode.AssistantMessage) {
	prefix := ""
	if m.ParentToolUseID != "" {
		prefix = "  "
	}
	for _, block := range m.Content {
		switch b := block.(type) {
		case *claudecode.TextBlock:
			if p.streamed && m.ParentToolUseID == "" {
				continue
			}
			p.line("%s%s", prefix, b.Text)
		case *claudecode.ThinkingBlock:
			p.line("%s(thinking) %s", prefix, b.Thinking)
		case *claudecode.ToolUseBlock:
			p.line("%s[tool] %s %s", prefix, b.Name, compactJSON(b.Input))
		}
	}
	if m.Error != "" {
		p.line("[error] %s", m.Error)
	}
}

// toolResults prints tool outputs carried by synthetic user turns. Replayed
// prompts and the echo of our own input stay silent.
func (p *printer) toolResults(m *claudecode.UserMessage) {
	if m.IsReplay || m.Content == nil {
		return
	}
	prefix := ""
	if m.ParentToolUseID != "" {
		prefix = "  "
	}
	for _, block := range m.Content.Blocks() {
		result, ok := block.(*claudecode.ToolResultBlock)
		if !ok {
			continue
		}
		text := ""
		if result.Content != nil {
			text = result.Content.Text()
		}
		if result.IsError != nil && *result.IsError {
			p.line("%s[tool error] %s", prefix, truncate(text, 200))
		} else {
			p.line("%s[tool ok] %s", prefix, truncate(firstLine(text), 120))
		}
	}
}

func (p *printer) streamEvent(ev *claudecode.StreamEvent) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case claudecode.StreamContentBlockDelta:
		if ev.Delta != nil && ev.Delta.Type == claudecode.DeltaTypeText {
			fmt.Fprint(p.w, ev.Delta.Text)
			p.inDelta = true
			p.streamed = true
		}
	case claudecode.StreamContentBlockStop, claudecode.StreamMessageStop:
		p.closeDelta()
	}
}

func (p *printer) outcome(o *streamjson.Outcome) {
	if o == nil {
		return
	}
	switch o.Kind {
	case streamjson.OutcomeResult:
		p.result(o.Result)
	case streamjson.OutcomeInterrupted:
		p.line("[interrupted]")
	case streamjson.OutcomeDisconnect:
		p.line("[disconnected] %v", o.Err)
	}
	p.streamed = false
}

func (p *printer) result(r *claudecode.ResultMessage) {
	if r == nil {
		p.line("[done]")
		return
	}
	status := "done"
	if r.IsError {
		status = "failed"
	}
	summary := fmt.Sprintf("[%s] %s", status, time.Duration(r.DurationMS)*time.Millisecond)
	if r.TotalCostUSD != nil {
		summary += fmt.Sprintf(" $%.4f", *r.TotalCostUSD)
	}
	if r.NumTurns > 1 {
		summary += fmt.Sprintf(" %d turns", r.NumTurns)
	}
	if r.IsError && r.Result != "" {
		summary += ": " + r.Result
	}
	p.line("%s", summary)
}

// line closes any open delta and prints one formatted line.
func (p *printer) line(format string, args ...any) {
	p.closeDelta()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) closeDelta() {
	if p.inDelta {
		fmt.Fprintln(p.w)
		p.inDelta = false
	}
}

func suffixReason(reason string) string {
	if reason == "" {
		return ""
	}
	return ": " + reason
}

// compactJSON renders a tool input map small enough for one line.
func compactJSON(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{...}"
	}
	return truncate(string(data), 120)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
