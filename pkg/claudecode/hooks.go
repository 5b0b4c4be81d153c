package claudecode

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// HookEvent names a CLI lifecycle point that can invoke host callbacks.
type HookEvent string

// Hook events supported by the CLI.
const (
	HookEventPreToolUse       HookEvent = "PreToolUse"
	HookEventPostToolUse      HookEvent = "PostToolUse"
	HookEventUserPromptSubmit HookEvent = "UserPromptSubmit"
	HookEventStop             HookEvent = "Stop"
	HookEventSubagentStop     HookEvent = "SubagentStop"
	HookEventPreCompact       HookEvent = "PreCompact"
)

// HookInvocation is one inbound hook call: the event it fired for, the CLI's
// input payload, and the tool call it correlates with, if any.
type HookInvocation struct {
	Event     HookEvent
	Input     map[string]any
	ToolUseID string
}

// HookOutput is a callback's decision. Which fields apply depends on the
// event: Behavior/UpdatedInput/UpdatedPermissions/Message/Interrupt for tool
// permission events, Continue/StopReason for stop events, Decision/Reason for
// prompt submission, CustomInstructions for pre-compact. SystemMessage is
// surfaced to the user regardless of event. A nil output means "no opinion".
type HookOutput struct {
	Behavior           string
	UpdatedInput       map[string]any
	UpdatedPermissions []PermissionUpdate
	Message            string
	Interrupt          bool

	Continue   *bool
	StopReason string

	Decision string
	Reason   string

	CustomInstructions string

	SystemMessage string
}

// HookHandler handles one hook invocation. Implementations may block; the
// dispatcher runs them off the connection's owner goroutine.
type HookHandler interface {
	HandleHook(ctx context.Context, inv *HookInvocation) (*HookOutput, error)
}

// HookFunc adapts a plain function to HookHandler.
type HookFunc func(ctx context.Context, inv *HookInvocation) (*HookOutput, error)

// HandleHook calls f.
func (f HookFunc) HandleHook(ctx context.Context, inv *HookInvocation) (*HookOutput, error) {
	return f(ctx, inv)
}

// HookMatcher binds an ordered callback list to a tool-name pattern within
// one event. An empty Matcher applies to every tool. Timeout, when positive,
// is advertised to the CLI as the per-invocation budget.
type HookMatcher struct {
	Matcher string
	Hooks   []HookHandler
	Timeout time.Duration
}

// HookTableEntry is the wire form of one matcher rule in the initialize
// handshake. A null matcher means wildcard.
type HookTableEntry struct {
	Matcher         *string  `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         float64  `json:"timeout,omitempty"`
}

type registeredHook struct {
	id      string
	event   HookEvent
	handler HookHandler
	timeout time.Duration
}

// HookRegistry assigns every callback a stable ID, produces the wire table
// advertised at initialize, and dispatches inbound invocations back to the
// right callback. Registries are immutable once built, so lookups need no
// locking.
type HookRegistry struct {
	byID  map[string]*registeredHook
	table map[string][]HookTableEntry
}

// NewHookRegistry builds a registry from a declarative event map. Callback
// IDs are assigned sequentially in deterministic event order, so the same
// configuration always produces the same table.
func NewHookRegistry(config map[HookEvent][]HookMatcher) *HookRegistry {
	r := &HookRegistry{
		byID:  make(map[string]*registeredHook),
		table: make(map[string][]HookTableEntry),
	}

	events := make([]HookEvent, 0, len(config))
	for event := range config {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })

	next := 0
	for _, event := range events {
		for _, matcher := range config[event] {
			if len(matcher.Hooks) == 0 {
				continue
			}
			entry := HookTableEntry{}
			if matcher.Matcher != "" {
				pattern := matcher.Matcher
				entry.Matcher = &pattern
			}
			if matcher.Timeout > 0 {
				entry.Timeout = matcher.Timeout.Seconds()
			}
			for _, handler := range matcher.Hooks {
				id := fmt.Sprintf("hook_%d", next)
				next++
				r.byID[id] = &registeredHook{
					id:      id,
					event:   event,
					handler: handler,
					timeout: matcher.Timeout,
				}
				entry.HookCallbackIDs = append(entry.HookCallbackIDs, id)
			}
			r.table[string(event)] = append(r.table[string(event)], entry)
		}
	}
	return r
}

// Len returns the number of registered callbacks.
func (r *HookRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}

// WireTable returns the hook table for the initialize handshake, or nil when
// no callbacks are registered.
func (r *HookRegistry) WireTable() map[string][]HookTableEntry {
	if r == nil || len(r.table) == 0 {
		return nil
	}
	return r.table
}

// Lookup resolves a callback ID to its handler and event.
func (r *HookRegistry) Lookup(callbackID string) (HookHandler, HookEvent, bool) {
	if r == nil {
		return nil, "", false
	}
	reg, ok := r.byID[callbackID]
	if !ok {
		return nil, "", false
	}
	return reg.handler, reg.event, true
}

// Dispatch invokes the callback registered under callbackID and translates
// its output into the wire response for the callback's event. The returned
// map is always a valid response: unknown IDs, callback errors and panics
// degrade to a neutral empty response, with the error returned alongside for
// logging.
func (r *HookRegistry) Dispatch(ctx context.Context, callbackID string, input map[string]any, toolUseID string) (resp map[string]any, err error) {
	var hook *registeredHook
	if r != nil {
		hook = r.byID[callbackID]
	}
	if hook == nil {
		return map[string]any{}, fmt.Errorf("no hook registered for callback ID %q", callbackID)
	}

	if hook.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp = map[string]any{}
			err = fmt.Errorf("hook %s panicked: %v", callbackID, rec)
		}
	}()

	output, err := hook.handler.HandleHook(ctx, &HookInvocation{
		Event:     hook.event,
		Input:     input,
		ToolUseID: toolUseID,
	})
	if err != nil {
		return map[string]any{}, fmt.Errorf("hook %s (%s): %w", callbackID, hook.event, err)
	}
	return translateHookOutput(hook.event, output), nil
}

// translateHookOutput maps a typed decision onto the wire vocabulary for the
// event that produced it. A nil or empty output translates to the neutral
// empty response, which every event kind treats as "no opinion".
func translateHookOutput(event HookEvent, out *HookOutput) map[string]any {
	resp := map[string]any{}
	if out == nil {
		return resp
	}

	switch event {
	case HookEventPreToolUse, HookEventPostToolUse:
		if out.Behavior != "" {
			resp["behavior"] = out.Behavior
		}
		if out.UpdatedInput != nil {
			resp["updatedInput"] = out.UpdatedInput
		}
		if len(out.UpdatedPermissions) > 0 {
			resp["updatedPermissions"] = out.UpdatedPermissions
		}
		if out.Message != "" {
			resp["message"] = out.Message
		}
		if out.Interrupt {
			resp["interrupt"] = true
		}
	case HookEventStop, HookEventSubagentStop:
		if out.Continue != nil {
			resp["continue"] = *out.Continue
		}
		if out.StopReason != "" {
			resp["stopReason"] = out.StopReason
		}
	case HookEventUserPromptSubmit:
		if out.Decision != "" {
			resp["decision"] = out.Decision
		}
		if out.Reason != "" {
			resp["reason"] = out.Reason
		}
	case HookEventPreCompact:
		if out.CustomInstructions != "" {
			resp["customInstructions"] = out.CustomInstructions
		}
	}

	if out.SystemMessage != "" {
		resp["systemMessage"] = out.SystemMessage
	}
	return resp
}
