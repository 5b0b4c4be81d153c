// Package main implements a mock agent binary that speaks the Claude Code
// stream-json protocol over stdin/stdout. It answers the control handshake,
// emits scripted turn sequences against real workspace files, and honors
// interrupts, so adapter integration and demo setups run without the real CLI.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// config captures the flags the mock honors. Everything else on the command
// line is accepted and ignored, so any launch snippet built for the real CLI
// works unchanged.
type config struct {
	model           string
	permissionMode  string
	includePartials bool
}

func parseArgs(args []string) config {
	cfg := config{model: "mock-default", permissionMode: "default"}
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--model" && i+1 < len(args):
			cfg.model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--model="):
			cfg.model = strings.TrimPrefix(args[i], "--model=")
		case args[i] == "--permission-mode" && i+1 < len(args):
			cfg.permissionMode = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--permission-mode="):
			cfg.permissionMode = strings.TrimPrefix(args[i], "--permission-mode=")
		case args[i] == "--include-partial-messages":
			cfg.includePartials = true
		}
	}
	return cfg
}

// agent is one mock session. The encoder is shared between the turn runner
// and the control handler, so every write goes through emit.
type agent struct {
	cfg       config
	sessionID string

	writeMu sync.Mutex
	enc     *json.Encoder

	inbound chan inboundRecord

	// interrupted is set by the interrupt control request and checked
	// between sequence steps.
	interrupted atomic.Bool

	initOnce    sync.Once
	toolCounter atomic.Int64
}

func newAgent(cfg config) *agent {
	return &agent{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		inbound:   make(chan inboundRecord, 16),
	}
}

func main() {
	agent := newAgent(parseArgs(os.Args[1:]))
	if err := agent.run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: %v\n", err)
		os.Exit(1)
	}
}

// run pumps stdin on a goroutine and drives turns from the main loop. It
// returns when stdin closes, matching the real CLI's exit-on-EOF behavior.
func (a *agent) run(stdin io.Reader, stdout io.Writer) error {
	a.enc = json.NewEncoder(stdout)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.pump(stdin)
	}()

	for rec := range a.inbound {
		switch rec.Type {
		case "control_request":
			a.handleControlRequest(rec)
		case "user":
			if rec.Message != nil {
				a.runTurn(rec.Message.ContentText())
			}
		case "control_response":
			// A response with no ask in flight; drop it.
		}
	}
	return <-errCh
}

// pump frames stdin into decoded records. Undecodable lines are skipped the
// way the real CLI tolerates garbage on its input.
func (a *agent) pump(stdin io.Reader) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec inboundRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		a.inbound <- rec
	}
	close(a.inbound)
	return scanner.Err()
}

// emit writes one record to stdout. Encoding failures mean stdout is gone,
// which only the process exit path cares about.
func (a *agent) emit(v any) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.enc.Encode(v)
}

func (a *agent) nextToolID() string {
	return fmt.Sprintf("mock_tool_%04d", a.toolCounter.Add(1))
}

// handleControlRequest answers the control asks the host sends. Unknown
// subtypes get an error response so the host's request does not hang.
func (a *agent) handleControlRequest(rec inboundRecord) {
	if rec.RequestID == "" || rec.Request == nil {
		return
	}

	switch rec.Request.Subtype {
	case "initialize":
		a.respondSuccess(rec.RequestID, initializePayload(rec.Request.Agents))
	case "interrupt":
		a.interrupted.Store(true)
		a.respondSuccess(rec.RequestID, nil)
	case "set_model", "set_permission_mode", "rewind_files":
		a.respondSuccess(rec.RequestID, nil)
	case "mcp_status":
		a.respondSuccess(rec.RequestID, map[string]any{"servers": []any{}})
	default:
		a.respondError(rec.RequestID, "unsupported control request: "+rec.Request.Subtype)
	}
}

func (a *agent) respondSuccess(requestID string, payload any) {
	body := controlResponseBody{Subtype: "success", RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			body.Response = raw
		}
	}
	a.emit(controlResponseMsg{Type: "control_response", Response: body})
}

func (a *agent) respondError(requestID, message string) {
	a.emit(controlResponseMsg{
		Type:     "control_response",
		Response: controlResponseBody{Subtype: "error", RequestID: requestID, Error: message},
	})
}

// initializePayload is the handshake answer: the command palette plus any
// agents the host registered, echoed back as available.
func initializePayload(agents map[string]json.RawMessage) map[string]any {
	commands := []map[string]any{
		{"name": "all", "description": "Demo every message type"},
		{"name": "error", "description": "Simulate an error result"},
		{"name": "slow", "description": "Slow response", "argument_hint": "<duration e.g. 5s, 2m>"},
		{"name": "thinking", "description": "Extended thinking blocks"},
		{"name": "tool:read", "description": "Single file read"},
		{"name": "tool:edit", "description": "File edit behind a permission ask"},
		{"name": "tool:exec", "description": "Shell command behind a permission ask"},
		{"name": "tool:search", "description": "Code search"},
		{"name": "tool:webfetch", "description": "Web fetch"},
		{"name": "subagent", "description": "Task with nested child messages"},
		{"name": "todo", "description": "Todo management sequence"},
		{"name": "progress", "description": "Tool progress and summary records"},
		{"name": "compact", "description": "Compact boundary marker"},
		{"name": "e2e:simple-message", "description": "Fixed-timing text turn"},
		{"name": "e2e:permission-flow", "description": "Fixed-timing permission ask"},
		{"name": "e2e:error", "description": "Fixed-timing error result"},
		{"name": "e2e:multi-turn", "description": "Minimal multi-turn response"},
	}

	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	return map[string]any{
		"commands":     commands,
		"agents":       names,
		"output_style": "default",
	}
}
