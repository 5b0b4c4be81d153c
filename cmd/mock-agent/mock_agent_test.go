package main

import (
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want config
	}{
		{
			name: "no flags returns defaults",
			args: []string{},
			want: config{model: "mock-default", permissionMode: "default"},
		},
		{
			name: "separate model flag",
			args: []string{"--model", "mock-slow"},
			want: config{model: "mock-slow", permissionMode: "default"},
		},
		{
			name: "equals model syntax",
			args: []string{"--model=mock-fast"},
			want: config{model: "mock-fast", permissionMode: "default"},
		},
		{
			name: "permission mode both syntaxes",
			args: []string{"--permission-mode", "plan", "--permission-mode=acceptEdits"},
			want: config{model: "mock-default", permissionMode: "acceptEdits"},
		},
		{
			name: "include partial messages",
			args: []string{"--include-partial-messages"},
			want: config{model: "mock-default", permissionMode: "default", includePartials: true},
		},
		{
			name: "unknown flags ignored",
			args: []string{"-p", "--output-format=stream-json", "--verbose", "--model", "mock-fast"},
			want: config{model: "mock-fast", permissionMode: "default"},
		},
		{
			name: "dangling flag keeps default",
			args: []string{"--model"},
			want: config{model: "mock-default", permissionMode: "default"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if got != tt.want {
				t.Errorf("parseArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestContentText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain string",
			content: `"hello there"`,
			want:    "hello there",
		},
		{
			name:    "block list takes first text block",
			content: `[{"type":"text","text":"from a block"},{"type":"text","text":"second"}]`,
			want:    "from a block",
		},
		{
			name:    "non-text blocks skipped",
			content: `[{"type":"tool_result","tool_use_id":"t1"},{"type":"text","text":"after result"}]`,
			want:    "after result",
		},
		{
			name:    "unrecognized shape",
			content: `{"nested":"object"}`,
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := &inboundUserBody{Role: "user", Content: json.RawMessage(tt.content)}
			if got := body.ContentText(); got != tt.want {
				t.Errorf("ContentText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInitializePayload(t *testing.T) {
	payload := initializePayload(map[string]json.RawMessage{
		"reviewer": json.RawMessage(`{}`),
		"builder":  json.RawMessage(`{}`),
	})

	agents, ok := payload["agents"].([]string)
	if !ok {
		t.Fatalf("agents has type %T, want []string", payload["agents"])
	}
	if want := []string{"builder", "reviewer"}; !reflect.DeepEqual(agents, want) {
		t.Errorf("agents = %v, want %v", agents, want)
	}

	if payload["output_style"] != "default" {
		t.Errorf("output_style = %v, want default", payload["output_style"])
	}

	commands, ok := payload["commands"].([]map[string]any)
	if !ok || len(commands) == 0 {
		t.Fatalf("commands missing from payload: %v", payload["commands"])
	}
	names := make(map[string]bool, len(commands))
	for _, cmd := range commands {
		names[cmd["name"].(string)] = true
	}
	for _, want := range []string{"all", "error", "slow", "subagent", "e2e:error"} {
		if !names[want] {
			t.Errorf("command palette missing %q", want)
		}
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want []string
	}{
		{
			name: "even split",
			s:    "aabbcc",
			n:    3,
			want: []string{"aa", "bb", "cc"},
		},
		{
			name: "uneven split rounds up",
			s:    "aaabbbc",
			n:    3,
			want: []string{"aaa", "bbb", "c"},
		},
		{
			name: "short string stays whole",
			s:    "ab",
			n:    3,
			want: []string{"ab"},
		},
		{
			name: "zero chunks",
			s:    "abc",
			n:    0,
			want: []string{"abc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChunks(tt.s, tt.n)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitChunks(%q, %d) = %v, want %v", tt.s, tt.n, got, tt.want)
			}
			if strings.Join(got, "") != tt.s {
				t.Errorf("chunks do not rejoin to the input: %v", got)
			}
		})
	}
}

// sessionHarness drives a full agent session over in-memory pipes.
type sessionHarness struct {
	t      *testing.T
	in     *json.Encoder
	dec    *json.Decoder
	stdinW *io.PipeWriter
	done   chan error
}

func startSession(t *testing.T, cfg config) *sessionHarness {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	a := newAgent(cfg)
	done := make(chan error, 1)
	go func() {
		done <- a.run(stdinR, stdoutW)
	}()
	t.Cleanup(func() {
		_ = stdinW.Close()
		_ = stdoutR.Close()
	})

	return &sessionHarness{
		t:      t,
		in:     json.NewEncoder(stdinW),
		dec:    json.NewDecoder(stdoutR),
		stdinW: stdinW,
		done:   done,
	}
}

func (h *sessionHarness) send(v any) {
	h.t.Helper()
	if err := h.in.Encode(v); err != nil {
		h.t.Fatalf("write record: %v", err)
	}
}

func (h *sessionHarness) next() map[string]any {
	h.t.Helper()
	type decoded struct {
		rec map[string]any
		err error
	}
	ch := make(chan decoded, 1)
	go func() {
		var rec map[string]any
		err := h.dec.Decode(&rec)
		ch <- decoded{rec, err}
	}()
	select {
	case d := <-ch:
		if d.err != nil {
			h.t.Fatalf("decode output record: %v", d.err)
		}
		return d.rec
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for an output record")
		return nil
	}
}

func (h *sessionHarness) handshake() {
	h.t.Helper()
	h.send(map[string]any{
		"type":       "control_request",
		"request_id": "req_init",
		"request":    map[string]any{"subtype": "initialize"},
	})
	rec := h.next()
	if rec["type"] != "control_response" {
		h.t.Fatalf("expected control_response, got %v", rec["type"])
	}
	resp, _ := rec["response"].(map[string]any)
	if resp["subtype"] != "success" || resp["request_id"] != "req_init" {
		h.t.Fatalf("unexpected handshake response: %v", resp)
	}
}

func (h *sessionHarness) finish() {
	h.t.Helper()
	_ = h.stdinW.Close()
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		h.t.Fatal("run did not exit after stdin closed")
	}
}

func TestRunSession(t *testing.T) {
	h := startSession(t, config{model: "mock-fast", permissionMode: "default"})
	h.handshake()

	h.send(map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "/error"},
	})

	sawInit := false
	sawAssistant := false
	for {
		rec := h.next()
		switch rec["type"] {
		case "system":
			if rec["subtype"] == "init" {
				sawInit = true
			}
			continue
		case "assistant":
			sawAssistant = true
			continue
		case "result":
		default:
			continue
		}
		if rec["is_error"] != true {
			t.Errorf("result is_error = %v, want true", rec["is_error"])
		}
		if rec["subtype"] != "error_during_execution" {
			t.Errorf("result subtype = %v, want error_during_execution", rec["subtype"])
		}
		if sid, _ := rec["session_id"].(string); sid == "" {
			t.Error("result record missing session_id")
		}
		break
	}
	if !sawInit {
		t.Error("no system init record before the first turn")
	}
	if !sawAssistant {
		t.Error("no assistant record during the turn")
	}

	h.finish()
}

func TestRunInterrupt(t *testing.T) {
	h := startSession(t, config{model: "mock-fast", permissionMode: "default"})
	h.handshake()

	h.send(map[string]any{
		"type":    "user",
		"message": map[string]any{"role": "user", "content": "/slow 2s"},
	})

	// Interrupt after the first content record of the turn.
	interrupted := false
	sawAck := false
	for {
		rec := h.next()
		switch rec["type"] {
		case "assistant":
			if !interrupted {
				interrupted = true
				h.send(map[string]any{
					"type":       "control_request",
					"request_id": "req_int",
					"request":    map[string]any{"subtype": "interrupt"},
				})
			}
			continue
		case "control_response":
			resp, _ := rec["response"].(map[string]any)
			if resp["request_id"] == "req_int" && resp["subtype"] == "success" {
				sawAck = true
			}
			continue
		case "result":
		default:
			continue
		}
		if rec["result"] != "Interrupted." {
			t.Errorf("result text = %v, want Interrupted.", rec["result"])
		}
		if rec["is_error"] != false {
			t.Errorf("result is_error = %v, want false", rec["is_error"])
		}
		break
	}
	if !sawAck {
		t.Error("interrupt request never acknowledged")
	}

	h.finish()
}
