package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kandev/agentwire/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

// fakeCLI plays the far end of the client's pipes: it consumes every line the
// client writes and injects stdout records on demand.
type fakeCLI struct {
	t      *testing.T
	lines  chan map[string]any
	stdout *io.PipeWriter
}

func startTestClient(t *testing.T, cfg ClientConfig) (*Client, *fakeCLI) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	cfg.Stdin = stdinW
	cfg.Stdout = stdoutR
	if cfg.Logger == nil {
		cfg.Logger = newTestLogger()
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	cli := &fakeCLI{t: t, lines: make(chan map[string]any, 64), stdout: stdoutW}
	go func() {
		scanner := bufio.NewScanner(stdinR)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var decoded map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
				continue
			}
			cli.lines <- decoded
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx)
	t.Cleanup(func() {
		client.Stop()
		select {
		case <-client.Done():
		case <-time.After(2 * time.Second):
			t.Error("client did not tear down")
		}
		cancel()
		stdoutW.Close()
		stdinW.Close()
	})
	return client, cli
}

func (f *fakeCLI) next() map[string]any {
	f.t.Helper()
	select {
	case line := <-f.lines:
		return line
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for a line from the client")
		return nil
	}
}

// expectRequest reads the next line and asserts it is a control_request of
// the given subtype, returning its correlation ID and body.
func (f *fakeCLI) expectRequest(subtype string) (string, map[string]any) {
	f.t.Helper()
	line := f.next()
	if line["type"] != MessageTypeControlRequest {
		f.t.Fatalf("expected control_request, got %v", line)
	}
	req, _ := line["request"].(map[string]any)
	if req == nil || req["subtype"] != subtype {
		f.t.Fatalf("expected %s request, got %v", subtype, line)
	}
	id, _ := line["request_id"].(string)
	if id == "" {
		f.t.Fatalf("control_request without request_id: %v", line)
	}
	return id, req
}

// expectResponse reads the next line and asserts it is a control_response,
// returning its body.
func (f *fakeCLI) expectResponse() map[string]any {
	f.t.Helper()
	line := f.next()
	if line["type"] != MessageTypeControlResponse {
		f.t.Fatalf("expected control_response, got %v", line)
	}
	body, _ := line["response"].(map[string]any)
	if body == nil {
		f.t.Fatalf("control_response without body: %v", line)
	}
	return body
}

func (f *fakeCLI) send(line string) {
	f.t.Helper()
	if _, err := f.stdout.Write([]byte(line + "\n")); err != nil {
		f.t.Fatalf("fake CLI write failed: %v", err)
	}
}

func (f *fakeCLI) respondSuccess(requestID, payload string) {
	f.send(fmt.Sprintf(`{"type":"control_response","response":{"subtype":"success","request_id":%q,"response":%s}}`, requestID, payload))
}

func (f *fakeCLI) respondError(requestID, message string) {
	f.send(fmt.Sprintf(`{"type":"control_response","response":{"subtype":"error","request_id":%q,"error":%q}}`, requestID, message))
}

// handshake answers the initialize request every started client sends.
func (f *fakeCLI) handshake() {
	f.t.Helper()
	id, _ := f.expectRequest(SubtypeInitialize)
	f.respondSuccess(id, `{"commands":[{"name":"compact","description":"Compact the conversation"}],"output_style":"default"}`)
}

func waitReady(t *testing.T, client *Client) {
	t.Helper()
	select {
	case <-client.Ready():
	case <-client.Done():
		t.Fatalf("connection closed before ready: %v", client.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
}

func waitDone(t *testing.T, client *Client) {
	t.Helper()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for teardown")
	}
}

func TestClientHandshake(t *testing.T) {
	registry := NewHookRegistry(map[HookEvent][]HookMatcher{
		HookEventPreToolUse: {{Matcher: "Bash", Hooks: []HookHandler{HookFunc(noopHook)}}},
	})
	client, cli := startTestClient(t, ClientConfig{
		Hooks: registry,
		Agents: map[string]AgentDefinition{
			"reviewer": {Description: "Reviews diffs", Prompt: "You review code."},
		},
	})

	id, req := cli.expectRequest(SubtypeInitialize)
	hooks, _ := req["hooks"].(map[string]any)
	if entries, ok := hooks[string(HookEventPreToolUse)].([]any); !ok || len(entries) != 1 {
		t.Errorf("expected hook table advertised, got %v", req["hooks"])
	}
	agents, _ := req["agents"].(map[string]any)
	if _, ok := agents["reviewer"]; !ok {
		t.Errorf("expected agents advertised, got %v", req["agents"])
	}
	cli.respondSuccess(id, `{"commands":[{"name":"compact"}],"output_style":"default"}`)

	waitReady(t, client)
	info := client.ServerInfo()
	if info == nil || len(info.Commands) != 1 || info.Commands[0].Name != "compact" {
		t.Errorf("unexpected server info %+v", info)
	}

	client.Stop()
	waitDone(t, client)
	if err := client.Err(); err != nil {
		t.Errorf("clean stop must leave no error, got %v", err)
	}
}

func TestClientInitializeTimeout(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{InitializeTimeout: 60 * time.Millisecond})

	// Swallow the handshake and never answer it.
	cli.expectRequest(SubtypeInitialize)

	waitDone(t, client)
	if !errors.Is(client.Err(), ErrInitializeTimeout) {
		t.Errorf("expected ErrInitializeTimeout, got %v", client.Err())
	}
	select {
	case <-client.Ready():
		t.Error("ready must not close on a failed handshake")
	default:
	}
}

func TestClientControlRoundTrip(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	result := make(chan error, 1)
	go func() {
		result <- client.SetPermissionMode(context.Background(), PermissionModePlan)
	}()

	id, req := cli.expectRequest(SubtypeSetPermissionMode)
	if req["mode"] != PermissionModePlan {
		t.Errorf("expected mode plan, got %v", req["mode"])
	}
	cli.respondSuccess(id, `{}`)

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("SetPermissionMode failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the control round trip")
	}
}

func TestClientControlErrorResponse(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	result := make(chan error, 1)
	go func() {
		model := "claude-nonexistent"
		result <- client.SetModel(context.Background(), &model)
	}()

	id, _ := cli.expectRequest(SubtypeSetModel)
	cli.respondError(id, "model not available")

	select {
	case err := <-result:
		var ce *ControlError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *ControlError, got %v", err)
		}
		if ce.RequestID != id || ce.Message != "model not available" {
			t.Errorf("unexpected control error %+v", ce)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the error response")
	}
}

func TestClientControlTimeout(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{ControlTimeout: 60 * time.Millisecond})
	cli.handshake()
	waitReady(t, client)

	result := make(chan error, 1)
	go func() {
		result <- client.SetPermissionMode(context.Background(), PermissionModeDefault)
	}()

	// Consume the request but never answer; only the timer can resolve it.
	cli.expectRequest(SubtypeSetPermissionMode)

	select {
	case err := <-result:
		if !errors.Is(err, ErrControlTimeout) {
			t.Errorf("expected ErrControlTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the timeout resolution")
	}

	// One lost request must not cost the connection.
	select {
	case <-client.Done():
		t.Fatal("connection must survive a control timeout")
	default:
	}
}

func TestClientLateDuplicateAndUnknownResponses(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{ControlTimeout: 60 * time.Millisecond})
	cli.handshake()
	waitReady(t, client)

	result := make(chan error, 1)
	go func() {
		model := "claude-sonnet-4-5"
		result <- client.SetModel(context.Background(), &model)
	}()
	id, _ := cli.expectRequest(SubtypeSetModel)

	select {
	case err := <-result:
		if !errors.Is(err, ErrControlTimeout) {
			t.Fatalf("expected timeout first, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the timeout resolution")
	}

	// A late response, a duplicate of it, and a response to a request that
	// was never issued must all be absorbed silently.
	cli.respondSuccess(id, `{}`)
	cli.respondSuccess(id, `{}`)
	cli.respondSuccess("req_999_deadbeef", `{}`)

	status := make(chan error, 1)
	go func() {
		_, err := client.MCPStatus(context.Background())
		status <- err
	}()
	statusID, _ := cli.expectRequest(SubtypeMCPStatus)
	cli.respondSuccess(statusID, `{"servers":[]}`)

	select {
	case err := <-status:
		if err != nil {
			t.Errorf("connection unusable after stray responses: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the follow-up round trip")
	}
	if err := client.Err(); err != nil {
		t.Errorf("stray responses must not error the connection, got %v", err)
	}
}

func TestClientInterruptFireAndForget(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	// Interrupt returns once written, before any acknowledgement exists.
	if err := client.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt failed: %v", err)
	}
	id, _ := cli.expectRequest(SubtypeInterrupt)

	// The acknowledgement has no pending entry; it must be a no-op.
	cli.respondSuccess(id, `{}`)

	result := make(chan error, 1)
	go func() {
		result <- client.SetPermissionMode(context.Background(), PermissionModeDefault)
	}()
	modeID, _ := cli.expectRequest(SubtypeSetPermissionMode)
	cli.respondSuccess(modeID, `{}`)

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("connection unusable after interrupt: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the follow-up round trip")
	}
}

func TestClientStopResolvesPending(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	result := make(chan error, 1)
	go func() {
		model := "claude-sonnet-4-5"
		result <- client.SetModel(context.Background(), &model)
	}()
	cli.expectRequest(SubtypeSetModel)

	client.Stop()

	select {
	case err := <-result:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("expected ErrDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not resolve the pending request")
	}
	waitDone(t, client)
}

func TestClientPipeEOF(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	cli.stdout.Close()

	waitDone(t, client)
	if !errors.Is(client.Err(), ErrDisconnected) {
		t.Errorf("expected ErrDisconnected on EOF, got %v", client.Err())
	}
}

func TestClientFatalUndecodableLine(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	cli.send(`{"type":`)

	waitDone(t, client)
	err := client.Err()
	if err == nil || !strings.Contains(err.Error(), "undecodable") {
		t.Errorf("expected fatal undecodable line error, got %v", err)
	}
}

func TestClientRecoverableRecordsAreSkipped(t *testing.T) {
	received := make(chan Message, 8)
	client, cli := startTestClient(t, ClientConfig{
		OnMessage: func(msg Message) { received <- msg },
	})
	cli.handshake()
	waitReady(t, client)

	// Unknown type, then a known type missing a required field: both
	// skipped. The valid result after them must still be delivered.
	cli.send(`{"type":"hologram","session_id":"sess-1"}`)
	cli.send(`{"type":"rate_limit_event","session_id":"sess-1"}`)
	cli.send(`{"type":"result","subtype":"success","session_id":"sess-1","num_turns":1,"result":"done"}`)

	select {
	case msg := <-received:
		result, ok := msg.(*ResultMessage)
		if !ok {
			t.Fatalf("expected *ResultMessage, got %T", msg)
		}
		if result.Result != "done" || MessageSession(result) != "sess-1" {
			t.Errorf("unexpected result %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after skipped records was not delivered")
	}

	select {
	case <-client.Done():
		t.Fatal("recoverable records must not end the connection")
	default:
	}
}

func TestClientShapeMismatchedControlRecordsAreSkipped(t *testing.T) {
	received := make(chan Message, 4)
	client, cli := startTestClient(t, ClientConfig{
		OnMessage: func(msg Message) { received <- msg },
	})
	cli.handshake()
	waitReady(t, client)

	// Valid JSON with the wrong shape classifies as control traffic; each
	// record is skipped on its own, fatality is reserved for lines that do
	// not decode at all.
	cli.send(`{"type":"control_response","response":"oops"}`)
	cli.send(`{"type":"control_request","request_id":42,"request":"nope"}`)
	cli.send(`{"type":"result","subtype":"success","session_id":"sess-1","num_turns":1,"result":"done"}`)

	select {
	case msg := <-received:
		if _, ok := msg.(*ResultMessage); !ok {
			t.Fatalf("expected *ResultMessage, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid message after bad-shape control records was not delivered")
	}

	select {
	case <-client.Done():
		t.Fatalf("bad-shape control records must not end the connection: %v", client.Err())
	default:
	}
}

func TestClientMalformedAskAnsweredInline(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	// An identifiable ask with no request body is answered with an error
	// response by the owner goroutine itself; the reply must arrive and the
	// loop must keep serving traffic afterwards.
	cli.send(`{"type":"control_request","request_id":"req_cli_7"}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseError {
		t.Fatalf("expected error response for the malformed ask, got %v", body)
	}
	if body["request_id"] != "req_cli_7" {
		t.Errorf("expected the ask's ID echoed, got %v", body["request_id"])
	}

	result := make(chan error, 1)
	go func() {
		result <- client.SetPermissionMode(context.Background(), PermissionModeDefault)
	}()
	id, _ := cli.expectRequest(SubtypeSetPermissionMode)
	cli.respondSuccess(id, `{}`)

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("connection unusable after malformed ask: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the follow-up round trip")
	}
}

func TestClientPermissionAllowEchoesInput(t *testing.T) {
	requests := make(chan *PermissionRequest, 1)
	_, cli := startTestClient(t, ClientConfig{
		Permission: func(ctx context.Context, req *PermissionRequest) (*PermissionResult, error) {
			requests <- req
			return &PermissionResult{Behavior: BehaviorAllow}, nil
		},
	})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_0_cli","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"},"tool_use_id":"toolu_1","permission_suggestions":[{"type":"addRules","rules":[{"toolName":"Bash"}],"behavior":"allow","destination":"session"}]}}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseSuccess || body["request_id"] != "req_0_cli" {
		t.Fatalf("unexpected response envelope %v", body)
	}
	resp, _ := body["response"].(map[string]any)
	if resp["behavior"] != BehaviorAllow {
		t.Errorf("expected allow, got %v", resp)
	}
	updated, _ := resp["updatedInput"].(map[string]any)
	if updated["command"] != "ls" {
		t.Errorf("allow without rewrite must echo the original input, got %v", resp["updatedInput"])
	}

	captured := <-requests
	if captured.ToolName != "Bash" || captured.ToolUseID != "toolu_1" {
		t.Errorf("unexpected captured request %+v", captured)
	}
	if len(captured.Suggestions) != 1 || captured.Suggestions[0].Type != "addRules" {
		t.Errorf("expected suggestions surfaced, got %v", captured.Suggestions)
	}
}

func TestClientPermissionDeny(t *testing.T) {
	_, cli := startTestClient(t, ClientConfig{
		Permission: func(ctx context.Context, req *PermissionRequest) (*PermissionResult, error) {
			return &PermissionResult{Behavior: BehaviorDeny, Message: "destructive command"}, nil
		},
	})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_1_cli","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf /"}}}`)

	body := cli.expectResponse()
	resp, _ := body["response"].(map[string]any)
	if resp["behavior"] != BehaviorDeny || resp["message"] != "destructive command" {
		t.Errorf("unexpected deny response %v", resp)
	}
	if _, present := resp["updatedInput"]; present {
		t.Errorf("deny must not carry updatedInput, got %v", resp)
	}
}

func TestClientPermissionWithoutHandler(t *testing.T) {
	_, cli := startTestClient(t, ClientConfig{})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_2_cli","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{}}}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseError {
		t.Fatalf("expected error response, got %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "no permission handler") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestClientHookCallbackAsk(t *testing.T) {
	registry := NewHookRegistry(map[HookEvent][]HookMatcher{
		HookEventPreToolUse: {{Hooks: []HookHandler{HookFunc(func(ctx context.Context, inv *HookInvocation) (*HookOutput, error) {
			return &HookOutput{Behavior: BehaviorDeny, Message: "not during a deploy"}, nil
		})}}},
	})
	_, cli := startTestClient(t, ClientConfig{Hooks: registry})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_3_cli","request":{"subtype":"hook_callback","callback_id":"hook_0","input":{"tool_name":"Bash"},"tool_use_id":"toolu_2"}}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseSuccess {
		t.Fatalf("expected success envelope, got %v", body)
	}
	resp, _ := body["response"].(map[string]any)
	if resp["behavior"] != BehaviorDeny || resp["message"] != "not during a deploy" {
		t.Errorf("unexpected hook response %v", resp)
	}

	// An ID the initialize table never advertised is a protocol error.
	cli.send(`{"type":"control_request","request_id":"req_4_cli","request":{"subtype":"hook_callback","callback_id":"hook_9"}}`)
	body = cli.expectResponse()
	if body["subtype"] != ResponseError {
		t.Fatalf("expected error response, got %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "hook_9") {
		t.Errorf("error must name the unknown callback, got %q", msg)
	}
}

func TestClientHookFailureStaysNeutral(t *testing.T) {
	registry := NewHookRegistry(map[HookEvent][]HookMatcher{
		HookEventStop: {{Hooks: []HookHandler{HookFunc(func(ctx context.Context, inv *HookInvocation) (*HookOutput, error) {
			return nil, errors.New("hook backend offline")
		})}}},
	})
	_, cli := startTestClient(t, ClientConfig{Hooks: registry})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_5_cli","request":{"subtype":"hook_callback","callback_id":"hook_0"}}`)

	// The failure is logged, not surfaced: the CLI sees a neutral success.
	body := cli.expectResponse()
	if body["subtype"] != ResponseSuccess {
		t.Fatalf("expected neutral success, got %v", body)
	}
	resp, _ := body["response"].(map[string]any)
	if len(resp) != 0 {
		t.Errorf("expected empty neutral response, got %v", resp)
	}
}

func TestClientMCPMessageAsk(t *testing.T) {
	router := NewMCPRouter(map[string]*server.MCPServer{"text": newTextToolServer()})
	_, cli := startTestClient(t, ClientConfig{MCP: router})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_6_cli","request":{"subtype":"mcp_message","server_name":"text","message":{"jsonrpc":"2.0","id":9,"method":"tools/list"}}}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseSuccess {
		t.Fatalf("expected success envelope, got %v", body)
	}
	resp, _ := body["response"].(map[string]any)
	mcpResp, _ := resp["mcp_response"].(map[string]any)
	result, _ := mcpResp["result"].(map[string]any)
	tools, _ := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("unexpected tools/list payload %v", resp)
	}
	if tool, _ := tools[0].(map[string]any); tool["name"] != "upper" {
		t.Errorf("unexpected tool %v", tools[0])
	}
}

func TestClientMCPMessageUnknownServer(t *testing.T) {
	router := NewMCPRouter(map[string]*server.MCPServer{"text": newTextToolServer()})
	_, cli := startTestClient(t, ClientConfig{MCP: router})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_7_cli","request":{"subtype":"mcp_message","server_name":"files","message":{"jsonrpc":"2.0","id":3,"method":"tools/list"}}}`)

	// The control channel worked; the JSON-RPC layer reports the miss.
	body := cli.expectResponse()
	if body["subtype"] != ResponseSuccess {
		t.Fatalf("expected success envelope, got %v", body)
	}
	resp, _ := body["response"].(map[string]any)
	mcpResp, _ := resp["mcp_response"].(map[string]any)
	rpcErr, _ := mcpResp["error"].(map[string]any)
	if rpcErr == nil {
		t.Fatalf("expected JSON-RPC error, got %v", resp)
	}
	if rpcErr["code"] != float64(mcp.METHOD_NOT_FOUND) {
		t.Errorf("expected method-not-found, got %v", rpcErr["code"])
	}
	if msg, _ := rpcErr["message"].(string); !strings.Contains(msg, "files") {
		t.Errorf("error must name the server, got %q", msg)
	}
}

func TestClientMCPMessageMissingServerName(t *testing.T) {
	_, cli := startTestClient(t, ClientConfig{})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_8_cli","request":{"subtype":"mcp_message","message":{"jsonrpc":"2.0","id":1,"method":"tools/list"}}}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseError {
		t.Fatalf("expected error response, got %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "server_name") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestClientUnsupportedAskSubtype(t *testing.T) {
	_, cli := startTestClient(t, ClientConfig{})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_9_cli","request":{"subtype":"telemetry_snapshot"}}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseError {
		t.Fatalf("expected error response, got %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "telemetry_snapshot") {
		t.Errorf("error must name the subtype, got %q", msg)
	}
}

func TestClientCancelWithdrawsAsk(t *testing.T) {
	started := make(chan struct{})
	_, cli := startTestClient(t, ClientConfig{
		Permission: func(ctx context.Context, req *PermissionRequest) (*PermissionResult, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	cli.handshake()

	cli.send(`{"type":"control_request","request_id":"req_10_cli","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{}}}`)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("permission handler never started")
	}

	cli.send(`{"type":"control_cancel_request","request_id":"req_10_cli"}`)

	body := cli.expectResponse()
	if body["subtype"] != ResponseError {
		t.Fatalf("expected error response after cancel, got %v", body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "context canceled") {
		t.Errorf("expected cancellation surfaced, got %q", msg)
	}
}

func TestClientSendUserMessage(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	if err := client.SendUserMessage(context.Background(), NewUserInputMessage("hello there", "sess-1")); err != nil {
		t.Fatalf("SendUserMessage failed: %v", err)
	}

	line := cli.next()
	if line["type"] != MessageTypeUser || line["session_id"] != "sess-1" {
		t.Fatalf("unexpected user turn %v", line)
	}
	msg, _ := line["message"].(map[string]any)
	if msg["role"] != "user" || msg["content"] != "hello there" {
		t.Errorf("unexpected message body %v", msg)
	}
	if v, present := line["parent_tool_use_id"]; !present || v != nil {
		t.Errorf("expected explicit null parent_tool_use_id, got %v", line)
	}
}

func TestClientStopIdempotent(t *testing.T) {
	client, cli := startTestClient(t, ClientConfig{})
	cli.handshake()
	waitReady(t, client)

	client.Stop()
	client.Stop()
	waitDone(t, client)
	if err := client.Err(); err != nil {
		t.Errorf("clean stop must leave no error, got %v", err)
	}
}
