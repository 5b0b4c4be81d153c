package claudecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentwire/internal/common/logger"
	"github.com/kandev/agentwire/internal/tracing"
)

const (
	// DefaultInitializeTimeout bounds the initialize handshake.
	DefaultInitializeTimeout = 30 * time.Second
	// DefaultControlTimeout bounds every other outbound control request.
	DefaultControlTimeout = 60 * time.Second
)

// MessageHandler receives each decoded domain message in stream order. It is
// called on the connection's owner goroutine and must not block.
type MessageHandler func(msg Message)

// PermissionRequest is one can_use_tool ask from the CLI.
type PermissionRequest struct {
	ToolName    string
	Input       map[string]any
	Suggestions []PermissionUpdate
	BlockedPath string
	ToolUseID   string
}

// PermissionHandler decides one tool permission ask. It runs off the owner
// goroutine and may block; ctx is cancelled if the CLI withdraws the ask or
// the connection closes.
type PermissionHandler func(ctx context.Context, req *PermissionRequest) (*PermissionResult, error)

// ClientConfig wires a Client to its pipes and host-side callbacks.
type ClientConfig struct {
	Stdin  io.Writer
	Stdout io.Reader
	Logger *logger.Logger

	// OnMessage receives decoded domain messages.
	OnMessage MessageHandler
	// Permission answers can_use_tool asks. Without one, every ask is
	// answered with an error response.
	Permission PermissionHandler
	// Hooks answers hook_callback asks.
	Hooks *HookRegistry
	// MCP routes mcp_message asks to in-process servers.
	MCP *MCPRouter
	// Agents is advertised to the CLI in the initialize handshake.
	Agents map[string]AgentDefinition

	InitializeTimeout time.Duration
	ControlTimeout    time.Duration
	MaxLineSize       int
}

// controlOutcome is the resolution of one pending control request.
type controlOutcome struct {
	data json.RawMessage
	err  error
}

// pendingControl is one outbound control request awaiting its response.
// Exactly one resolution is ever delivered: the matching response or the
// timeout, whichever the owner processes first.
type pendingControl struct {
	id      string
	subtype string
	timeout time.Duration
	ch      chan controlOutcome
	timer   *time.Timer
}

// sendOp is one write handed to the owner goroutine. Ops carrying a pending
// entry are registered before the write; fire-and-forget ops report the write
// error on wrErr instead.
type sendOp struct {
	payload any
	pending *pendingControl
	wrErr   chan error
}

// Client speaks the stream-json protocol over a connected CLI process's
// pipes. A single owner goroutine serializes every pipe write and all
// correlation state; callers suspend on per-request channels, never on the
// owner. Start launches the owner and the initialize handshake; Ready is
// closed once the CLI acknowledges it.
type Client struct {
	cfg    ClientConfig
	logger *logger.Logger
	ids    requestIDGenerator

	lineCh    chan []byte
	sendCh    chan *sendOp
	expiredCh chan string

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	ready    chan struct{}

	// pending is owned by the run goroutine; no lock.
	pending map[string]*pendingControl

	// readErr is set by the read loop before lineCh closes.
	readErr error

	asksMu sync.Mutex
	asks   map[string]context.CancelFunc

	infoMu     sync.Mutex
	serverInfo *InitializeResult

	errMu sync.Mutex
	err   error
}

// NewClient creates a client over the given pipes. Call Start to begin.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Stdin == nil || cfg.Stdout == nil {
		return nil, errors.New("claudecode: stdin and stdout are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.InitializeTimeout <= 0 {
		cfg.InitializeTimeout = DefaultInitializeTimeout
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = DefaultControlTimeout
	}
	return &Client{
		cfg:       cfg,
		logger:    cfg.Logger.WithFields(zap.String("component", "claudecode-client")),
		lineCh:    make(chan []byte),
		sendCh:    make(chan *sendOp),
		expiredCh: make(chan string, 16),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		pending:   make(map[string]*pendingControl),
		asks:      make(map[string]context.CancelFunc),
	}, nil
}

// Start launches the read loop, the owner goroutine and the initialize
// handshake. The context bounds the connection's lifetime.
func (c *Client) Start(ctx context.Context) {
	go c.readLoop()
	go c.run(ctx)
	go c.initialize(ctx)
}

// Stop closes the connection. Pending control requests resolve with a
// disconnect error. Stop is idempotent.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Ready is closed when the initialize handshake succeeds. On handshake
// failure Done closes instead, so waiters must select over both.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Done is closed when the connection has fully torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports what ended the connection; nil after a clean Stop.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// ServerInfo returns the cached initialize payload, or nil before Ready.
func (c *Client) ServerInfo() *InitializeResult {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.serverInfo
}

// SendControlRequest issues one control request and waits for its response,
// its timeout, or ctx. The response payload is returned raw for the caller
// to decode per subtype.
func (c *Client) SendControlRequest(ctx context.Context, body SDKControlRequestBody) (json.RawMessage, error) {
	return c.sendControl(ctx, body, c.cfg.ControlTimeout)
}

// SetModel switches the active model. A nil model clears the override.
func (c *Client) SetModel(ctx context.Context, model *string) error {
	_, err := c.SendControlRequest(ctx, SDKControlRequestBody{Subtype: SubtypeSetModel, Model: model})
	return err
}

// SetPermissionMode switches the permission mode.
func (c *Client) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := c.SendControlRequest(ctx, SDKControlRequestBody{Subtype: SubtypeSetPermissionMode, Mode: mode})
	return err
}

// RewindFiles restores the working tree to a checkpoint.
func (c *Client) RewindFiles(ctx context.Context, backupID string) error {
	_, err := c.SendControlRequest(ctx, SDKControlRequestBody{Subtype: SubtypeRewindFiles, BackupID: backupID})
	return err
}

// MCPStatus queries the CLI for MCP server health.
func (c *Client) MCPStatus(ctx context.Context) (json.RawMessage, error) {
	return c.SendControlRequest(ctx, SDKControlRequestBody{Subtype: SubtypeMCPStatus})
}

// Interrupt asks the CLI to stop the current turn. It is fire-and-forget:
// it returns once the request is written, without registering a pending
// entry, and the CLI's acknowledgement is absorbed as a no-op. The streaming
// turn ends without a result record; callers observe that as the interrupted
// outcome.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.writeAsync(ctx, NewInterruptRequest(c.ids.next()))
}

// SendUserMessage writes one user turn to the CLI.
func (c *Client) SendUserMessage(ctx context.Context, msg *UserInputMessage) error {
	return c.writeAsync(ctx, msg)
}

func (c *Client) sendControl(ctx context.Context, body SDKControlRequestBody, timeout time.Duration) (json.RawMessage, error) {
	req := &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: c.ids.next(),
		Request:   body,
	}
	ctx, span := tracing.TraceControlRequest(ctx, body.Subtype, req.RequestID)
	defer span.End()

	op := &sendOp{
		payload: req,
		pending: &pendingControl{
			id:      req.RequestID,
			subtype: body.Subtype,
			timeout: timeout,
			ch:      make(chan controlOutcome, 1),
		},
	}

	select {
	case c.sendCh <- op:
	case <-c.done:
		tracing.TraceControlResponse(span, ErrDisconnected)
		return nil, ErrDisconnected
	case <-ctx.Done():
		tracing.TraceControlResponse(span, ctx.Err())
		return nil, ctx.Err()
	}

	select {
	case out := <-op.pending.ch:
		tracing.TraceControlResponse(span, out.err)
		return out.data, out.err
	case <-ctx.Done():
		// The entry stays pending; its timer or the teardown resolves it
		// into the buffered channel later.
		tracing.TraceControlResponse(span, ctx.Err())
		return nil, ctx.Err()
	}
}

// writeAsync hands a payload to the owner and waits only for the write.
func (c *Client) writeAsync(ctx context.Context, payload any) error {
	op := &sendOp{payload: payload, wrErr: make(chan error, 1)}
	select {
	case c.sendCh <- op:
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.wrErr:
		return err
	case <-c.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// initialize performs the handshake as an ordinary control caller. Failure
// takes down the connection; success caches server_info and closes ready.
func (c *Client) initialize(ctx context.Context) {
	body := SDKControlRequestBody{
		Subtype: SubtypeInitialize,
		Hooks:   c.cfg.Hooks.WireTable(),
		Agents:  c.cfg.Agents,
	}
	c.logger.Info("claudecode: sending initialize",
		zap.Int("hooks", c.cfg.Hooks.Len()),
		zap.Int("mcp_servers", c.cfg.MCP.Len()),
		zap.Int("agents", len(c.cfg.Agents)))

	payload, err := c.sendControl(ctx, body, c.cfg.InitializeTimeout)
	if err != nil {
		if errors.Is(err, ErrControlTimeout) {
			err = fmt.Errorf("%w after %v", ErrInitializeTimeout, c.cfg.InitializeTimeout)
		}
		c.logger.Error("claudecode: initialize handshake failed", zap.Error(err))
		c.fail(fmt.Errorf("initialize handshake: %w", err))
		return
	}

	info, perr := ParseInitializeResult(payload)
	if perr != nil {
		c.logger.Warn("claudecode: initialize payload not fully decoded", zap.Error(perr))
		info = &InitializeResult{Raw: payload}
	}
	c.infoMu.Lock()
	c.serverInfo = info
	c.infoMu.Unlock()

	c.logger.Info("claudecode: ready",
		zap.Int("commands", len(info.Commands)),
		zap.Int("agents", len(info.Agents)))
	close(c.ready)
}

// readLoop pulls raw chunks off stdout and frames them into lines for the
// owner. It exits on pipe EOF/error or teardown.
func (c *Client) readLoop() {
	defer close(c.lineCh)

	buf := NewLineBuffer(c.cfg.MaxLineSize)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := c.cfg.Stdout.Read(chunk)
		if n > 0 {
			lines, ferr := buf.Feed(chunk[:n])
			for _, line := range lines {
				if len(line) == 0 {
					continue
				}
				select {
				case c.lineCh <- line:
				case <-c.done:
					return
				}
			}
			if ferr != nil {
				c.readErr = ferr
				return
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				c.readErr = rerr
			}
			return
		}
	}
}

// run is the owner goroutine: the only writer of the pipe and the only
// mutator of the pending table. Response arrival and timer expiry are both
// just events in this loop, so a request resolves exactly once.
func (c *Client) run(ctx context.Context) {
	for {
		select {
		case line, ok := <-c.lineCh:
			if !ok {
				err := c.readErr
				if err == nil {
					err = ErrDisconnected
				}
				c.teardown(err)
				return
			}
			if fatal := c.handleLine(ctx, line); fatal != nil {
				c.logger.Error("claudecode: stream unusable", zap.Error(fatal))
				c.teardown(fatal)
				return
			}
		case op := <-c.sendCh:
			c.handleSend(op)
		case id := <-c.expiredCh:
			c.resolveTimeout(id)
		case <-ctx.Done():
			c.teardown(ctx.Err())
			return
		case <-c.stopCh:
			c.teardown(nil)
			return
		}
	}
}

func (c *Client) handleSend(op *sendOp) {
	if op.pending != nil {
		c.register(op.pending)
	}
	err := c.write(op.payload)
	if err != nil {
		c.logger.Error("claudecode: write failed", zap.Error(err))
		if op.pending != nil {
			c.resolve(op.pending.id, controlOutcome{err: err})
		}
	}
	if op.wrErr != nil {
		op.wrErr <- err
	}
}

func (c *Client) register(p *pendingControl) {
	c.pending[p.id] = p
	p.timer = time.AfterFunc(p.timeout, func() {
		select {
		case c.expiredCh <- p.id:
		case <-c.done:
		}
	})
}

// resolve completes a pending request with the given outcome. An ID with no
// pending entry is a no-op: late and duplicate responses, and responses to
// fire-and-forget requests, land here.
func (c *Client) resolve(id string, out controlOutcome) {
	p, ok := c.pending[id]
	if !ok {
		c.logger.Debug("claudecode: control response for unknown request", zap.String("request_id", id))
		return
	}
	p.timer.Stop()
	delete(c.pending, id)
	p.ch <- out
}

func (c *Client) resolveTimeout(id string) {
	p, ok := c.pending[id]
	if !ok {
		// The response won the race; the queued expiry is stale.
		return
	}
	delete(c.pending, id)
	c.logger.Warn("claudecode: control request timed out",
		zap.String("request_id", id),
		zap.String("subtype", p.subtype),
		zap.Duration("timeout", p.timeout))
	p.ch <- controlOutcome{err: fmt.Errorf("%w: %s after %v", ErrControlTimeout, p.subtype, p.timeout)}
}

func (c *Client) write(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.cfg.Stdin.Write(data); err != nil {
		return fmt.Errorf("write to CLI stdin: %w", err)
	}
	c.logger.Debug("claudecode: sent", zap.ByteString("data", data))
	return nil
}

// handleLine dispatches one framed line. The returned error is non-nil only
// for conditions fatal to the whole stream; per-record failures are logged
// and skipped.
func (c *Client) handleLine(ctx context.Context, line []byte) error {
	switch Classify(line) {
	case RecordControlRequest:
		requestID, req := c.parseAsk(line)
		if req != nil {
			c.dispatchAsk(ctx, requestID, req)
		}
		return nil

	case RecordControlResponse:
		body, err := ParseControlResponse(line)
		if err != nil {
			// Always a ParseError here: the record classified as control
			// traffic, so it decoded as JSON and only its shape is wrong.
			c.logger.Warn("claudecode: skipping malformed control response", zap.Error(err))
			return nil
		}
		out := controlOutcome{data: body.Response}
		if body.Subtype == ResponseError {
			out = controlOutcome{err: &ControlError{RequestID: body.RequestID, Message: body.Error}}
		}
		c.resolve(body.RequestID, out)
		return nil

	default:
		return c.handleMessage(ctx, line)
	}
}

// parseAsk decodes an inbound control_request, answering malformed but
// identifiable asks with an error response. Malformed asks never fail the
// stream: the record already classified as control traffic, so the worst
// case is a shape mismatch local to it.
func (c *Client) parseAsk(line []byte) (string, *ControlRequest) {
	requestID, req, err := ParseControlRequest(line)
	if err == nil {
		return requestID, req
	}
	c.logger.Warn("claudecode: malformed control request", zap.Error(err))
	if requestID != "" {
		// parseAsk runs on the owner goroutine, which is the only reader of
		// sendCh, so the reply is written directly rather than queued.
		if werr := c.write(ErrorResponse(requestID, err.Error())); werr != nil {
			c.logger.Error("claudecode: failed to answer malformed control request", zap.Error(werr))
		}
	}
	return "", nil
}

func (c *Client) handleMessage(ctx context.Context, line []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return fmt.Errorf("undecodable stream line: %w", err)
	}

	// control_cancel_request classifies as a domain record but is handled
	// here: it withdraws an inbound ask still being answered.
	if probe.Type == MessageTypeControlCancelRequest {
		cancel, err := ParseControlCancel(line)
		if err != nil {
			c.logger.Warn("claudecode: malformed control cancel", zap.Error(err))
			return nil
		}
		c.cancelAsk(cancel.RequestID)
		return nil
	}

	msg, err := ParseMessage(line)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			c.logger.Warn("claudecode: skipping unparseable message",
				zap.String("type", pe.MessageType),
				zap.Strings("missing_fields", pe.MissingFields),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("undecodable stream line: %w", err)
	}

	tracing.TraceMessage(ctx, probe.Type, MessageSession(msg))
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(msg)
	}
	return nil
}

// dispatchAsk answers an inbound ask off the owner goroutine so a slow
// permission prompt or tool handler never stalls the stream.
func (c *Client) dispatchAsk(ctx context.Context, requestID string, req *ControlRequest) {
	askCtx, cancel := context.WithCancel(ctx)
	c.asksMu.Lock()
	c.asks[requestID] = cancel
	c.asksMu.Unlock()

	go func() {
		defer func() {
			c.asksMu.Lock()
			delete(c.asks, requestID)
			c.asksMu.Unlock()
			cancel()
		}()
		c.respondAsk(c.answerAsk(askCtx, requestID, req))
	}()
}

// cancelAsk aborts the in-flight handler for a withdrawn ask, if any.
func (c *Client) cancelAsk(requestID string) {
	c.asksMu.Lock()
	cancel, ok := c.asks[requestID]
	c.asksMu.Unlock()
	if ok {
		c.logger.Debug("claudecode: cancelling inbound request", zap.String("request_id", requestID))
		cancel()
	}
}

// respondAsk queues a control response for the owner to write.
func (c *Client) respondAsk(env *ControlResponseEnvelope) {
	if env == nil {
		return
	}
	select {
	case c.sendCh <- &sendOp{payload: env}:
	case <-c.done:
	}
}

func (c *Client) answerAsk(ctx context.Context, requestID string, req *ControlRequest) *ControlResponseEnvelope {
	c.logger.Debug("claudecode: control request received",
		zap.String("request_id", requestID),
		zap.String("subtype", req.Subtype))

	switch req.Subtype {
	case SubtypeCanUseTool:
		return c.answerPermission(ctx, requestID, req)
	case SubtypeHookCallback:
		return c.answerHook(ctx, requestID, req)
	case SubtypeMCPMessage:
		return c.answerMCP(ctx, requestID, req)
	default:
		c.logger.Warn("claudecode: unsupported control request subtype",
			zap.String("request_id", requestID),
			zap.String("subtype", req.Subtype))
		return ErrorResponse(requestID, fmt.Sprintf("unsupported control request subtype: %s", req.Subtype))
	}
}

func (c *Client) answerPermission(ctx context.Context, requestID string, req *ControlRequest) *ControlResponseEnvelope {
	if c.cfg.Permission == nil {
		return ErrorResponse(requestID, "no permission handler registered")
	}
	result, err := c.cfg.Permission(ctx, &PermissionRequest{
		ToolName:    req.ToolName,
		Input:       req.Input,
		Suggestions: req.PermissionSuggestions,
		BlockedPath: req.BlockedPath,
		ToolUseID:   req.ToolUseID,
	})
	if err != nil {
		c.logger.Warn("claudecode: permission handler failed",
			zap.String("tool", req.ToolName),
			zap.Error(err))
		return ErrorResponse(requestID, err.Error())
	}
	if result == nil {
		return ErrorResponse(requestID, "permission handler returned no decision")
	}
	if result.Behavior == BehaviorAllow && result.UpdatedInput == nil {
		// The CLI replaces the tool input with updatedInput on allow, so
		// echo the original when the handler did not rewrite it.
		result.UpdatedInput = req.Input
	}
	env, err := SuccessResponse(requestID, result)
	if err != nil {
		return ErrorResponse(requestID, err.Error())
	}
	return env
}

func (c *Client) answerHook(ctx context.Context, requestID string, req *ControlRequest) *ControlResponseEnvelope {
	_, event, ok := c.cfg.Hooks.Lookup(req.CallbackID)
	if !ok {
		c.logger.Warn("claudecode: hook callback for unknown ID",
			zap.String("callback_id", req.CallbackID))
		return ErrorResponse(requestID, fmt.Sprintf("no hook registered for callback ID %q", req.CallbackID))
	}

	resp, err := c.cfg.Hooks.Dispatch(ctx, req.CallbackID, req.Input, req.ToolUseID)
	tracing.TraceHookDispatch(ctx, string(event), req.CallbackID, err)
	if err != nil {
		// The neutral response keeps the channel healthy; the failure is
		// only logged.
		c.logger.Warn("claudecode: hook dispatch failed",
			zap.String("callback_id", req.CallbackID),
			zap.Error(err))
	}
	env, merr := SuccessResponse(requestID, resp)
	if merr != nil {
		return ErrorResponse(requestID, merr.Error())
	}
	return env
}

func (c *Client) answerMCP(ctx context.Context, requestID string, req *ControlRequest) *ControlResponseEnvelope {
	if req.ServerName == "" {
		return ErrorResponse(requestID, "mcp_message missing server_name")
	}

	var method struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(req.Message, &method)

	ctx, span := tracing.TraceMCPDispatch(ctx, req.ServerName, method.Method)
	defer span.End()
	result := c.cfg.MCP.Route(ctx, req.ServerName, req.Message)

	var rpcErr struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if result != nil && json.Unmarshal(result, &rpcErr) == nil && rpcErr.Error != nil {
		tracing.TraceMCPResponse(span, errors.New(rpcErr.Error.Message))
	}

	payload := map[string]any{"mcp_response": json.RawMessage("null")}
	if result != nil {
		payload["mcp_response"] = result
	}
	env, err := SuccessResponse(requestID, payload)
	if err != nil {
		return ErrorResponse(requestID, err.Error())
	}
	return env
}

// teardown resolves every pending request with a disconnect error, cancels
// in-flight inbound asks and closes done. Owner-only.
func (c *Client) teardown(cause error) {
	c.setErr(cause)

	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
		out := controlOutcome{err: ErrDisconnected}
		if cause != nil {
			out.err = fmt.Errorf("%w: %v", ErrDisconnected, cause)
		}
		p.ch <- out
	}

	c.asksMu.Lock()
	for id, cancel := range c.asks {
		cancel()
		delete(c.asks, id)
	}
	c.asksMu.Unlock()

	if cause != nil {
		c.logger.Info("claudecode: connection closed", zap.Error(cause))
	} else {
		c.logger.Info("claudecode: connection closed")
	}
	close(c.done)
}

func (c *Client) fail(err error) {
	c.setErr(err)
	c.Stop()
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
