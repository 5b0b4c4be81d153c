// Package streamjson runs a Claude Code CLI subprocess and adapts its
// stream-json protocol (--output-format stream-json) to a host-facing
// surface: connect, queries, control requests, interrupt, health, and an
// asynchronous event channel.
package streamjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/agentwire/internal/common/logger"
	"github.com/kandev/agentwire/internal/tracing"
	"github.com/kandev/agentwire/pkg/claudecode"
)

// Adapter owns one CLI subprocess and the protocol client speaking to it.
// Lifecycle: NewAdapter → Connect (spawn + handshake) → queries and control
// requests → Close. Events stream on Updates() throughout.
type Adapter struct {
	opts   *Options
	logger *logger.Logger

	// ctx bounds the subprocess and the protocol client.
	ctx    context.Context
	cancel context.CancelFunc

	updatesCh chan Event
	evMu      sync.Mutex
	evClosed  bool

	// watchDone is closed when the watch goroutine has finished the final
	// bookkeeping for a dead connection.
	watchDone chan struct{}

	mu           sync.RWMutex
	status       Status
	statusReason string
	client       *claudecode.Client
	proc         *Process // nil when attached to external pipes
	sessionID    string
	watching     bool
	closed       bool

	// activeRef is the in-flight query, if any. interruptRequested marks
	// that query as interrupted so a stream that ends without a result is
	// reported as the interrupted outcome, not a disconnect.
	activeRef          string
	interruptRequested bool
	querySpan          trace.Span
}

// NewAdapter creates an adapter for the given options. Call Connect to
// spawn the CLI, or ConnectPipes to attach to an already-running one.
func NewAdapter(opts *Options, log *logger.Logger) (*Adapter, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		opts:      opts,
		logger:    log.WithFields(zap.String("adapter", "stream-json")),
		ctx:       ctx,
		cancel:    cancel,
		updatesCh: make(chan Event, 100),
		watchDone: make(chan struct{}),
	}, nil
}

// Connect spawns the CLI subprocess and performs the initialize handshake.
// It returns once the adapter is ready, or with the error that kept it from
// getting there; either way a status event is emitted.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.beginConnect(); err != nil {
		return err
	}

	command, err := buildCommandLine(a.opts)
	if err != nil {
		a.failProvisioning(err.Error())
		return err
	}
	env := mergeEnv(os.Environ(), a.opts)

	a.logger.Info("spawning agent process", zap.String("command", command))
	proc, err := StartProcess(a.ctx, command, a.opts.WorkDir, env, a.logger)
	if err != nil {
		a.failProvisioning(err.Error())
		return fmt.Errorf("spawn agent: %w", err)
	}

	return a.attach(ctx, proc.Stdin(), proc.Stdout(), proc)
}

// ConnectPipes attaches to an agent that is already running on the given
// pipes and performs the initialize handshake. The caller keeps ownership
// of the process behind the pipes.
func (a *Adapter) ConnectPipes(ctx context.Context, stdin io.Writer, stdout io.Reader) error {
	if err := a.beginConnect(); err != nil {
		return err
	}
	return a.attach(ctx, stdin, stdout, nil)
}

// beginConnect moves the adapter into provisioning, rejecting reuse.
func (a *Adapter) beginConnect() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return claudecode.ErrDisconnected
	}
	if a.client != nil {
		a.mu.Unlock()
		return claudecode.ErrAlreadyConnected
	}
	a.status = StatusProvisioning
	a.statusReason = ""
	a.mu.Unlock()

	a.sendUpdate(Event{Type: EventTypeStatus, Status: StatusProvisioning})
	return nil
}

// failProvisioning records a spawn-phase failure.
func (a *Adapter) failProvisioning(reason string) {
	a.mu.Lock()
	a.status = StatusError
	a.statusReason = reason
	a.mu.Unlock()
	a.sendUpdate(Event{Type: EventTypeStatus, Status: StatusError, Reason: reason})
}

// attach wires the protocol client to the pipes and waits for the
// handshake. The watch goroutine owns all terminal bookkeeping from here.
func (a *Adapter) attach(ctx context.Context, stdin io.Writer, stdout io.Reader, proc *Process) error {
	client, err := claudecode.NewClient(claudecode.ClientConfig{
		Stdin:             stdin,
		Stdout:            stdout,
		Logger:            a.logger,
		OnMessage:         a.handleMessage,
		Permission:        a.opts.Permission,
		Hooks:             claudecode.NewHookRegistry(a.opts.Hooks),
		MCP:               claudecode.NewMCPRouter(a.opts.MCPServers),
		Agents:            a.opts.Agents,
		InitializeTimeout: a.opts.InitializeTimeout,
		ControlTimeout:    a.opts.ControlTimeout,
		MaxLineSize:       a.opts.MaxLineSize,
	})
	if err != nil {
		if proc != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
			proc.Stop(stopCtx)
			cancel()
		}
		a.failProvisioning(err.Error())
		return fmt.Errorf("create protocol client: %w", err)
	}

	a.mu.Lock()
	a.client = client
	a.proc = proc
	a.watching = true
	a.mu.Unlock()

	client.Start(a.ctx)
	go a.watch(client, proc)

	select {
	case <-client.Ready():
		a.mu.Lock()
		// The watch goroutine may already have recorded a terminal status
		// if the connection died right after the handshake.
		if a.status == StatusProvisioning {
			a.status = StatusReady
			a.statusReason = ""
		}
		ready := a.status == StatusReady
		a.mu.Unlock()
		if ready {
			a.sendUpdate(Event{Type: EventTypeStatus, Status: StatusReady})
		}

		if info := client.ServerInfo(); info != nil {
			a.logger.Info("agent ready",
				zap.Int("commands", len(info.Commands)),
				zap.Int("agents", len(info.Agents)))
		}
		return nil

	case <-client.Done():
		// The watch goroutine reports the status transition; this call
		// just surfaces the handshake failure to its caller.
		err := client.Err()
		if err == nil {
			err = claudecode.ErrDisconnected
		}
		return fmt.Errorf("initialize agent: %w", err)

	case <-ctx.Done():
		client.Stop()
		return ctx.Err()
	}
}

// watch waits for the connection to die, then stops the subprocess, fails
// the active query, reports the terminal status and closes the updates
// channel. It is the only goroutine that does any of those things, so the
// teardown sequence is race-free.
func (a *Adapter) watch(client *claudecode.Client, proc *Process) {
	defer close(a.watchDone)

	<-client.Done()
	cause := client.Err()

	if proc != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*stopGracePeriod)
		proc.Stop(stopCtx)
		cancel()
	}

	// Enrich the disconnect error with the CLI's last words on stderr.
	disconnectErr := cause
	if disconnectErr == nil {
		disconnectErr = claudecode.ErrDisconnected
	}
	if proc != nil && cause != nil {
		if tail := proc.RecentStderr(); len(tail) > 0 {
			a.logger.Error("agent stderr tail", zap.Strings("stderr", tail))
			disconnectErr = fmt.Errorf("%w; stderr: %s", disconnectErr, tail[len(tail)-1])
		}
	}

	a.mu.Lock()
	ref := a.activeRef
	a.activeRef = ""
	interrupted := a.interruptRequested
	a.interruptRequested = false
	span := a.querySpan
	a.querySpan = nil

	status := StatusDisconnected
	reason := ""
	if cause != nil {
		reason = cause.Error()
		// A connection that never reached ready died provisioning: spawn
		// failure or handshake timeout.
		if a.status == StatusProvisioning {
			status = StatusError
		}
	}
	a.status = status
	a.statusReason = reason
	a.mu.Unlock()

	if span != nil {
		span.End()
	}

	if ref != "" {
		outcome := &Outcome{Kind: OutcomeDisconnect, Err: disconnectErr}
		if interrupted {
			// The turn was asked to stop and the stream ended without a
			// result record: that is the interrupted outcome, not an error.
			outcome = &Outcome{Kind: OutcomeInterrupted}
		}
		a.sendUpdate(Event{Type: EventTypeDone, Ref: ref, Outcome: outcome})
	}

	a.sendUpdate(Event{Type: EventTypeStatus, Status: status, Reason: reason})
	a.closeUpdates()
}

// EnsureConnected fails fast unless the handshake has completed. Sends
// attempted while provisioning are rejected rather than queued.
func (a *Adapter) EnsureConnected() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch a.status {
	case StatusReady:
		return nil
	case StatusProvisioning:
		return fmt.Errorf("%w: handshake in flight", claudecode.ErrNotConnected)
	default:
		if a.statusReason != "" {
			return fmt.Errorf("%w: %s", claudecode.ErrNotConnected, a.statusReason)
		}
		return claudecode.ErrNotConnected
	}
}

// Query sends one user prompt. The turn's messages arrive as events tagged
// with ref, terminated by a done event carrying the outcome. The protocol
// accepts one query at a time; a second submission while one is active
// fails with ErrQueryInFlight.
func (a *Adapter) Query(ctx context.Context, ref, prompt string) error {
	if ref == "" {
		return fmt.Errorf("query ref is required")
	}
	if err := a.EnsureConnected(); err != nil {
		return err
	}

	a.mu.Lock()
	if a.activeRef != "" {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", claudecode.ErrQueryInFlight, a.activeRef)
	}
	a.activeRef = ref
	a.interruptRequested = false
	client := a.client
	sessionID := a.sessionID
	_, a.querySpan = tracing.TraceQuery(ctx, ref, sessionID)
	a.mu.Unlock()

	a.logger.Info("sending query",
		zap.String("ref", ref),
		zap.String("session_id", sessionID))

	msg := claudecode.NewUserInputMessage(prompt, sessionID)
	if err := client.SendUserMessage(ctx, msg); err != nil {
		a.mu.Lock()
		a.activeRef = ""
		span := a.querySpan
		a.querySpan = nil
		a.mu.Unlock()
		if span != nil {
			span.End()
		}
		return fmt.Errorf("send query: %w", err)
	}
	return nil
}

// Interrupt asks the CLI to stop the current turn. Fire-and-forget: it
// returns once the request is written. If the stream then ends without a
// result record, the active query's done event reports the interrupted
// outcome.
func (a *Adapter) Interrupt(ctx context.Context) error {
	if err := a.EnsureConnected(); err != nil {
		return err
	}
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()

	a.logger.Info("interrupting current turn")
	if err := client.Interrupt(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.activeRef != "" {
		a.interruptRequested = true
	}
	a.mu.Unlock()
	return nil
}

// SendControlRequest issues one typed control request and returns the raw
// response payload.
func (a *Adapter) SendControlRequest(ctx context.Context, body claudecode.SDKControlRequestBody) (json.RawMessage, error) {
	if err := a.EnsureConnected(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	return client.SendControlRequest(ctx, body)
}

// SetModel switches the active model. A nil model clears the override.
func (a *Adapter) SetModel(ctx context.Context, model *string) error {
	_, err := a.SendControlRequest(ctx, claudecode.SDKControlRequestBody{Subtype: claudecode.SubtypeSetModel, Model: model})
	return err
}

// SetPermissionMode switches the permission mode.
func (a *Adapter) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := a.SendControlRequest(ctx, claudecode.SDKControlRequestBody{Subtype: claudecode.SubtypeSetPermissionMode, Mode: mode})
	return err
}

// RewindFiles restores the working tree to a checkpoint.
func (a *Adapter) RewindFiles(ctx context.Context, backupID string) error {
	_, err := a.SendControlRequest(ctx, claudecode.SDKControlRequestBody{Subtype: claudecode.SubtypeRewindFiles, BackupID: backupID})
	return err
}

// MCPStatus queries the CLI for MCP server health.
func (a *Adapter) MCPStatus(ctx context.Context) (json.RawMessage, error) {
	return a.SendControlRequest(ctx, claudecode.SDKControlRequestBody{Subtype: claudecode.SubtypeMCPStatus})
}

// Health reports healthy only when the handshake has completed and the
// subprocess is still alive; otherwise it names the specific reason.
func (a *Adapter) Health() Health {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.status == StatusReady {
		if a.proc != nil && !a.proc.Alive() {
			return Health{Healthy: false, Reason: "agent process exited"}
		}
		return Health{Healthy: true}
	}

	reason := a.statusReason
	if reason == "" {
		switch a.status {
		case StatusProvisioning:
			reason = "provisioning"
		case StatusDisconnected:
			reason = "disconnected"
		default:
			reason = "not_connected"
		}
	}
	return Health{Healthy: false, Reason: reason}
}

// Updates is the adapter's event stream. It is closed after the connection
// has fully torn down.
func (a *Adapter) Updates() <-chan Event {
	return a.updatesCh
}

// ServerInfo returns the cached initialize payload, or nil before ready.
func (a *Adapter) ServerInfo() *claudecode.InitializeResult {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return nil
	}
	return client.ServerInfo()
}

// SessionID returns the CLI-assigned session ID, empty until the first
// message arrives.
func (a *Adapter) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID
}

// RecentStderr returns the subprocess's newest stderr lines, or nil when
// the adapter was attached to external pipes.
func (a *Adapter) RecentStderr() []string {
	a.mu.RLock()
	proc := a.proc
	a.mu.RUnlock()
	if proc == nil {
		return nil
	}
	return proc.RecentStderr()
}

// Close shuts the connection down and waits for teardown: pending control
// requests resolve with a disconnect error, the subprocess is terminated,
// and the updates channel is closed. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	client := a.client
	watching := a.watching
	if a.status == "" || a.status == StatusProvisioning {
		a.status = StatusDisconnected
		a.statusReason = ""
	}
	a.mu.Unlock()

	a.logger.Info("closing stream-json adapter")

	if client != nil {
		client.Stop()
	}
	a.cancel()

	if watching {
		select {
		case <-a.watchDone:
		case <-time.After(10 * time.Second):
			a.logger.Warn("timed out waiting for connection teardown")
		}
	} else {
		a.closeUpdates()
	}
	return nil
}

// handleMessage receives decoded domain messages on the protocol client's
// owner goroutine. It must not block: sendUpdate drops when the host is
// not draining.
func (a *Adapter) handleMessage(msg claudecode.Message) {
	if sid := claudecode.MessageSession(msg); sid != "" {
		a.mu.Lock()
		if a.sessionID != sid {
			// The CLI can change the session ID mid-conversation, e.g. on
			// compact or resume.
			a.logger.Info("session ID updated",
				zap.String("old", a.sessionID),
				zap.String("new", sid))
			a.sessionID = sid
		}
		a.mu.Unlock()
	}

	if result, ok := msg.(*claudecode.ResultMessage); ok {
		a.mu.Lock()
		ref := a.activeRef
		a.activeRef = ""
		a.interruptRequested = false
		span := a.querySpan
		a.querySpan = nil
		a.mu.Unlock()

		if span != nil {
			span.End()
		}

		a.logger.Info("query turn completed",
			zap.String("ref", ref),
			zap.Bool("is_error", result.IsError),
			zap.Int("num_turns", result.NumTurns))
		a.sendUpdate(Event{
			Type:    EventTypeDone,
			Ref:     ref,
			Outcome: &Outcome{Kind: OutcomeResult, Result: result},
		})
		return
	}

	a.mu.RLock()
	ref := a.activeRef
	a.mu.RUnlock()
	a.sendUpdate(Event{Type: EventTypeMessage, Ref: ref, Message: msg})
}

// sendUpdate delivers an event without ever blocking the caller. A full
// channel drops the event with a warning; correctness-critical state lives
// in the adapter, not the channel.
func (a *Adapter) sendUpdate(ev Event) {
	a.evMu.Lock()
	defer a.evMu.Unlock()
	if a.evClosed {
		return
	}
	select {
	case a.updatesCh <- ev:
	default:
		a.logger.Warn("updates channel full, dropping event",
			zap.String("event_type", string(ev.Type)))
	}
}

func (a *Adapter) closeUpdates() {
	a.evMu.Lock()
	defer a.evMu.Unlock()
	if !a.evClosed {
		a.evClosed = true
		close(a.updatesCh)
	}
}
