// Package main is the host-side demo binary for the agentwire adapter.
// It launches a stream-json agent CLI (the real one, or cmd/mock-agent),
// feeds it prompts from argv or stdin, and renders the decoded event
// stream on stdout. Ctrl-C interrupts the running turn; a second Ctrl-C
// ends the session.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentwire/internal/common/config"
	"github.com/kandev/agentwire/internal/common/logger"
	"github.com/kandev/agentwire/internal/tracing"
	"github.com/kandev/agentwire/pkg/streamjson"
)

// Command-line flags. Each one overrides the matching config key when set.
var (
	configFlag         = flag.String("config", "", "Directory containing config.yaml")
	cliFlag            = flag.String("cli", "", "Agent launch command (overrides adapter.cliPath)")
	workdirFlag        = flag.String("workdir", "", "Agent working directory")
	modelFlag          = flag.String("model", "", "Model override")
	permissionModeFlag = flag.String("permission-mode", "", "Permission mode (default, acceptEdits, bypassPermissions, plan)")
	partialFlag        = flag.Bool("partial", false, "Stream partial message deltas")
	agentsFileFlag     = flag.String("agents-file", "", "YAML file of subagent definitions")
	resumeFlag         = flag.String("resume", "", "Resume the named session")
	forkFlag           = flag.Bool("fork-session", false, "Fork when resuming instead of appending")
	continueFlag       = flag.Bool("continue", false, "Continue the most recent session in the working directory")
	noToolsFlag        = flag.Bool("no-host-tools", false, "Skip registering the built-in host MCP tools")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWithPath(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	// stdout carries the conversation; logs go to stderr unless a path was
	// configured explicitly.
	logOut := cfg.Logging.OutputPath
	if logOut == "" || logOut == "stdout" {
		logOut = "stderr"
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: logOut,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	if cfg.Tracing.Enabled {
		tracing.SetServiceName(cfg.Tracing.ServiceName)
		if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
			log.Warn("tracing enabled but OTEL_EXPORTER_OTLP_ENDPOINT is not set; spans will not be exported")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(ctx)
		}()
	}

	opts, err := buildOptions(cfg, log)
	if err != nil {
		log.Error("invalid options", zap.Error(err))
		os.Exit(1)
	}

	log.Info("starting agentwire host",
		zap.String("cli", cfg.Adapter.CLIPath),
		zap.String("model", cfg.Adapter.Model),
		zap.Bool("partial_messages", cfg.Adapter.PartialMessages))

	if err := run(context.Background(), opts, flag.Args(), log); err != nil {
		log.Error("session ended with error", zap.Error(err))
		os.Exit(1)
	}
}

// applyFlags overlays explicit command-line flags onto the loaded config.
func applyFlags(cfg *config.Config) {
	if *cliFlag != "" {
		cfg.Adapter.CLIPath = *cliFlag
	}
	if *workdirFlag != "" {
		cfg.Adapter.WorkDir = *workdirFlag
	}
	if *modelFlag != "" {
		cfg.Adapter.Model = *modelFlag
	}
	if *permissionModeFlag != "" {
		cfg.Adapter.PermissionMode = *permissionModeFlag
	}
	if *partialFlag {
		cfg.Adapter.PartialMessages = true
	}
	if *agentsFileFlag != "" {
		cfg.Adapter.AgentsFile = *agentsFileFlag
	}
}

// buildOptions turns the merged configuration into adapter options, wiring
// in the demo tool server, hooks, permission handler and any subagent file.
func buildOptions(cfg *config.Config, log *logger.Logger) (*streamjson.Options, error) {
	opts := &streamjson.Options{
		CLICommand:             cfg.Adapter.CLIPath,
		WorkDir:                cfg.Adapter.WorkDir,
		Model:                  cfg.Adapter.Model,
		PermissionMode:         cfg.Adapter.PermissionMode,
		IncludePartialMessages: cfg.Adapter.PartialMessages,
		InitializeTimeout:      cfg.Adapter.InitializeTimeoutDuration(),
		ControlTimeout:         cfg.Adapter.ControlTimeoutDuration(),
		Resume:                 *resumeFlag,
		ForkSession:            *forkFlag,
		Continue:               *continueFlag,
		Hooks:                  demoHooks(log),
		Permission:             allowPermissions(log),
	}
	if !*noToolsFlag {
		opts.MCPServers = hostToolServers()
	}
	if cfg.Adapter.AgentsFile != "" {
		agents, err := loadAgentsFile(cfg.Adapter.AgentsFile)
		if err != nil {
			return nil, err
		}
		opts.Agents = agents
		log.Info("loaded subagent definitions", zap.Int("count", len(agents)))
	}
	return opts, nil
}

// run connects the adapter and drives the session until the prompts run out,
// the connection dies, or the user quits.
func run(ctx context.Context, opts *streamjson.Options, argv []string, log *logger.Logger) error {
	ad, err := streamjson.NewAdapter(opts, log)
	if err != nil {
		return err
	}
	if err := ad.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = ad.Close() }()

	if info := ad.ServerInfo(); info != nil {
		log.Info("agent ready",
			zap.Int("commands", len(info.Commands)),
			zap.String("output_style", info.OutputStyle))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interactive := len(argv) == 0
	prompts := promptSource(argv)
	out := newPrinter(os.Stdout)
	dones := make(chan doneEvent, 4)

	g, ctx := errgroup.WithContext(ctx)

	// Event pump: render everything, forward turn completions.
	g.Go(func() error {
		for {
			select {
			case ev, ok := <-ad.Updates():
				if !ok {
					return nil
				}
				out.render(ev)
				if ev.Type == streamjson.EventTypeDone && ev.Outcome != nil {
					select {
					case dones <- doneEvent{ref: ev.Ref, outcome: ev.Outcome}:
					case <-ctx.Done():
						return nil
					}
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Signal watcher: first Ctrl-C interrupts the turn, the second (or a
	// SIGTERM) ends the session.
	g.Go(func() error {
		interruptSent := false
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGTERM || interruptSent {
					cancel()
					return nil
				}
				interruptSent = true
				log.Info("interrupting turn, press Ctrl-C again to quit")
				ictx, icancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := ad.Interrupt(ictx); err != nil {
					log.Warn("interrupt failed", zap.Error(err))
				}
				icancel()
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Query loop: one turn at a time, in prompt order.
	g.Go(func() error {
		defer cancel()
		turn := 0
		for {
			if interactive {
				fmt.Fprint(os.Stderr, "> ")
			}
			var prompt string
			select {
			case p, ok := <-prompts:
				if !ok {
					return nil
				}
				prompt = p
			case <-ctx.Done():
				return nil
			}

			turn++
			ref := fmt.Sprintf("turn-%d", turn)
			if err := ad.Query(ctx, ref, prompt); err != nil {
				return fmt.Errorf("query: %w", err)
			}

			outcome := awaitDone(ctx, dones, ref)
			if outcome == nil {
				return nil
			}
			if outcome.Kind == streamjson.OutcomeDisconnect {
				return outcome.Err
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		for _, line := range ad.RecentStderr() {
			log.Warn("agent stderr", zap.String("line", line))
		}
	}
	return err
}

type doneEvent struct {
	ref     string
	outcome *streamjson.Outcome
}

// awaitDone blocks until the named turn completes. Completions for other
// refs (a turn the interrupt cut off late, for one) are dropped. Returns nil
// when the context ends first.
func awaitDone(ctx context.Context, dones <-chan doneEvent, ref string) *streamjson.Outcome {
	for {
		select {
		case d := <-dones:
			if d.ref == ref {
				return d.outcome
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// promptSource feeds the query loop: the argv prompt as a single turn, or
// stdin lines until EOF. The reader goroutine is abandoned at exit; stdin
// has no portable cancellable read.
func promptSource(argv []string) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		if len(argv) > 0 {
			ch <- strings.Join(argv, " ")
			return
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			ch <- line
		}
	}()
	return ch
}
