package streamjson

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentwire/internal/common/logger"
)

const (
	// stderrBufferMaxBytes bounds retained stderr so a chatty CLI cannot
	// grow memory without limit. Only the newest output is kept.
	stderrBufferMaxBytes = 2 * 1024 * 1024

	// stopGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	stopGracePeriod = 2 * time.Second

	// recentStderrLines is how many trailing lines RecentStderr returns.
	recentStderrLines = 20
)

// ringBuffer provides memory-bounded FIFO storage for stderr chunks. When
// the buffer exceeds maxBytes the oldest chunks are evicted, so a process
// that writes far more than the budget only keeps its most recent output.
type ringBuffer struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	chunks   []string
}

func newRingBuffer(maxBytes int64) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = stderrBufferMaxBytes
	}
	return &ringBuffer{maxBytes: maxBytes}
}

// append adds a chunk, evicting oldest chunks if over the size limit.
func (b *ringBuffer) append(chunk string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, chunk)
	b.size += int64(len(chunk))

	for b.size > b.maxBytes && len(b.chunks) > 0 {
		b.size -= int64(len(b.chunks[0]))
		b.chunks = b.chunks[1:]
	}
}

// snapshot returns the buffered content joined into one string.
func (b *ringBuffer) snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.chunks, "")
}

// tailLines returns the last n non-empty lines of the buffered content.
func (b *ringBuffer) tailLines(n int) []string {
	lines := strings.Split(b.snapshot(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	if len(kept) == 0 {
		return nil
	}
	out := make([]string, len(kept))
	copy(out, kept)
	return out
}

// Process is one running CLI subprocess with its pipes and stderr capture.
// The command runs under "sh -lc" in its own process group, so Stop can
// terminate the whole subprocess tree, and a login shell resolves the same
// PATH a user's terminal would.
type Process struct {
	logger *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *ringBuffer

	stopOnce   sync.Once
	stopSignal chan struct{}

	// exitCode and exitErr are written by wait before done closes; readers
	// must observe <-Done() first.
	done     chan struct{}
	exitCode int
	exitErr  error
}

// StartProcess spawns the command and returns once it is running. The
// context bounds the subprocess lifetime: cancelling it kills the process.
func StartProcess(ctx context.Context, command, workDir string, env []string, log *logger.Logger) (*Process, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if log == nil {
		log = logger.Default()
	}

	cmd := exec.CommandContext(ctx, "sh", "-lc", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = env
	// New process group so Stop can signal the entire subprocess tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	p := &Process{
		logger:     log.WithFields(zap.String("component", "agent-process")),
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     newRingBuffer(stderrBufferMaxBytes),
		stopSignal: make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	p.logger.Info("agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("workdir", workDir))

	go p.readStderr(stderr)
	go p.wait()

	return p, nil
}

// Stdin is the pipe the protocol client writes records to.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout is the pipe the protocol client reads records from.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode is valid after Done is closed.
func (p *Process) ExitCode() int { return p.exitCode }

// ExitErr is the error cmd.Wait returned, valid after Done is closed.
func (p *Process) ExitErr() error { return p.exitErr }

// RecentStderr returns the newest captured stderr lines for error context.
func (p *Process) RecentStderr() []string {
	return p.stderr.tailLines(recentStderrLines)
}

// Stop terminates the process: close stdin (the CLI exits on EOF), send
// SIGTERM to the process group, and escalate to SIGKILL after the grace
// period or when ctx expires. Returns once the process has exited or the
// kill has been issued. Safe to call multiple times.
func (p *Process) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { p.stop(ctx) })
	<-p.done
}

func (p *Process) stop(ctx context.Context) {
	// Signal the stderr reader to exit before terminating the process.
	close(p.stopSignal)

	// The CLI treats stdin EOF as a shutdown request, so this alone ends a
	// healthy process.
	_ = p.stdin.Close()

	if p.cmd == nil || p.cmd.Process == nil {
		return
	}

	pgid, pgidErr := syscall.Getpgid(p.cmd.Process.Pid)
	if pgidErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		// Process group lookup failed; signal only the main process.
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
		return
	case <-ctx.Done():
	case <-time.After(stopGracePeriod):
	}

	p.logger.Warn("agent process did not exit after SIGTERM, sending SIGKILL")
	if pgidErr == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = p.cmd.Process.Kill()
	}
}

// readStderr captures stderr into the ring buffer until EOF or stop.
func (p *Process) readStderr(r io.ReadCloser) {
	defer func() { _ = r.Close() }()
	buf := bufio.NewReader(r)
	for {
		select {
		case <-p.stopSignal:
			return
		default:
		}

		data := make([]byte, 4096)
		n, err := buf.Read(data)
		if n > 0 {
			p.stderr.append(string(data[:n]))
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Debug("stderr read error", zap.Error(err))
			}
			return
		}
	}
}

// wait blocks until the process exits, extracts the exit code and closes
// done. Each process has exactly one wait goroutine.
func (p *Process) wait() {
	err := p.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if waitStatus, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exitCode = waitStatus.ExitStatus()
			} else {
				exitCode = 1
			}
		} else {
			exitCode = 1
		}
	}

	p.exitCode = exitCode
	p.exitErr = err
	p.logger.Info("agent process exited",
		zap.Int("exit_code", exitCode),
		zap.Error(err))
	close(p.done)
}
