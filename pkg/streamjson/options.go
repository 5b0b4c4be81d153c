package streamjson

import (
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kandev/agentwire/pkg/claudecode"
)

// defaultCLICommand launches the CLI from PATH. Callers that install the
// agent differently (npx, absolute path, wrapper script) override it via
// Options.CLICommand; the value is used verbatim as a shell snippet.
const defaultCLICommand = "claude"

// Options configures one adapter connection. The zero value is usable: it
// launches the default CLI in the current directory with no overrides.
//
// Anything that shapes the subprocess command line or environment is read
// once at Connect; changing fields afterwards has no effect on a live
// connection.
type Options struct {
	// CLICommand is the shell snippet that launches the agent binary,
	// defaulting to "claude". Flags are appended to it, each one
	// shell-quoted, and the whole line runs under sh -lc.
	CLICommand string

	// WorkDir is the subprocess working directory.
	WorkDir string

	// Model selects the model for the session.
	Model string

	// PermissionMode is one of the claudecode.PermissionMode* values.
	PermissionMode string

	// AllowedTools and DisallowedTools gate tool availability.
	AllowedTools    []string
	DisallowedTools []string

	// SystemPrompt replaces the CLI's system prompt; AppendSystemPrompt
	// extends it instead.
	SystemPrompt       string
	AppendSystemPrompt string

	// MaxTurns bounds agentic turns per query; zero means no limit.
	MaxTurns int

	// Resume continues the named session. ForkSession branches it into a
	// new session instead of appending.
	Resume      string
	ForkSession bool

	// Continue resumes the most recent session in WorkDir. Mutually
	// exclusive with Resume.
	Continue bool

	// IncludePartialMessages turns on stream_event records so text and
	// tool input arrive as deltas while the model is still producing them.
	IncludePartialMessages bool

	// Settings is a settings file path or inline JSON passed to the CLI.
	Settings string

	// ExtraArgs appends arbitrary flags: key → value, or key → nil for a
	// bare boolean flag. Keys are flag names without the leading dashes.
	ExtraArgs map[string]*string

	// Env adds or overrides environment variables for the subprocess.
	// The SDK identification variables and APIKey win over these.
	Env map[string]string

	// APIKey, when set, overrides ANTHROPIC_API_KEY over every other
	// environment layer.
	APIKey string

	// Hooks is the declarative hook map advertised at initialize.
	Hooks map[claudecode.HookEvent][]claudecode.HookMatcher

	// MCPServers holds in-process tool servers, routed by name.
	MCPServers map[string]*server.MCPServer

	// Agents declares subagents advertised at initialize.
	Agents map[string]claudecode.AgentDefinition

	// Permission answers can_use_tool asks. Without one, every ask is
	// denied with an error response.
	Permission claudecode.PermissionHandler

	// InitializeTimeout and ControlTimeout override the claudecode client
	// defaults when positive.
	InitializeTimeout time.Duration
	ControlTimeout    time.Duration

	// MaxLineSize bounds one stdout line; zero uses the client default.
	MaxLineSize int
}

// validate rejects option combinations the CLI would refuse anyway, so the
// failure surfaces before a subprocess is spawned.
func (o *Options) validate() error {
	if o.Resume != "" && o.Continue {
		return fmt.Errorf("resume and continue are mutually exclusive")
	}
	if o.ForkSession && o.Resume == "" {
		return fmt.Errorf("fork_session requires resume")
	}
	if o.MaxTurns < 0 {
		return fmt.Errorf("max_turns must not be negative")
	}
	switch o.PermissionMode {
	case "", claudecode.PermissionModeDefault, claudecode.PermissionModeAcceptEdits,
		claudecode.PermissionModeBypassPermissions, claudecode.PermissionModePlan:
	default:
		return fmt.Errorf("unknown permission mode %q", o.PermissionMode)
	}
	return nil
}

// cliCommand returns the launch snippet with the default applied.
func (o *Options) cliCommand() string {
	if o.CLICommand != "" {
		return o.CLICommand
	}
	return defaultCLICommand
}
