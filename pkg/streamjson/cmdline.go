package streamjson

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// sdkVersion is advertised to the CLI through the environment so server-side
// diagnostics can tell SDK connections apart from interactive ones.
const sdkVersion = "0.4.0"

const (
	entrypointEnvKey = "CLAUDE_CODE_ENTRYPOINT"
	entrypointValue  = "sdk-go"
	sdkVersionEnvKey = "CLAUDE_AGENT_SDK_VERSION"
	apiKeyEnvKey     = "ANTHROPIC_API_KEY"
)

// shellQuote single-quotes s for POSIX sh. Inside single quotes every
// character is literal, including $, backticks, backslashes and newlines; a
// single quote itself cannot appear, so embedded quotes close the string,
// emit an escaped quote and reopen: it's $100 → 'it'\''s $100'.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildArgs assembles the CLI flag list from the options. The fixed prefix
// pins the bidirectional stream-json framing; everything after it is
// option-driven. Map-driven flags are emitted in sorted order so the same
// options always produce the same command line.
func buildArgs(o *Options) ([]string, error) {
	args := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--verbose",
		"--replay-user-messages",
	}

	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if len(o.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(o.DisallowedTools, ","))
	}
	if o.SystemPrompt != "" {
		args = append(args, "--system-prompt", o.SystemPrompt)
	}
	if o.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.AppendSystemPrompt)
	}
	if o.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(o.MaxTurns))
	}
	if o.Settings != "" {
		args = append(args, "--settings", o.Settings)
	}
	if o.Resume != "" {
		args = append(args, "--resume", o.Resume)
		if o.ForkSession {
			args = append(args, "--fork-session")
		}
	} else if o.Continue {
		args = append(args, "--continue")
	}
	if o.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}

	if len(o.MCPServers) > 0 {
		cfg, err := mcpServersConfig(o)
		if err != nil {
			return nil, fmt.Errorf("build mcp config: %w", err)
		}
		args = append(args, "--mcp-config", cfg)
	}

	if len(o.ExtraArgs) > 0 {
		keys := make([]string, 0, len(o.ExtraArgs))
		for k := range o.ExtraArgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := o.ExtraArgs[k]; v != nil {
				args = append(args, "--"+k, *v)
			} else {
				args = append(args, "--"+k)
			}
		}
	}

	return args, nil
}

// mcpServersConfig renders the --mcp-config JSON for in-process servers.
// The CLI only needs to know each server exists and is SDK-hosted; requests
// for it come back over the control channel as mcp_message asks.
// Format: {"mcpServers": {"<name>": {"type": "sdk", "name": "<name>"}}}.
func mcpServersConfig(o *Options) (string, error) {
	servers := make(map[string]map[string]string, len(o.MCPServers))
	for name := range o.MCPServers {
		servers[name] = map[string]string{"type": "sdk", "name": name}
	}
	data, err := json.Marshal(map[string]any{"mcpServers": servers})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// buildCommandLine renders the full shell command for sh -lc. The launch
// snippet is taken verbatim (it may itself be a multi-word command like
// "npx -y @anthropic-ai/claude-code"); every flag is individually quoted.
func buildCommandLine(o *Options) (string, error) {
	args, err := buildArgs(o)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(o.cliCommand())
	for _, arg := range args {
		sb.WriteByte(' ')
		sb.WriteString(shellQuote(arg))
	}
	return sb.String(), nil
}

// mergeEnv layers the subprocess environment, later layers winning:
// base (the parent process environment) < user overrides < the SDK
// identification variables < the explicit APIKey credential. npm lifecycle
// variables are filtered from the base so npx-launched CLIs do not inherit a
// foreign package context.
func mergeEnv(base []string, o *Options) []string {
	merged := make(map[string]string, len(base)+len(o.Env)+3)

	for _, entry := range base {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			key := entry[:eq]
			if isNpmEnvVar(key) {
				continue
			}
			merged[key] = entry[eq+1:]
		}
	}

	for k, v := range o.Env {
		merged[k] = v
	}

	merged[entrypointEnvKey] = entrypointValue
	merged[sdkVersionEnvKey] = sdkVersion

	if o.APIKey != "" {
		merged[apiKeyEnvKey] = o.APIKey
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return out
}

// isNpmEnvVar reports whether the key is an npm lifecycle variable that
// causes warnings when inherited by npx commands.
func isNpmEnvVar(key string) bool {
	npmPrefixes := []string{
		"npm_config_",
		"npm_package_",
		"npm_lifecycle_",
		"npm_execpath",
		"npm_node_execpath",
	}
	for _, prefix := range npmPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
