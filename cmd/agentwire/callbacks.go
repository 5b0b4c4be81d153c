package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/agentwire/internal/common/logger"
	"github.com/kandev/agentwire/pkg/claudecode"
)

// demoHooks audits tool activity: every PreToolUse and PostToolUse
// invocation is logged, none is blocked.
func demoHooks(log *logger.Logger) map[claudecode.HookEvent][]claudecode.HookMatcher {
	audit := func(stage string) claudecode.HookHandler {
		return claudecode.HookFunc(func(ctx context.Context, inv *claudecode.HookInvocation) (*claudecode.HookOutput, error) {
			toolName, _ := inv.Input["tool_name"].(string)
			log.Debug("hook fired",
				zap.String("stage", stage),
				zap.String("tool", toolName),
				zap.String("tool_use_id", inv.ToolUseID))
			return nil, nil
		})
	}
	return map[claudecode.HookEvent][]claudecode.HookMatcher{
		claudecode.HookEventPreToolUse:  {{Hooks: []claudecode.HookHandler{audit("pre")}}},
		claudecode.HookEventPostToolUse: {{Hooks: []claudecode.HookHandler{audit("post")}}},
	}
}

// allowPermissions approves every can_use_tool ask and logs it. Restriction
// belongs to the CLI's own permission mode; this host exists to exercise the
// wire, not to gate it.
func allowPermissions(log *logger.Logger) claudecode.PermissionHandler {
	return func(ctx context.Context, req *claudecode.PermissionRequest) (*claudecode.PermissionResult, error) {
		log.Info("tool permission granted",
			zap.String("tool", req.ToolName),
			zap.String("tool_use_id", req.ToolUseID))
		return &claudecode.PermissionResult{Behavior: "allow"}, nil
	}
}
