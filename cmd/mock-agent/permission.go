package main

import (
	"encoding/json"
	"fmt"
)

// awaitPermission sends a can_use_tool ask and blocks until the host decides.
// Interrupt requests arriving while waiting are honored and read as a denial;
// EOF on stdin also denies. User turns that land mid-wait are dropped, since
// the host cannot start a turn while one is active anyway.
func (a *agent) awaitPermission(toolName, toolUseID string, input map[string]any) bool {
	requestID := fmt.Sprintf("perm_%s", toolUseID)

	a.emit(controlRequestMsg{
		Type:      "control_request",
		RequestID: requestID,
		Request: controlRequestBody{
			Subtype:   "can_use_tool",
			ToolName:  toolName,
			Input:     input,
			ToolUseID: toolUseID,
		},
	})

	for rec := range a.inbound {
		switch rec.Type {
		case "control_response":
			if rec.Response == nil || rec.Response.RequestID != requestID {
				continue
			}
			if rec.Response.Subtype != "success" {
				return false
			}
			var decision permissionDecision
			if err := json.Unmarshal(rec.Response.Response, &decision); err != nil {
				return false
			}
			return decision.Behavior == "allow"
		case "control_request":
			a.handleControlRequest(rec)
			if a.interrupted.Load() {
				return false
			}
		}
	}
	return false
}
