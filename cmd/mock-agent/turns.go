package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// delayRange returns the min/max step delay in milliseconds for a model name.
// The mock-fast and mock-slow pseudo-models give tests and demos a timing knob.
func delayRange(model string) (int, int) {
	switch model {
	case "mock-fast":
		return 5, 20
	case "mock-slow":
		return 500, 3000
	default:
		return 50, 250
	}
}

func (a *agent) randomDelay() {
	lo, hi := delayRange(a.cfg.model)
	time.Sleep(time.Duration(lo+rand.Intn(hi-lo+1)) * time.Millisecond)
}

func fixedDelay(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// step sleeps one step delay and reports whether the turn should continue.
// Interrupts land between steps, never mid-record.
func (a *agent) step() bool {
	a.randomDelay()
	a.drainControl()
	return !a.interrupted.Load()
}

// drainControl services control requests that arrived while a turn is
// emitting, so an interrupt takes effect at the next step. User records that
// land mid-turn are dropped. A closed channel means stdin is gone, which
// reads as an interrupt.
func (a *agent) drainControl() {
	for {
		select {
		case rec, ok := <-a.inbound:
			if !ok {
				a.interrupted.Store(true)
				return
			}
			if rec.Type == "control_request" {
				a.handleControlRequest(rec)
			}
		default:
			return
		}
	}
}

// runTurn generates the scripted sequence for one user prompt and closes it
// with a result record. Interrupted turns still end in a result, the way the
// real CLI acknowledges an interrupt.
func (a *agent) runTurn(prompt string) {
	a.interrupted.Store(false)
	prompt = strings.TrimSpace(prompt)

	a.initOnce.Do(a.emitSystemInit)

	customResult := false
	switch {
	case strings.EqualFold(prompt, "/all") || strings.EqualFold(prompt, "all"):
		a.emitAllTypes()
	case strings.EqualFold(prompt, "/error"):
		a.emitErrorTurn()
		customResult = true
	case strings.EqualFold(prompt, "/slow") || strings.HasPrefix(strings.ToLower(prompt), "/slow "):
		a.emitSlowTurn(prompt)
	case strings.EqualFold(prompt, "/thinking"):
		a.emitThinkingTurn()
	case strings.HasPrefix(prompt, "/tool:"):
		a.emitSpecificTool(strings.TrimSpace(strings.TrimPrefix(prompt, "/tool:")))
	case strings.HasPrefix(prompt, "/subagent"):
		a.emitSubagentTurn()
	case strings.HasPrefix(prompt, "/todo"):
		a.emitTodoTurn()
	case strings.EqualFold(prompt, "/progress"):
		a.emitProgressTurn()
	case strings.EqualFold(prompt, "/compact"):
		a.emitCompactBoundary()
	case strings.HasPrefix(prompt, "/e2e:"):
		customResult = a.runScenario(strings.TrimSpace(strings.TrimPrefix(prompt, "/e2e:")))
	default:
		a.emitRandomTurn(prompt)
	}

	if customResult {
		return
	}
	if a.interrupted.Load() {
		a.emitResult(false, "Interrupted.")
		return
	}
	a.emitResult(false, "Mock agent completed successfully.")
}

// --- Atomic emitters ---

func (a *agent) emitSystemInit() {
	cwd, _ := os.Getwd()
	a.emit(systemInitMsg{
		Type:           "system",
		Subtype:        "init",
		SessionID:      a.sessionID,
		CWD:            cwd,
		Model:          a.cfg.model,
		PermissionMode: a.cfg.permissionMode,
		Tools:          []string{"Bash", "Read", "Edit", "Glob", "Grep", "Task", "TodoWrite", "WebFetch"},
		SlashCommands:  []string{"all", "error", "slow", "thinking", "subagent", "todo"},
		UUID:           uuid.NewString(),
	})
}

func (a *agent) emitCompactBoundary() {
	a.emit(compactBoundaryMsg{
		Type:      "system",
		Subtype:   "compact_boundary",
		SessionID: a.sessionID,
		CompactMetadata: compactMetadata{
			Trigger:   "manual",
			PreTokens: 85000,
		},
	})
}

func (a *agent) emitResult(isError bool, text string) {
	subtype := "success"
	if isError {
		subtype = "error_during_execution"
	}
	a.emit(resultMsg{
		Type:          "result",
		Subtype:       subtype,
		SessionID:     a.sessionID,
		IsError:       isError,
		NumTurns:      1,
		DurationMS:    1500,
		DurationAPIMS: 1200,
		TotalCostUSD:  0.0042,
		Usage:         &usage{InputTokens: 1500, OutputTokens: 500},
		ModelUsage:    map[string]modelUsage{a.cfg.model: {ContextWindow: 200000}},
		Result:        text,
		UUID:          uuid.NewString(),
	})
}

func (a *agent) emitAssistant(blocks []contentBlock, stopReason, parentToolUseID string) {
	a.emit(assistantMsg{
		Type: "assistant",
		Message: assistantBody{
			Role:       "assistant",
			Content:    blocks,
			Model:      a.cfg.model,
			StopReason: stopReason,
			Usage:      &usage{InputTokens: 1200, OutputTokens: 350},
		},
		ParentToolUseID: parentToolUseID,
		SessionID:       a.sessionID,
		UUID:            uuid.NewString(),
	})
}

// emitText emits one text block. With partial messages enabled the text is
// first streamed as deltas, then repeated as the complete assistant record,
// matching the real CLI's double emission.
func (a *agent) emitText(text, parentToolUseID string) {
	if a.cfg.includePartials {
		a.streamTextDeltas(text, parentToolUseID)
	}
	a.emitAssistant([]contentBlock{{Type: "text", Text: text}}, "end_turn", parentToolUseID)
}

func (a *agent) emitThinking(thought, parentToolUseID string) {
	a.emitAssistant([]contentBlock{{Type: "thinking", Thinking: thought}}, "", parentToolUseID)
}

func (a *agent) emitToolUse(toolID, name string, input map[string]any) {
	a.emitAssistant([]contentBlock{{Type: "tool_use", ID: toolID, Name: name, Input: input}}, "tool_use", "")
}

func (a *agent) emitToolResult(toolID, output, parentToolUseID string) {
	a.emit(userMsg{
		Type: "user",
		Message: userBody{
			Role:    "user",
			Content: []contentBlock{{Type: "tool_result", ToolUseID: toolID, Content: output}},
		},
		ParentToolUseID: parentToolUseID,
		SessionID:       a.sessionID,
	})
}

// streamTextDeltas emits the stream_event sequence for one text block: start,
// a handful of text deltas, stop, then the message close pair.
func (a *agent) streamTextDeltas(text, parentToolUseID string) {
	send := func(event map[string]any) {
		raw, err := json.Marshal(event)
		if err != nil {
			return
		}
		a.emit(streamEventMsg{
			Type:            "stream_event",
			Event:           raw,
			SessionID:       a.sessionID,
			ParentToolUseID: parentToolUseID,
			UUID:            uuid.NewString(),
		})
	}

	send(map[string]any{
		"type":    "message_start",
		"message": map[string]any{"id": "msg_" + uuid.NewString()[:8], "role": "assistant", "model": a.cfg.model},
	})
	send(map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
	for _, chunk := range splitChunks(text, 3) {
		send(map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": chunk},
		})
	}
	send(map[string]any{"type": "content_block_stop", "index": 0})
	send(map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"type": "message_delta", "stop_reason": "end_turn"},
		"usage": map[string]any{"input_tokens": 1200, "output_tokens": 350},
	})
	send(map[string]any{"type": "message_stop"})
}

// splitChunks cuts s into n roughly equal pieces, fewer when s is short.
func splitChunks(s string, n int) []string {
	if n < 1 || len(s) <= n {
		return []string{s}
	}
	size := (len(s) + n - 1) / n
	chunks := make([]string, 0, n)
	for len(s) > 0 {
		if len(s) <= size {
			chunks = append(chunks, s)
			break
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}

// --- Tool sequences ---

func (a *agent) emitReadFile() {
	toolID := a.nextToolID()
	f := randomFile()
	a.emitToolUse(toolID, "Read", map[string]any{"file_path": f.absPath})
	if !a.step() {
		return
	}
	a.emitToolResult(toolID, readFileSnippet(f.absPath, 30), "")
}

func (a *agent) emitEditFile() {
	toolID := a.nextToolID()
	f := randomFile()
	oldStr, newStr := pickEditableFragment(f.absPath)
	input := map[string]any{"file_path": f.absPath, "old_string": oldStr, "new_string": newStr}

	a.emitToolUse(toolID, "Edit", input)
	if a.awaitPermission("Edit", toolID, input) {
		a.emitToolResult(toolID, "File edited successfully: "+f.absPath, "")
	} else {
		a.emitText("Permission denied for Edit, skipping.", "")
	}
}

func (a *agent) emitShellExec() {
	toolID := a.nextToolID()
	input := map[string]any{"command": "go test ./...", "description": "Run all tests"}

	a.emitToolUse(toolID, "Bash", input)
	if a.awaitPermission("Bash", toolID, input) {
		a.emitToolResult(toolID, "ok  \tgithub.com/kandev/agentwire\t0.042s\nPASS", "")
	} else {
		a.emitText("Permission denied for Bash, skipping.", "")
	}
}

func (a *agent) emitCodeSearch() {
	toolID := a.nextToolID()
	patterns := []string{"func ", "import ", "return ", "error", "type "}
	pattern := patterns[int(a.toolCounter.Load())%len(patterns)]

	a.emitToolUse(toolID, "Grep", map[string]any{"pattern": pattern, "path": randomFile().absPath})
	if !a.step() {
		return
	}

	var results []string
	for i, p := range randomFilePaths(3) {
		results = append(results, fmt.Sprintf("%s:%d:%s found here", p, (i+1)*10, strings.TrimSpace(pattern)))
	}
	a.emitToolResult(toolID, strings.Join(results, "\n"), "")
}

func (a *agent) emitWebFetch() {
	toolID := a.nextToolID()
	a.emitToolUse(toolID, "WebFetch", map[string]any{
		"url":    "https://example.com/api/docs",
		"prompt": "Extract the API endpoints",
	})
	if !a.step() {
		return
	}
	a.emitToolResult(toolID, "API Documentation:\n- GET /api/v1/sessions - List sessions\n- POST /api/v1/sessions - Create a session", "")
}

func (a *agent) emitTodo() {
	toolID := a.nextToolID()
	a.emitToolUse(toolID, "TodoWrite", map[string]any{
		"todos": []map[string]any{
			{"id": "1", "content": "Review code changes", "status": "in_progress"},
			{"id": "2", "content": "Run tests", "status": "pending"},
			{"id": "3", "content": "Update documentation", "status": "pending"},
		},
	})
	if !a.step() {
		return
	}
	a.emitToolResult(toolID, "Todo list updated: 3 items (1 in progress, 2 pending)", "")
}

// emitSubagent runs a Task tool with nested child messages, all tagged with
// the parent tool use ID the way the real CLI nests subagent output.
func (a *agent) emitSubagent() {
	taskID := a.nextToolID()
	a.emitToolUse(taskID, "Task", map[string]any{
		"description": "Explore codebase",
		"prompt":      "Find all files and summarize the project structure",
	})
	if !a.step() {
		return
	}

	a.emitThinking("Exploring the project structure...", taskID)
	if !a.step() {
		return
	}

	childID := a.nextToolID()
	a.emitAssistant([]contentBlock{{Type: "tool_use", ID: childID, Name: "Glob", Input: map[string]any{"pattern": "**/*"}}}, "tool_use", taskID)
	if !a.step() {
		return
	}

	paths := randomFilePaths(5)
	a.emitToolResult(childID, strings.Join(paths, "\n"), taskID)
	if !a.step() {
		return
	}

	a.emitText(fmt.Sprintf("Found %d files. The project structure looks well-organized.", len(paths)), taskID)
	if !a.step() {
		return
	}
	a.emitToolResult(taskID, fmt.Sprintf("Subagent completed: found %d files across the project.", len(paths)), "")
}

// --- Turn scripts ---

func (a *agent) emitRandomTurn(prompt string) {
	a.emitThinking("Analyzing the request and considering the best approach...", "")
	if !a.step() {
		return
	}

	generators := []func(){
		a.emitReadFile,
		a.emitCodeSearch,
		a.emitWebFetch,
		func() { a.emitText("I'll help you with that. Let me look into it.", "") },
	}
	for i, count := 0, 1+rand.Intn(3); i < count; i++ {
		generators[rand.Intn(len(generators))]()
		if !a.step() {
			return
		}
	}

	a.emitText("I've completed the analysis of your request: \""+prompt+"\". Everything looks good!", "")
}

func (a *agent) emitAllTypes() {
	steps := []func(){
		func() { a.emitThinking("Demonstrating every record type in sequence...", "") },
		func() { a.emitText("Starting comprehensive demonstration of all message types...", "") },
		a.emitReadFile,
		a.emitEditFile,
		a.emitShellExec,
		a.emitCodeSearch,
		a.emitSubagent,
		a.emitTodo,
		a.emitWebFetch,
		a.emitProgressRecords,
		a.emitRateLimit,
		func() { a.emitText("All message types demonstrated successfully!", "") },
	}
	for _, fn := range steps {
		fn()
		if !a.step() {
			return
		}
	}
}

func (a *agent) emitErrorTurn() {
	a.emitText("Simulating an error condition...", "")
	a.randomDelay()
	a.emitResult(true, "Mock error: something went wrong during processing")
}

func (a *agent) emitSlowTurn(prompt string) {
	total := 5 * time.Second
	if parts := strings.Fields(prompt); len(parts) >= 2 {
		if d, err := time.ParseDuration(parts[1]); err == nil && d > 0 {
			total = d
		}
	}
	stepDelay := total / 5

	pause := func() bool {
		time.Sleep(stepDelay)
		a.drainControl()
		return !a.interrupted.Load()
	}

	a.emitThinking("Working through a long-running request...", "")
	if !pause() {
		return
	}
	a.emitText(fmt.Sprintf("Running slow response (%s total)...", total), "")
	if !pause() {
		return
	}
	a.emitReadFile()
	if !pause() {
		return
	}
	a.emitCodeSearch()
	if !pause() {
		return
	}
	a.emitText(fmt.Sprintf("Slow response complete after %s.", total), "")
}

func (a *agent) emitThinkingTurn() {
	thoughts := []string{
		"Let me analyze this problem step by step...",
		"First, I need to consider the architecture and how the components interact.",
		"The key insight is that we need to handle both synchronous and asynchronous flows.",
		"After careful analysis, I believe a channel-based pattern with proper synchronization fits best.",
	}
	for _, thought := range thoughts {
		a.emitThinking(thought, "")
		if !a.step() {
			return
		}
	}
	a.emitText("After careful reasoning, here is my analysis:\n\n1. The architecture is sound\n2. Error handling covers the edge cases\n3. The implementation follows Go conventions", "")
}

func (a *agent) emitSpecificTool(name string) {
	switch strings.ToLower(name) {
	case "read":
		a.emitReadFile()
	case "edit":
		a.emitEditFile()
	case "exec", "bash":
		a.emitShellExec()
	case "search", "grep":
		a.emitCodeSearch()
	case "webfetch", "web":
		a.emitWebFetch()
	default:
		a.emitText("Unknown tool: "+name+". Available: read, edit, exec, search, webfetch", "")
	}
}

func (a *agent) emitSubagentTurn() {
	a.emitText("I'll delegate this to a subagent for parallel processing.", "")
	if !a.step() {
		return
	}
	a.emitSubagent()
	if !a.step() {
		return
	}
	a.emitText("Subagent task completed successfully.", "")
}

func (a *agent) emitTodoTurn() {
	a.emitText("I'll create a task list for this work.", "")
	if !a.step() {
		return
	}
	a.emitTodo()
	if !a.step() {
		return
	}
	a.emitText("Task list has been updated.", "")
}

// emitProgressTurn exercises the progress and summary record types hosts
// display for long tool calls.
func (a *agent) emitProgressTurn() {
	a.emitText("Starting a long-running tool call with progress reports.", "")
	if !a.step() {
		return
	}
	a.emitProgressRecords()
	if !a.step() {
		return
	}
	a.emitText("Long-running tool call finished.", "")
}

func (a *agent) emitProgressRecords() {
	toolID := a.nextToolID()
	a.emitToolUse(toolID, "Bash", map[string]any{"command": "sleep 30", "description": "Long-running command"})

	for _, elapsed := range []float64{5, 10, 15} {
		if !a.step() {
			return
		}
		a.emit(toolProgressMsg{
			Type:               "tool_progress",
			ToolName:           "Bash",
			ToolUseID:          toolID,
			ElapsedTimeSeconds: elapsed,
			SessionID:          a.sessionID,
		})
	}

	a.emitToolResult(toolID, "done", "")
	a.emit(toolSummaryMsg{
		Type:                "tool_use_summary",
		Summary:             "Ran a long command to completion",
		PrecedingToolUseIDs: []string{toolID},
		SessionID:           a.sessionID,
	})
}

func (a *agent) emitRateLimit() {
	a.emit(map[string]any{
		"type":            "rate_limit_event",
		"rate_limit_info": map[string]any{"status": "allowed", "unified_rate_limit_fallback_available": false},
		"session_id":      a.sessionID,
	})
}
