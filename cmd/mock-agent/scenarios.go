package main

// runScenario executes one fixed-timing scenario. Unlike the scripted turns,
// scenarios use constant delays so end-to-end assertions on ordering and
// counts stay deterministic. It reports whether the scenario emitted its own
// result record.
func (a *agent) runScenario(name string) bool {
	switch name {
	case "simple-message":
		fixedDelay(100)
		a.emitText("This is a simple test message with **markdown** support.", "")
		return false

	case "read-and-edit":
		fixedDelay(50)
		toolID := a.nextToolID()
		f := randomFile()
		a.emitToolUse(toolID, "Read", map[string]any{"file_path": f.absPath})
		fixedDelay(100)
		a.emitToolResult(toolID, readFileSnippet(f.absPath, 10), "")
		fixedDelay(50)
		a.emitEditFile()
		fixedDelay(50)
		a.emitText("Read the file and applied the edit.", "")
		return false

	case "permission-flow":
		fixedDelay(50)
		toolID := a.nextToolID()
		input := map[string]any{"command": "echo 'permission test'", "description": "Echo a test string"}
		a.emitToolUse(toolID, "Bash", input)
		if a.awaitPermission("Bash", toolID, input) {
			a.emitToolResult(toolID, "permission test", "")
			fixedDelay(50)
			a.emitText("Command ran after approval.", "")
		} else {
			a.emitText("Command was not approved.", "")
		}
		return false

	case "error":
		fixedDelay(100)
		a.emitText("Something is about to go wrong...", "")
		fixedDelay(100)
		a.emitResult(true, "E2E scenario error: simulated failure")
		return true

	case "multi-turn":
		fixedDelay(50)
		a.emitText("Turn acknowledged.", "")
		return false

	default:
		a.emitText("Unknown scenario: "+name, "")
		return false
	}
}
