package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kandev/agentwire/pkg/claudecode"
)

// agentsFile is the YAML layout for subagent definitions:
//
//	agents:
//	  reviewer:
//	    description: Reviews diffs for correctness
//	    prompt: You are a meticulous code reviewer...
//	    tools: [Read, Grep]
//	    model: sonnet
type agentsFile struct {
	Agents map[string]agentSpec `yaml:"agents"`
}

type agentSpec struct {
	Description string   `yaml:"description"`
	Prompt      string   `yaml:"prompt"`
	Tools       []string `yaml:"tools"`
	Model       string   `yaml:"model"`
}

// loadAgentsFile reads subagent definitions for the initialize handshake.
func loadAgentsFile(path string) (map[string]claudecode.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agents file %s defines no agents", path)
	}

	defs := make(map[string]claudecode.AgentDefinition, len(file.Agents))
	for name, spec := range file.Agents {
		if spec.Description == "" {
			return nil, fmt.Errorf("agent %q: description is required", name)
		}
		if spec.Prompt == "" {
			return nil, fmt.Errorf("agent %q: prompt is required", name)
		}
		defs[name] = claudecode.AgentDefinition{
			Description: spec.Description,
			Prompt:      spec.Prompt,
			Tools:       spec.Tools,
			Model:       spec.Model,
		}
	}
	return defs, nil
}
