// Package subagent exposes nested agent runs as the spawnAgent tool. The
// actual turn execution is injected by the session engine through the tool
// context; this package owns the type/tool-subset policy.
package subagent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/coworklabs/cowork/internal/tools"
)

// Agent types and their tool subsets.
const (
	TypeExplore  = "explore"
	TypeResearch = "research"
	TypeGeneral  = "general"
)

// Toolset returns the tool names available to a sub-agent type.
func Toolset(agentType string) ([]string, bool) {
	switch agentType {
	case TypeExplore:
		return []string{"shell", "read", "glob", "grep"}, true
	case TypeResearch:
		return []string{"read", "webSearch", "webFetch"}, true
	case TypeGeneral:
		return []string{"read", "write", "edit", "glob", "grep", "webSearch",
			"webFetch", "notebookEdit", "skill", "memory"}, true
	default:
		return nil, false
	}
}

// SystemPrompt returns the sub-agent system prompt for a type.
func SystemPrompt(agentType string) string {
	switch agentType {
	case TypeExplore:
		return "You are an exploration agent. Investigate the workspace with the " +
			"available read-only tools and report your findings concisely."
	case TypeResearch:
		return "You are a research agent. Gather information from the web and " +
			"local files, then summarize what you learned with sources."
	default:
		return "You are a focused sub-agent. Complete the given task with the " +
			"available tools and report the result."
	}
}

// SpawnTool runs a nested turn loop with a restricted tool set.
type SpawnTool struct{}

type spawnArgs struct {
	AgentType string `json:"agentType"`
	Task      string `json:"task"`
}

func (t *SpawnTool) Name() string { return "spawnAgent" }

func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent (explore, research or general) to work on a task and return its final answer."
}

func (t *SpawnTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentType": map[string]any{
				"type":        "string",
				"enum":        []string{TypeExplore, TypeResearch, TypeGeneral},
				"description": "Kind of sub-agent to spawn",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "Task for the sub-agent",
			},
		},
		"required": []string{"agentType", "task"},
	})
}

func (t *SpawnTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args spawnArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if _, ok := Toolset(args.AgentType); !ok {
		return tools.ErrorResult("unknown agent type %q", args.AgentType), nil
	}
	if strings.TrimSpace(args.Task) == "" {
		return tools.ErrorResult("task must not be empty"), nil
	}

	limit := tc.Config.SpawnDepthLimit
	if limit <= 0 {
		limit = 2
	}
	if tc.SpawnDepth >= limit {
		return tools.ErrorResult("sub-agent depth limit (%d) reached", limit), nil
	}
	if tc.SpawnTurn == nil {
		return tools.ErrorResult("sub-agents are not available in this context"), nil
	}

	text, err := tc.SpawnTurn(ctx, args.AgentType, args.Task, tc.SpawnDepth+1)
	if err != nil {
		return tools.ErrorResult("sub-agent failed: %v", err), nil
	}
	if text == "" {
		text = "(sub-agent produced no final text)"
	}
	return &tools.Result{Content: text}, nil
}
