// Package shelltool exposes shell command execution to the model, gated by
// the command classifier and the client approval flow.
package shelltool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coworklabs/cowork/internal/shell"
	"github.com/coworklabs/cowork/internal/tools"
)

const maxInlineOutput = 30_000

// Tool runs one shell command per call.
type Tool struct{}

type shellArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
	Workdir string `json:"workdir"`
}

type shellResult struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (t *Tool) Name() string { return "shell" }

func (t *Tool) Description() string {
	return "Run a shell command in the working directory. Risky commands require user approval."
}

func (t *Tool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The command to run",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds",
			},
			"workdir": map[string]any{
				"type":        "string",
				"description": "Optional working directory, resolved against the sandbox",
			},
		},
		"required": []string{"command"},
	})
}

func (t *Tool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args shellArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Command) == "" {
		return tools.ErrorResult("command must not be empty"), nil
	}

	if tc.Approve == nil {
		return tools.ErrorResult("shell execution is not permitted in this context"), nil
	}
	approved, err := tc.Approve(ctx, args.Command)
	if err != nil {
		return nil, fmt.Errorf("approval: %w", err)
	}
	if !approved {
		return tools.ErrorResult("command was not approved: %s", args.Command), nil
	}

	dir := tc.Sandbox.Workdir()
	if args.Workdir != "" {
		resolved, err := tc.Sandbox.ResolveRead(args.Workdir)
		if err != nil {
			return tools.ErrorResult("path_denied: workdir %s is outside the allowed roots", args.Workdir), nil
		}
		dir = resolved
	}

	res, err := shell.Run(ctx, shell.Options{
		Command: args.Command,
		Dir:     dir,
		Timeout: time.Duration(args.Timeout) * time.Second,
	})
	if err != nil {
		return tools.ErrorResult("run command: %v", err), nil
	}

	out := shellResult{
		Stdout:    clipOutput(res.Stdout),
		Stderr:    clipOutput(res.Stderr),
		ExitCode:  res.ExitCode,
		Truncated: res.Truncated,
	}
	result := tools.JSONResult(out)
	// A non-zero exit is information for the model, not a tool failure;
	// cancellation is the exception.
	if res.Cancelled {
		result.IsError = true
	}
	return result, nil
}

func clipOutput(s string) string {
	if len(s) <= maxInlineOutput {
		return s
	}
	return s[:maxInlineOutput] + "\n(output truncated)"
}
