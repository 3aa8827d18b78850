package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coworklabs/cowork/internal/ripgrep"
	"github.com/coworklabs/cowork/internal/tools"
)

const maxGrepOutput = 1 << 20

// GrepTool searches file contents with ripgrep, provisioning the binary on
// first use.
type GrepTool struct{}

type grepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	Glob       string `json:"glob"`
	IgnoreCase bool   `json:"ignoreCase"`
	Context    int    `json:"context"`
	MaxMatches int    `json:"maxMatches"`
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression using ripgrep."
}

func (t *GrepTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to search; defaults to the working directory",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Restrict the search to files matching this glob",
			},
			"ignoreCase": map[string]any{
				"type":        "boolean",
				"description": "Case-insensitive search",
			},
			"context": map[string]any{
				"type":        "integer",
				"description": "Lines of context around each match",
			},
			"maxMatches": map[string]any{
				"type":        "integer",
				"description": "Stop after this many matches per file (default 100)",
			},
		},
		"required": []string{"pattern"},
	})
}

func (t *GrepTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args grepArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if args.Pattern == "" {
		return tools.ErrorResult("pattern must not be empty"), nil
	}

	base := args.Path
	if base == "" {
		base = tc.Sandbox.Workdir()
	}
	root, err := tc.Sandbox.ResolveRead(base)
	if err != nil {
		return pathResult(base, err), nil
	}

	rg, err := ripgrep.Ensure(ctx, filepath.Join(tc.DataDir, "bin"))
	if err != nil {
		return tools.ErrorResult("ripgrep unavailable: %v", err), nil
	}

	maxMatches := args.MaxMatches
	if maxMatches <= 0 {
		maxMatches = 100
	}
	argv := []string{"--line-number", "--no-heading", "--color", "never",
		"--max-count", strconv.Itoa(maxMatches)}
	if args.IgnoreCase {
		argv = append(argv, "--ignore-case")
	}
	if args.Context > 0 {
		argv = append(argv, "--context", strconv.Itoa(args.Context))
	}
	if args.Glob != "" {
		argv = append(argv, "--glob", args.Glob)
	}
	argv = append(argv, "--", args.Pattern, root)

	cmd := exec.CommandContext(ctx, rg, argv...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		// rg exits 1 on no matches, 2 on real errors.
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 1 {
				return tools.TextResult("no matches for %s", args.Pattern), nil
			}
			if len(exitErr.Stderr) > 0 {
				return tools.ErrorResult("ripgrep: %s", strings.TrimSpace(string(exitErr.Stderr))), nil
			}
		}
		return tools.ErrorResult("ripgrep: %v", err), nil
	}

	if len(out) > maxGrepOutput {
		out = out[:maxGrepOutput]
		return &tools.Result{Content: fmt.Sprintf("%s\n(output truncated)", out)}, nil
	}
	return &tools.Result{Content: string(out)}, nil
}
