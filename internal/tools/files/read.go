// Package files implements the sandboxed file tools: read, write, edit,
// glob and grep. Every path argument is resolved through the session
// sandbox before any filesystem access.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/coworklabs/cowork/internal/sandbox"
	"github.com/coworklabs/cowork/internal/tools"
)

const (
	maxReadBytes    = 5 << 20
	defaultReadLines = 2000
)

// ReadTool reads a text file with optional offset/limit windowing.
type ReadTool struct{}

type readArgs struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Supports offset and limit for large files."
}

func (t *ReadTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the working directory",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "1-based line to start from",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return",
			},
		},
		"required": []string{"filePath"},
	})
}

func (t *ReadTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args readArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}

	path, err := tc.Sandbox.ResolveRead(args.FilePath)
	if err != nil {
		return pathResult(args.FilePath, err), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return tools.ErrorResult("stat %s: %v", args.FilePath, err), nil
	}
	if info.IsDir() {
		return tools.ErrorResult("%s is a directory", args.FilePath), nil
	}
	if info.Size() > maxReadBytes {
		return tools.ErrorResult("%s is %d bytes, larger than the %d byte read limit; use offset/limit", args.FilePath, info.Size(), maxReadBytes), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult("read %s: %v", args.FilePath, err), nil
	}

	lines := strings.Split(string(data), "\n")
	offset := args.Offset
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return tools.ErrorResult("offset %d past end of file (%d lines)", offset, len(lines)), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultReadLines
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return &tools.Result{Content: b.String()}, nil
}

// pathResult converts a sandbox failure into the error result the model
// sees, preserving the path_denied marker.
func pathResult(raw string, err error) *tools.Result {
	if errors.Is(err, sandbox.ErrPathDenied) {
		return tools.ErrorResult("path_denied: %s is outside the allowed roots", raw)
	}
	return tools.ErrorResult("resolve %s: %v", raw, err)
}
