package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/coworklabs/cowork/internal/tools"
)

// WriteTool creates or overwrites a file.
type WriteTool struct{}

type writeArgs struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating parent directories as needed."
}

func (t *WriteTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "Destination path",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content",
			},
		},
		"required": []string{"filePath", "content"},
	})
}

func (t *WriteTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args writeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}

	path, err := tc.Sandbox.ResolveWrite(args.FilePath)
	if err != nil {
		return pathResult(args.FilePath, err), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.ErrorResult("create directories for %s: %v", args.FilePath, err), nil
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return tools.ErrorResult("write %s: %v", args.FilePath, err), nil
	}
	return tools.TextResult("wrote %d bytes to %s", len(args.Content), args.FilePath), nil
}
