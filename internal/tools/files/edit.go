package files

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/coworklabs/cowork/internal/tools"
)

// EditTool performs an exact string replacement in a file. oldString must
// be present and, unless replaceAll is set, unique.
type EditTool struct{}

type editArgs struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll"`
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. The target must be unique unless replaceAll is true."
}

func (t *EditTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{
				"type":        "string",
				"description": "File to edit",
			},
			"oldString": map[string]any{
				"type":        "string",
				"description": "Exact text to replace; must exist in the file",
			},
			"newString": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
			"replaceAll": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring uniqueness",
			},
		},
		"required": []string{"filePath", "oldString", "newString"},
	})
}

func (t *EditTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args editArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if args.OldString == "" {
		return tools.ErrorResult("oldString must not be empty"), nil
	}
	if args.OldString == args.NewString {
		return tools.ErrorResult("oldString and newString are identical"), nil
	}

	path, err := tc.Sandbox.ResolveWrite(args.FilePath)
	if err != nil {
		return pathResult(args.FilePath, err), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult("read %s: %v", args.FilePath, err), nil
	}
	content := string(data)

	count := strings.Count(content, args.OldString)
	switch {
	case count == 0:
		return tools.ErrorResult("oldString not found in %s", args.FilePath), nil
	case count > 1 && !args.ReplaceAll:
		return tools.ErrorResult("oldString occurs %d times in %s; pass replaceAll or make it unique", count, args.FilePath), nil
	}

	updated := strings.Replace(content, args.OldString, args.NewString, count)

	info, err := os.Stat(path)
	if err != nil {
		return tools.ErrorResult("stat %s: %v", args.FilePath, err), nil
	}
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return tools.ErrorResult("write %s: %v", args.FilePath, err), nil
	}
	return tools.TextResult("replaced %d occurrence(s) in %s", count, args.FilePath), nil
}
