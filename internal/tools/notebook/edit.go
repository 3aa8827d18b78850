// Package notebook edits Jupyter notebook files cell by cell.
package notebook

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

// EditTool applies replace/insert/delete operations on notebook cells.
type EditTool struct{}

type editArgs struct {
	NotebookPath string `json:"notebookPath"`
	CellIndex    *int   `json:"cellIndex"`
	Mode         string `json:"mode"`
	Source       string `json:"source"`
	CellType     string `json:"cellType"`
}

// cell keeps unknown notebook fields intact across the rewrite.
type cell map[string]json.RawMessage

func (t *EditTool) Name() string { return "notebookEdit" }

func (t *EditTool) Description() string {
	return "Replace, insert or delete a cell in a Jupyter notebook (.ipynb)."
}

func (t *EditTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"notebookPath": map[string]any{
				"type":        "string",
				"description": "Path to the .ipynb file",
			},
			"cellIndex": map[string]any{
				"type":        "integer",
				"description": "0-based cell index; insert appends when omitted",
			},
			"mode": map[string]any{
				"type":        "string",
				"enum":        []string{"replace", "insert", "delete"},
				"description": "Edit operation (default replace)",
			},
			"source": map[string]any{
				"type":        "string",
				"description": "New cell source for replace/insert",
			},
			"cellType": map[string]any{
				"type":        "string",
				"enum":        []string{"code", "markdown"},
				"description": "Cell type for insert (default code)",
			},
		},
		"required": []string{"notebookPath"},
	})
}

func (t *EditTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args editArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if !strings.HasSuffix(args.NotebookPath, ".ipynb") {
		return tools.ErrorResult("%s is not a notebook (.ipynb required)", args.NotebookPath), nil
	}
	mode := args.Mode
	if mode == "" {
		mode = "replace"
	}

	path, err := tc.Sandbox.ResolveWrite(args.NotebookPath)
	if err != nil {
		if errors.Is(err, sandbox.ErrPathDenied) {
			return tools.ErrorResult("path_denied: %s is outside the allowed roots", args.NotebookPath), nil
		}
		return tools.ErrorResult("resolve %s: %v", args.NotebookPath, err), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.ErrorResult("read %s: %v", args.NotebookPath, err), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return tools.ErrorResult("%s is not valid notebook JSON: %v", args.NotebookPath, err), nil
	}
	var cells []cell
	if rawCells, ok := doc["cells"]; ok {
		if err := json.Unmarshal(rawCells, &cells); err != nil {
			return tools.ErrorResult("%s has a malformed cells array: %v", args.NotebookPath, err), nil
		}
	}

	switch mode {
	case "replace":
		if args.CellIndex == nil || *args.CellIndex < 0 || *args.CellIndex >= len(cells) {
			return tools.ErrorResult("cellIndex out of range (notebook has %d cells)", len(cells)), nil
		}
		cells[*args.CellIndex]["source"] = sourceJSON(args.Source)

	case "insert":
		idx := len(cells)
		if args.CellIndex != nil {
			idx = *args.CellIndex
		}
		if idx < 0 || idx > len(cells) {
			return tools.ErrorResult("cellIndex out of range (notebook has %d cells)", len(cells)), nil
		}
		cells = append(cells[:idx], append([]cell{newCell(args.CellType, args.Source)}, cells[idx:]...)...)

	case "delete":
		if args.CellIndex == nil || *args.CellIndex < 0 || *args.CellIndex >= len(cells) {
			return tools.ErrorResult("cellIndex out of range (notebook has %d cells)", len(cells)), nil
		}
		cells = append(cells[:*args.CellIndex], cells[*args.CellIndex+1:]...)

	default:
		return tools.ErrorResult("unknown mode %q", mode), nil
	}

	rawCells, err := json.Marshal(cells)
	if err != nil {
		return tools.ErrorResult("encode cells: %v", err), nil
	}
	doc["cells"] = rawCells

	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return tools.ErrorResult("encode notebook: %v", err), nil
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return tools.ErrorResult("write %s: %v", args.NotebookPath, err), nil
	}
	return tools.TextResult("%s: %s done, notebook now has %d cells", args.NotebookPath, mode, len(cells)), nil
}

// sourceJSON stores cell source in the conventional list-of-lines form.
func sourceJSON(source string) json.RawMessage {
	lines := strings.SplitAfter(source, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return raw
}

func newCell(cellType, source string) cell {
	if cellType == "" {
		cellType = "code"
	}
	c := cell{
		"cell_type": mustRaw(cellType),
		"metadata":  json.RawMessage(`{}`),
		"source":    sourceJSON(source),
	}
	if cellType == "code" {
		c["execution_count"] = json.RawMessage(`null`)
		c["outputs"] = json.RawMessage(`[]`)
	}
	return c
}

func mustRaw(s string) json.RawMessage {
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("notebook: marshal string: %v", err))
	}
	return raw
}
