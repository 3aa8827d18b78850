package notebook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coworklabs/cowork/internal/sandbox"
	"github.com/coworklabs/cowork/internal/tools"
)

const sampleNotebook = `{
 "cells": [
  {"cell_type": "code", "metadata": {}, "execution_count": null, "outputs": [], "source": ["print(1)\n"]},
  {"cell_type": "markdown", "metadata": {}, "source": ["# Title\n"]}
 ],
 "metadata": {"kernelspec": {"name": "python3"}},
 "nbformat": 4,
 "nbformat_minor": 5
}`

func setup(t *testing.T) (*tools.Context, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	if err := os.WriteFile(path, []byte(sampleNotebook), 0o644); err != nil {
		t.Fatal(err)
	}
	sb, err := sandbox.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return &tools.Context{Sandbox: sb}, path
}

func edit(t *testing.T, tc *tools.Context, args map[string]any) *tools.Result {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	res, err := (&EditTool{}).Execute(context.Background(), tc, raw)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func readCells(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Cells    []map[string]any `json:"cells"`
		NBFormat int              `json:"nbformat"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.NBFormat != 4 {
		t.Errorf("nbformat lost: %d", doc.NBFormat)
	}
	return doc.Cells
}

func TestReplaceCell(t *testing.T) {
	tc, path := setup(t)
	res := edit(t, tc, map[string]any{
		"notebookPath": "nb.ipynb", "cellIndex": 0, "mode": "replace", "source": "print(2)\n",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	cells := readCells(t, path)
	src := cells[0]["source"].([]any)
	if src[0] != "print(2)\n" {
		t.Errorf("source = %v", src)
	}
}

func TestInsertCellAppends(t *testing.T) {
	tc, path := setup(t)
	res := edit(t, tc, map[string]any{
		"notebookPath": "nb.ipynb", "mode": "insert", "source": "x = 1", "cellType": "code",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	cells := readCells(t, path)
	if len(cells) != 3 {
		t.Fatalf("len(cells) = %d", len(cells))
	}
	if cells[2]["cell_type"] != "code" {
		t.Errorf("cell_type = %v", cells[2]["cell_type"])
	}
}

func TestDeleteCell(t *testing.T) {
	tc, path := setup(t)
	res := edit(t, tc, map[string]any{
		"notebookPath": "nb.ipynb", "cellIndex": 1, "mode": "delete",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if cells := readCells(t, path); len(cells) != 1 {
		t.Errorf("len(cells) = %d", len(cells))
	}
}

func TestRejectsNonNotebook(t *testing.T) {
	tc, _ := setup(t)
	res := edit(t, tc, map[string]any{"notebookPath": "nb.txt", "cellIndex": 0})
	if !res.IsError || !strings.Contains(res.Content, ".ipynb") {
		t.Errorf("got %+v", res)
	}
}

func TestIndexOutOfRange(t *testing.T) {
	tc, _ := setup(t)
	res := edit(t, tc, map[string]any{
		"notebookPath": "nb.ipynb", "cellIndex": 9, "mode": "replace", "source": "x",
	})
	if !res.IsError || !strings.Contains(res.Content, "out of range") {
		t.Errorf("got %+v", res)
	}
}
