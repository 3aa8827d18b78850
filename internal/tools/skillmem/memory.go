package skillmem

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/coworklabs/cowork/internal/tools"
)

const maxMemoryBytes = 1 << 20

// MemoryTool reads, writes and searches markdown notes under the user and
// project memory roots. Keys are sanitized relative paths.
type MemoryTool struct {
	// UserRoot is the per-user memory directory (~/.agent/memory).
	UserRoot string
	// ProjectRoot is the per-project memory directory (.agent/memory).
	ProjectRoot string
}

type memoryArgs struct {
	Action  string `json:"action"`
	Key     string `json:"key"`
	Content string `json:"content"`
	Query   string `json:"query"`
	Scope   string `json:"scope"`
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Read, write or search persistent markdown memory notes."
}

func (t *MemoryTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{"read", "write", "search"},
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Note path relative to the memory root, e.g. project/decisions.md",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Note content for write",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Substring to search for",
			},
			"scope": map[string]any{
				"type":        "string",
				"enum":        []string{"user", "project"},
				"description": "Memory root to use (default user)",
			},
		},
		"required": []string{"action"},
	})
}

func (t *MemoryTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args memoryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}

	root := t.UserRoot
	if args.Scope == "project" {
		root = t.ProjectRoot
	}
	if root == "" {
		return tools.ErrorResult("memory root is not configured for scope %q", args.Scope), nil
	}

	switch args.Action {
	case "read":
		path, err := resolveKey(root, args.Key)
		if err != nil {
			return tools.ErrorResult("%v", err), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return tools.ErrorResult("read memory %s: %v", args.Key, err), nil
		}
		return &tools.Result{Content: string(data)}, nil

	case "write":
		if args.Content == "" {
			return tools.ErrorResult("content must not be empty for write"), nil
		}
		if len(args.Content) > maxMemoryBytes {
			return tools.ErrorResult("content exceeds %d bytes", maxMemoryBytes), nil
		}
		path, err := resolveKey(root, args.Key)
		if err != nil {
			return tools.ErrorResult("%v", err), nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return tools.ErrorResult("create memory dir: %v", err), nil
		}
		if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
			return tools.ErrorResult("write memory %s: %v", args.Key, err), nil
		}
		return tools.TextResult("stored %s", args.Key), nil

	case "search":
		if args.Query == "" {
			return tools.ErrorResult("query must not be empty for search"), nil
		}
		hits, err := searchMemory(root, args.Query)
		if err != nil {
			return tools.ErrorResult("search memory: %v", err), nil
		}
		if len(hits) == 0 {
			return tools.TextResult("no memory entries match %q", args.Query), nil
		}
		return &tools.Result{Content: strings.Join(hits, "\n")}, nil

	default:
		return tools.ErrorResult("unknown action %q", args.Action), nil
	}
}

// resolveKey confines a note key to the memory root and appends .md when
// missing.
func resolveKey(root, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if !strings.HasSuffix(key, ".md") {
		key += ".md"
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the memory root", key)
	}
	return filepath.Join(root, clean), nil
}

// searchMemory lists "key: matching line" hits across the root.
func searchMemory(root, query string) ([]string, error) {
	var hits []string
	lower := strings.ToLower(query)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), lower) {
				hits = append(hits, fmt.Sprintf("%s: %s", rel, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return hits, nil
}
