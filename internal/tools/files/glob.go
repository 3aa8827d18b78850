package files

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/coworklabs/cowork/internal/tools"
)

const maxGlobResults = 200

// GlobTool matches files under a sandboxed directory with ** patterns,
// newest first.
type GlobTool struct{}

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (** supported), sorted by modification time."
}

func (t *GlobTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern, e.g. **/*.go",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search; defaults to the working directory",
			},
		},
		"required": []string{"pattern"},
	})
}

func (t *GlobTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args globArgs
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

	re, err := globRegexp(args.Pattern)
	if err != nil {
		return tools.ErrorResult("invalid pattern %q: %v", args.Pattern, err), nil
	}

	type hit struct {
		path  string
		mtime time.Time
	}
	var hits []hit
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !re.MatchString(filepath.ToSlash(rel)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		hits = append(hits, hit{path: path, mtime: info.ModTime()})
		return nil
	})
	if walkErr != nil {
		return tools.ErrorResult("walk %s: %v", base, walkErr), nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].mtime.After(hits[j].mtime) })
	truncated := false
	if len(hits) > maxGlobResults {
		hits = hits[:maxGlobResults]
		truncated = true
	}

	if len(hits) == 0 {
		return tools.TextResult("no files match %s", args.Pattern), nil
	}
	var b strings.Builder
	for _, h := range hits {
		b.WriteString(h.path)
		b.WriteByte('\n')
	}
	if truncated {
		b.WriteString("(results truncated)\n")
	}
	return &tools.Result{Content: b.String()}, nil
}

// globRegexp translates a glob with ** support into an anchored regexp
// over slash-separated relative paths.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	p := filepath.ToSlash(pattern)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '*':
			if i+1 < len(p) && p[i+1] == '*' {
				// "**/" matches zero or more directories.
				if i+2 < len(p) && p[i+2] == '/' {
					b.WriteString(`(?:[^/]+/)*`)
					i += 2
				} else {
					b.WriteString(`.*`)
					i++
				}
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			b.WriteString(`[^/]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
