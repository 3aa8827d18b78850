package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/coworklabs/cowork/internal/sandbox"
	"github.com/coworklabs/cowork/internal/tools"
)

func newContext(t *testing.T, workdir string) *tools.Context {
	t.Helper()
	sb, err := sandbox.New(workdir)
	if err != nil {
		t.Fatal(err)
	}
	return &tools.Context{Sandbox: sb}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestReadWindowsLines(t *testing.T) {
	dir := t.TempDir()
	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := newContext(t, dir)

	res, err := (&ReadTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "f.txt", "offset": 2, "limit": 2,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "two") || !strings.Contains(res.Content, "three") {
		t.Errorf("window missing lines: %q", res.Content)
	}
	if strings.Contains(res.Content, "four") {
		t.Errorf("window leaked past limit: %q", res.Content)
	}
}

func TestReadDeniesEscape(t *testing.T) {
	tc := newContext(t, t.TempDir())
	res, err := (&ReadTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "/etc/passwd",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "path_denied") {
		t.Errorf("got %+v", res)
	}
}

func TestWriteCreatesParents(t *testing.T) {
	dir := t.TempDir()
	tc := newContext(t, dir)
	res, err := (&WriteTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "a/b/c.txt", "content": "hello",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a", "b", "c.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
}

func TestWriteSymlinkEscapeDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	tc := newContext(t, dir)

	res, err := (&WriteTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "link/evil", "content": "x",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "path_denied") {
		t.Errorf("got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(outside, "evil")); !os.IsNotExist(err) {
		t.Error("file was created outside the sandbox")
	}
}

func TestEditRequiresUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("aaa bbb aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := newContext(t, dir)

	res, err := (&EditTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "f.txt", "oldString": "aaa", "newString": "ccc",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("ambiguous edit accepted")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "aaa bbb aaa" {
		t.Errorf("file changed on failed edit: %q", data)
	}
}

func TestEditReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("aaa bbb aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := newContext(t, dir)

	res, err := (&EditTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "f.txt", "oldString": "aaa", "newString": "ccc", "replaceAll": true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "ccc bbb ccc" {
		t.Errorf("content = %q", data)
	}
}

func TestEditMissingOldString(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := newContext(t, dir)

	res, err := (&EditTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"filePath": "f.txt", "oldString": "absent", "newString": "x",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "not found") {
		t.Errorf("got %+v", res)
	}
}

func TestGlobMatchesAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.txt", "sub/c.go"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tc := newContext(t, dir)

	res, err := (&GlobTool{}).Execute(context.Background(), tc, mustJSON(t, map[string]any{
		"pattern": "**/*.go",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if !strings.Contains(res.Content, "a.go") || !strings.Contains(res.Content, "c.go") {
		t.Errorf("missing matches: %q", res.Content)
	}
	if strings.Contains(res.Content, "b.txt") {
		t.Errorf("non-matching file listed: %q", res.Content)
	}
}

func TestGlobRegexp(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "sub/main.go", false},
		{"**/*.go", "sub/main.go", true},
		{"**/*.go", "main.go", true},
		{"sub/*.go", "sub/main.go", true},
		{"sub/*.go", "sub/deep/main.go", false},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
	}
	for _, tc := range tests {
		re, err := globRegexp(tc.pattern)
		if err != nil {
			t.Fatalf("%s: %v", tc.pattern, err)
		}
		if got := re.MatchString(tc.path); got != tc.want {
			t.Errorf("globRegexp(%q).Match(%q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}
