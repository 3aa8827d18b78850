//go:build !windows

package shelltool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/coworklabs/cowork/internal/sandbox"
	"github.com/coworklabs/cowork/internal/tools"
)

func newContext(t *testing.T, approve func(context.Context, string) (bool, error)) *tools.Context {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &tools.Context{Sandbox: sb, Approve: approve}
}

func run(t *testing.T, tc *tools.Context, args map[string]any) *tools.Result {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	res, err := (&Tool{}).Execute(context.Background(), tc, raw)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestExecuteApproved(t *testing.T) {
	tc := newContext(t, func(context.Context, string) (bool, error) { return true, nil })
	res := run(t, tc, map[string]any{"command": "echo hi"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	var out shellResult
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatal(err)
	}
	if out.Stdout != "hi\n" || out.ExitCode != 0 {
		t.Errorf("got %+v", out)
	}
}

func TestExecuteRejected(t *testing.T) {
	var asked string
	tc := newContext(t, func(_ context.Context, cmd string) (bool, error) {
		asked = cmd
		return false, nil
	})
	res := run(t, tc, map[string]any{"command": "rm -rf /tmp/x"})
	if !res.IsError || !strings.Contains(res.Content, "not approved") {
		t.Errorf("got %+v", res)
	}
	if asked != "rm -rf /tmp/x" {
		t.Errorf("approval saw %q", asked)
	}
}

func TestExecuteNonZeroExitIsNotError(t *testing.T) {
	tc := newContext(t, func(context.Context, string) (bool, error) { return true, nil })
	res := run(t, tc, map[string]any{"command": "exit 7"})
	if res.IsError {
		t.Fatalf("non-zero exit should not be an error result: %s", res.Content)
	}
	var out shellResult
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatal(err)
	}
	if out.ExitCode != 7 {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
}

func TestExecuteWorkdirDenied(t *testing.T) {
	tc := newContext(t, func(context.Context, string) (bool, error) { return true, nil })
	res := run(t, tc, map[string]any{"command": "pwd", "workdir": "/etc"})
	if !res.IsError || !strings.Contains(res.Content, "path_denied") {
		t.Errorf("got %+v", res)
	}
}
