// Package shell runs commands through the platform shell with bounded
// output capture and cooperative cancellation.
package shell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	// DefaultMaxOutput bounds each captured stream.
	DefaultMaxOutput = 10 << 20 // 10 MiB

	// DefaultKillGrace is how long a cancelled process gets between the
	// terminate signal and the hard kill.
	DefaultKillGrace = 5 * time.Second

	// cancelExitCode mirrors the conventional 128+SIGINT code.
	cancelExitCode = 130
)

// Options configures one command run.
type Options struct {
	Command   string
	Dir       string
	Env       []string
	Timeout   time.Duration // 0 means no timeout
	MaxOutput int           // per stream; 0 means DefaultMaxOutput
	KillGrace time.Duration // 0 means DefaultKillGrace
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Cancelled bool
	Duration  time.Duration
}

// Run executes the command via the platform shell, capturing stdout and
// stderr up to the configured bound. When ctx is cancelled the process
// receives the terminate signal, then a hard kill after the grace window,
// and the result carries exit code 130.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Command == "" {
		return nil, errors.New("shell: empty command")
	}
	maxOutput := opts.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	grace := opts.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	// killCtx lets an output overflow terminate the child without looking
	// like a caller cancellation.
	killCtx, kill := context.WithCancel(runCtx)
	defer kill()

	shell, flag := platformShell()
	cmd := exec.CommandContext(killCtx, shell, flag, opts.Command)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Cancel = func() error {
		return terminate(cmd.Process)
	}
	cmd.WaitDelay = grace

	// A stream exceeding its bound terminates the child; the captured
	// output stays truncated at the bound.
	stdout := newLimitedBuffer(maxOutput, kill)
	stderr := newLimitedBuffer(maxOutput, kill)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}

	if runCtx.Err() != nil {
		res.Cancelled = true
		res.ExitCode = cancelExitCode
		return res, nil
	}
	if err != nil {
		code, ok := exitCode(err)
		if !ok {
			return nil, err
		}
		res.ExitCode = code
	}
	return res, nil
}

// platformShell returns the shell executable and its command flag. POSIX
// prefers bash with an sh fallback; Windows prefers pwsh then powershell.
func platformShell() (string, string) {
	if runtime.GOOS == "windows" {
		if path, err := exec.LookPath("pwsh"); err == nil {
			return path, "-Command"
		}
		return "powershell", "-Command"
	}
	if path, err := exec.LookPath("bash"); err == nil {
		return path, "-c"
	}
	return "/bin/sh", "-c"
}

// exitCode extracts the child's exit code from a Run error.
func exitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// limitedBuffer captures at most max bytes; the first write past the bound
// fires onFull once and further bytes are dropped.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
	onFull    func()
}

func newLimitedBuffer(max int, onFull func()) *limitedBuffer {
	return &limitedBuffer{max: max, onFull: onFull}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - len(b.buf)
	switch {
	case remaining <= 0:
		b.markTruncated()
	case len(p) > remaining:
		b.buf = append(b.buf, p[:remaining]...)
		b.markTruncated()
	default:
		b.buf = append(b.buf, p...)
	}
	return len(p), nil
}

// markTruncated is called with the mutex held.
func (b *limitedBuffer) markTruncated() {
	if !b.truncated {
		b.truncated = true
		if b.onFull != nil {
			go b.onFull()
		}
	}
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
