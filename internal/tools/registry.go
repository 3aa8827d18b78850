package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const (
	// MaxArgsSize bounds tool arguments to keep a hostile model from
	// exhausting memory.
	MaxArgsSize = 10 << 20

	// logPayloadLimit bounds the JSON echoed into log events.
	logPayloadLimit = 2048
)

// Registry holds the named tools available to a session. Safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: map[string]Tool{}, logger: logger}
}

// Register adds a tool; a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tools: tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tools: %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Subset builds a new registry restricted to the named tools. Unknown
// names are skipped.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry(r.logger)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.tools[name] = t
		}
	}
	return sub
}

// Execute runs a named tool. Lookup failures, oversized arguments, panics
// and returned errors all become error results so the model can react; the
// turn never dies on a tool. Entry and exit are echoed to the session log
// in the envelope UIs parse back into tool-call cards.
func (r *Registry) Execute(ctx context.Context, tc *Context, name string, args json.RawMessage) (res *Result) {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult("unknown tool: %s", name)
	}
	if len(args) > MaxArgsSize {
		return ErrorResult("%s: arguments exceed %d bytes", name, MaxArgsSize)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	tc.logf("tool> %s %s", name, clip(string(args)))
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			res = ErrorResult("%s: panic: %v", name, rec)
		}
		tc.logf("tool< %s %s", name, clip(resultJSON(res)))
	}()

	out, err := tool.Execute(ctx, tc, args)
	if err != nil {
		if ctx.Err() != nil {
			return ErrorResult("%s: cancelled", name)
		}
		return ErrorResult("%s: %v", name, err)
	}
	if out == nil {
		out = TextResult("")
	}
	return out
}

func resultJSON(res *Result) string {
	if res == nil {
		return "{}"
	}
	raw, err := json.Marshal(map[string]any{
		"content": res.Content,
		"isError": res.IsError,
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func clip(s string) string {
	if len(s) <= logPayloadLimit {
		return s
	}
	return s[:logPayloadLimit] + "..."
}
