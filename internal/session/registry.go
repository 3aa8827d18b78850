package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/coworklabs/cowork/internal/store"
	"github.com/coworklabs/cowork/pkg/models"
	"github.com/coworklabs/cowork/pkg/protocol"
)

// ErrUnknownSession is returned when neither memory nor the store has the
// requested session id.
var ErrUnknownSession = errors.New("unknown session")

// Registry tracks live sessions and resumes persisted ones.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a session registry over the shared dependencies.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, sessions: map[string]*Session{}}
}

// Open creates a fresh session with the given config.
func (r *Registry) Open(cfg models.SessionConfig) (*Session, error) {
	s, err := New(uuid.NewString(), cfg, r.deps)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Resume returns the live session for id, or rehydrates it from the store.
// A resumed session always comes back idle with no pending requests.
func (r *Registry) Resume(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	if r.deps.Store == nil {
		return nil, ErrUnknownSession
	}
	rec, err := r.deps.Store.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, err
	}

	cfg := models.SessionConfig{
		Provider:         rec.Provider,
		Model:            rec.Model,
		WorkingDirectory: rec.WorkingDirectory,
		OutputDirectory:  rec.OutputDirectory,
		UploadsDirectory: rec.UploadsDirectory,
		SystemPrompt:     rec.SystemPrompt,
		EnableMCP:        rec.EnableMCP,
	}
	// A recorded working directory can vanish between runs. Fall back to
	// the process directory so path-taking tools keep working, and let the
	// config event tell clients about the move.
	moved := false
	if _, statErr := os.Stat(cfg.WorkingDirectory); statErr != nil {
		if wd, wdErr := os.Getwd(); wdErr == nil {
			cfg.WorkingDirectory = wd
			moved = true
		}
	}
	s, err := New(id, cfg, r.deps)
	if err != nil {
		return nil, err
	}
	if err := s.restore(rec); err != nil {
		return nil, err
	}
	if moved {
		s.emit(protocol.Event{Type: protocol.EventConfigUpdated, Config: &cfg})
	}

	r.mu.Lock()
	// A concurrent resume may have won; keep the first one.
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[id] = s
	r.mu.Unlock()
	return s, nil
}

// Close closes one session and forgets it.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("close: %w: %s", ErrUnknownSession, id)
	}
	s.Close()
	return nil
}

// CloseAll drains every live session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

// List merges persisted summaries with live state. Live sessions shadow
// their stored rows.
func (r *Registry) List(ctx context.Context) ([]models.SessionSummary, error) {
	var stored []models.SessionSummary
	if r.deps.Store != nil {
		var err error
		stored, err = r.deps.Store.List(ctx)
		if err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	live := make(map[string]*Session, len(r.sessions))
	for id, s := range r.sessions {
		live[id] = s
	}
	r.mu.Unlock()

	out := make([]models.SessionSummary, 0, len(stored)+len(live))
	seen := map[string]bool{}
	for _, sum := range stored {
		if s, ok := live[sum.SessionID]; ok {
			sum = summarize(s)
		}
		seen[sum.SessionID] = true
		out = append(out, sum)
	}
	for id, s := range live {
		if !seen[id] {
			out = append(out, summarize(s))
		}
	}
	return out, nil
}

// ActiveCount returns the number of live sessions and active turns.
func (r *Registry) ActiveCount() (sessions, turns int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		sessions++
		if s.Busy() {
			turns++
		}
	}
	return sessions, turns
}

func summarize(s *Session) models.SessionSummary {
	rec := s.Record()
	return models.SessionSummary{
		SessionID:    rec.SessionID,
		Title:        rec.Title,
		Status:       rec.Status,
		Provider:     rec.Provider,
		Model:        rec.Model,
		MessageCount: rec.MessageCount,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
