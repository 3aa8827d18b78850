// Package session implements the session engine: the busy-state machine,
// the pending ask/approval protocol, event sequencing and fan-out, and the
// bridge between the turn loop and the tool layer.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/internal/observability"
	"github.com/coworklabs/cowork/internal/providers"
	"github.com/coworklabs/cowork/internal/safety"
	"github.com/coworklabs/cowork/internal/sandbox"
	"github.com/coworklabs/cowork/internal/store"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
	"github.com/coworklabs/cowork/pkg/protocol"
)

const (
	maxTitleLen   = 80
	subscriberBuf = 256
)

// Sentinel errors for session state checks.
var (
	ErrSessionBusy   = errors.New("session is busy")
	ErrSessionClosed = errors.New("session is closed")
)

// ProviderFactory resolves provider adapters by name. *providers.Catalog
// is the production implementation.
type ProviderFactory interface {
	New(ctx context.Context, provider string) (agent.Provider, error)
}

// Deps bundles the engine's collaborators, shared by all sessions.
type Deps struct {
	Providers  ProviderFactory
	Tools      *tools.Registry
	Store      store.Store
	Classifier *safety.Classifier
	Metrics    *observability.Metrics
	Logger     *slog.Logger

	// DataDir is the per-user cache directory handed to tools.
	DataDir string
	// SkillRoots are scanned for available skill names.
	SkillRoots []string
}

type pendingReply struct {
	answer   string
	approved bool
}

type pendingRequest struct {
	id    string
	reply chan pendingReply
}

// Session is one conversation with its transcript, todos, config and
// busy-state machine. All mutation happens under mu; the turn loop runs in
// its own goroutine and re-enters through the tool context callbacks.
type Session struct {
	ID string

	deps Deps

	mu       sync.Mutex
	cfg      models.SessionConfig
	messages []models.Message
	todos    []models.TodoItem
	status   models.SessionStatus

	busy     bool
	cancel   context.CancelFunc
	turnDone chan struct{}

	pendingAsk      *pendingRequest
	pendingApproval *pendingRequest

	eventSeq    int64
	title       string
	titleSource string
	createdAt   time.Time

	harnessContext json.RawMessage

	sandbox *sandbox.Sandbox

	subscribers map[int64]chan protocol.Event
	nextSubID   int64
}

// New builds a session over the given config. The working directory is
// sandboxed immediately; output and uploads directories are extra roots.
func New(id string, cfg models.SessionConfig, deps Deps) (*Session, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	var extra []string
	if cfg.OutputDirectory != "" {
		extra = append(extra, cfg.OutputDirectory)
	}
	if cfg.UploadsDirectory != "" {
		extra = append(extra, cfg.UploadsDirectory)
	}
	sb, err := sandbox.New(cfg.WorkingDirectory, extra...)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	s := &Session{
		ID:          id,
		deps:        deps,
		cfg:         cfg,
		status:      models.SessionOpen,
		createdAt:   time.Now().UTC(),
		sandbox:     sb,
		subscribers: map[int64]chan protocol.Event{},
	}
	if deps.Metrics != nil {
		deps.Metrics.SessionOpened()
	}
	return s, nil
}

// Subscribe attaches an event consumer. Slow consumers drop events rather
// than block the engine. The returned func detaches.
func (s *Session) Subscribe() (<-chan protocol.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan protocol.Event, subscriberBuf)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// emitLocked assigns the next event sequence number and fans out. Callers
// hold mu.
func (s *Session) emitLocked(ev protocol.Event) {
	s.eventSeq++
	ev.SessionID = s.ID
	ev.EventSeq = s.eventSeq
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordEvent()
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Session) emit(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

func (s *Session) emitBusyLocked(busy bool) {
	b := busy
	s.emitLocked(protocol.Event{Type: protocol.EventSessionBusy, Busy: &b})
}

// Config returns the current config snapshot.
func (s *Session) Config() models.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Busy reports whether a turn is active.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// PendingFlags reports whether an ask or approval is outstanding.
func (s *Session) PendingFlags() (ask, approval bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingAsk != nil, s.pendingApproval != nil
}

// Todos returns a copy of the todo list.
func (s *Session) Todos() []models.TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TodoItem(nil), s.todos...)
}

// HarnessContext returns the opaque harness context blob.
func (s *Session) HarnessContext() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.harnessContext
}

// SetHarnessContext replaces the harness context and echoes it.
func (s *Session) SetHarnessContext(raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.harnessContext = raw
	s.emitLocked(protocol.Event{Type: protocol.EventHarnessContext, Context: raw})
}

// SendUserMessage starts a turn. While busy, the message is discarded and
// the client is told the session is busy; stored state is untouched.
func (s *Session) SendUserMessage(text, clientMessageID string) {
	s.mu.Lock()
	if s.status == models.SessionClosed {
		s.mu.Unlock()
		return
	}
	if s.busy {
		s.emitBusyLocked(true)
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.busy = true
	s.cancel = cancel
	done := make(chan struct{})
	s.turnDone = done

	msg := models.TextMessage(uuid.NewString(), models.RoleUser, text)
	s.messages = append(s.messages, msg)
	if s.title == "" {
		s.title = clipTitle(text)
		s.titleSource = "first_message"
	}

	s.emitBusyLocked(true)
	s.emitLocked(protocol.Event{
		Type:            protocol.EventUserMessage,
		Text:            text,
		ClientMessageID: clientMessageID,
	})
	s.mu.Unlock()

	go s.runTurn(ctx, done)
}

// runTurn owns the session's busy window. It drives the loop, appends the
// produced messages, and releases busy whatever happens.
func (s *Session) runTurn(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.finishTurn()

	s.mu.Lock()
	cfg := s.cfg
	history := append([]models.Message(nil), s.messages...)
	s.mu.Unlock()

	provider, err := s.deps.Providers.New(ctx, cfg.Provider)
	if err != nil {
		s.emit(protocol.ErrorEvent(s.ID, protocol.CodeProviderError, protocol.SourceProvider, err.Error()))
		return
	}

	loop := s.newLoop(provider, cfg, s.deps.Tools, 0)
	req := &agent.Request{
		Model:    cfg.Model,
		System:   cfg.SystemPrompt,
		Messages: history,
		Tools:    toolDefs(s.deps.Tools),
		Options:  cfg.ProviderOptions,
	}

	res, runErr := loop.Run(ctx, req)

	s.mu.Lock()
	if res != nil {
		s.messages = append(s.messages, res.Messages...)
	}
	s.mu.Unlock()

	if runErr != nil && ctx.Err() == nil {
		s.emit(protocol.ErrorEvent(s.ID, protocol.CodeProviderError, protocol.SourceProvider, runErr.Error()))
	}
}

// finishTurn releases busy, clears the cancellation handle and any stale
// pending requests, persists, and announces idle.
func (s *Session) finishTurn() {
	s.mu.Lock()
	s.busy = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.pendingAsk = nil
	s.pendingApproval = nil
	s.emitBusyLocked(false)
	s.mu.Unlock()
	s.persist()
}

// Cancel interrupts the active turn. Idempotent; a no-op when idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset cancels any active turn, waits for it to drain, and clears the
// transcript, todos and pending requests.
func (s *Session) Reset() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.turnDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.messages = nil
	s.todos = nil
	s.pendingAsk = nil
	s.pendingApproval = nil
	s.emitLocked(protocol.Event{Type: protocol.EventResetDone})
	s.mu.Unlock()
	s.persist()
}

// SetModel switches provider and/or model between turns. During a turn the
// switch is rejected with a busy event so the active config snapshot stays
// immutable.
func (s *Session) SetModel(provider, model string) error {
	s.mu.Lock()
	if s.status == models.SessionClosed {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.ID, ErrSessionClosed)
	}
	if s.busy {
		s.emitBusyLocked(true)
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.ID, ErrSessionBusy)
	}
	if provider != "" && provider != s.cfg.Provider {
		if !providers.Known(provider) {
			s.mu.Unlock()
			return fmt.Errorf("unknown provider %q", provider)
		}
		s.cfg.Provider = provider
		if model == "" {
			model = providers.DefaultModel(provider)
		}
	}
	if model != "" {
		s.cfg.Model = model
	}
	cfg := s.cfg
	s.emitLocked(protocol.Event{Type: protocol.EventConfigUpdated, Config: &cfg})
	s.mu.Unlock()
	s.persist()
	return nil
}

// ResolveAsk answers the pending ask by request id.
func (s *Session) ResolveAsk(requestID, answer string) error {
	s.mu.Lock()
	req := s.pendingAsk
	if req == nil || req.id != requestID {
		s.mu.Unlock()
		return fmt.Errorf("no pending ask with id %s", requestID)
	}
	s.pendingAsk = nil
	s.mu.Unlock()
	req.reply <- pendingReply{answer: answer}
	return nil
}

// ResolveApproval decides the pending approval by request id.
func (s *Session) ResolveApproval(requestID string, approved bool) error {
	s.mu.Lock()
	req := s.pendingApproval
	if req == nil || req.id != requestID {
		s.mu.Unlock()
		return fmt.Errorf("no pending approval with id %s", requestID)
	}
	s.pendingApproval = nil
	s.mu.Unlock()
	req.reply <- pendingReply{approved: approved}
	return nil
}

// askUser suspends the calling tool until a client answers or the turn is
// cancelled.
func (s *Session) askUser(ctx context.Context, question string, options []string) (string, error) {
	req := &pendingRequest{id: uuid.NewString(), reply: make(chan pendingReply, 1)}

	s.mu.Lock()
	s.pendingAsk = req
	s.emitLocked(protocol.Event{
		Type:      protocol.EventAsk,
		RequestID: req.id,
		Question:  question,
		Options:   options,
	})
	s.mu.Unlock()

	select {
	case r := <-req.reply:
		return r.answer, nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.pendingAsk == req {
			s.pendingAsk = nil
		}
		s.mu.Unlock()
		return "", fmt.Errorf("ask cancelled: %w", ctx.Err())
	}
}

// approveCommand classifies and, when the classifier says prompt, suspends
// until a client decides.
func (s *Session) approveCommand(ctx context.Context, command string) (bool, error) {
	decision := s.deps.Classifier.Classify(command)
	switch decision.Mode {
	case safety.ModeAuto:
		return true, nil
	case safety.ModeDeny:
		return false, nil
	}

	req := &pendingRequest{id: uuid.NewString(), reply: make(chan pendingReply, 1)}
	s.mu.Lock()
	s.pendingApproval = req
	s.emitLocked(protocol.Event{
		Type:       protocol.EventApproval,
		RequestID:  req.id,
		Command:    command,
		Dangerous:  decision.Dangerous,
		ReasonCode: string(decision.Risk),
	})
	s.mu.Unlock()

	select {
	case r := <-req.reply:
		return r.approved, nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.pendingApproval == req {
			s.pendingApproval = nil
		}
		s.mu.Unlock()
		return false, fmt.Errorf("approval cancelled: %w", ctx.Err())
	}
}

// UpdateTodos replaces the todo list and broadcasts it.
func (s *Session) UpdateTodos(todos []models.TodoItem) error {
	if err := models.ValidateTodos(todos); err != nil {
		return err
	}
	s.mu.Lock()
	s.todos = todos
	s.emitLocked(protocol.Event{Type: protocol.EventTodos, Todos: todos})
	s.mu.Unlock()
	return nil
}

// logLine publishes one log event line.
func (s *Session) logLine(line string) {
	s.emit(protocol.Event{Type: protocol.EventLog, Line: line})
}

// Close cancels any in-flight turn, persists, and releases waiters.
func (s *Session) Close() {
	s.mu.Lock()
	if s.status == models.SessionClosed {
		s.mu.Unlock()
		return
	}
	s.status = models.SessionClosed
	cancel := s.cancel
	done := s.turnDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.persist()
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionClosed()
	}

	s.mu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
}

// Record snapshots the session into its persisted form.
func (s *Session) Record() *models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	messagesJSON, _ := json.Marshal(s.messages)
	todosJSON, _ := json.Marshal(s.todos)

	return &models.SessionRecord{
		SessionID:          s.ID,
		Title:              s.title,
		TitleSource:        s.titleSource,
		TitleModel:         s.cfg.Model,
		Status:             s.status,
		CreatedAt:          s.createdAt,
		UpdatedAt:          time.Now().UTC(),
		Provider:           s.cfg.Provider,
		Model:              s.cfg.Model,
		WorkingDirectory:   s.cfg.WorkingDirectory,
		OutputDirectory:    s.cfg.OutputDirectory,
		UploadsDirectory:   s.cfg.UploadsDirectory,
		EnableMCP:          s.cfg.EnableMCP,
		SystemPrompt:       s.cfg.SystemPrompt,
		HasPendingAsk:      s.pendingAsk != nil,
		HasPendingApproval: s.pendingApproval != nil,
		MessageCount:       len(s.messages),
		LastEventSeq:       s.eventSeq,
		MessagesJSON:       messagesJSON,
		TodosJSON:          todosJSON,
		HarnessContextJSON: s.harnessContext,
	}
}

// restore rehydrates transcript state from a stored record.
func (s *Session) restore(rec *models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rec.MessagesJSON) > 0 {
		if err := json.Unmarshal(rec.MessagesJSON, &s.messages); err != nil {
			return fmt.Errorf("restore session %s: %w", rec.SessionID, err)
		}
	}
	if len(rec.TodosJSON) > 0 {
		if err := json.Unmarshal(rec.TodosJSON, &s.todos); err != nil {
			return fmt.Errorf("restore session %s: %w", rec.SessionID, err)
		}
	}
	s.title = rec.Title
	s.titleSource = rec.TitleSource
	s.createdAt = rec.CreatedAt
	s.eventSeq = rec.LastEventSeq
	s.harnessContext = rec.HarnessContextJSON
	return nil
}

func (s *Session) persist() {
	if s.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.Save(ctx, s.Record()); err != nil {
		s.deps.Logger.Error("persist session failed", "session", s.ID, "error", err)
	}
}

func clipTitle(text string) string {
	text = strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if len(text) > maxTitleLen {
		text = text[:maxTitleLen]
	}
	return text
}

func toolDefs(reg *tools.Registry) []agent.ToolDef {
	list := reg.List()
	defs := make([]agent.ToolDef, 0, len(list))
	for _, t := range list {
		defs = append(defs, agent.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}
