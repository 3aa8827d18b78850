package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coworklabs/cowork/internal/providers"
	"github.com/coworklabs/cowork/internal/session"
	"github.com/coworklabs/cowork/pkg/protocol"
)

// handle dispatches one inbound frame. Malformed JSON, missing or unknown
// discriminators, and schema failures each answer with a typed error event
// instead of closing the connection.
func (c *wsConn) handle(raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInvalidJSON, protocol.SourceProtocol, "message is not a JSON object"))
		return
	}
	if probe.Type == "" || !knownType(probe.Type) {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeUnknownType, protocol.SourceProtocol, fmt.Sprintf("unknown message type %q", probe.Type)))
		return
	}
	if err := validateMessage(raw, probe.Type); err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeValidationFailed, protocol.SourceProtocol, err.Error()))
		return
	}

	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInvalidJSON, protocol.SourceProtocol, err.Error()))
		return
	}

	switch msg.Type {
	case protocol.TypeClientHello:
		c.handleClientHello(msg)
	case protocol.TypeSessionOpen:
		c.handleSessionOpen(msg)
	case protocol.TypeSessionClose:
		c.handleSessionClose(msg)
	case protocol.TypeUserMessage:
		if s := c.requireSession(msg.SessionID); s != nil {
			s.SendUserMessage(msg.Text, msg.ClientMessageID)
		}
	case protocol.TypeReset:
		if s := c.requireSession(msg.SessionID); s != nil {
			s.Reset()
		}
	case protocol.TypeSetModel:
		if s := c.requireSession(msg.SessionID); s != nil {
			if err := s.SetModel(msg.Provider, msg.Model); err != nil {
				c.sendEvent(protocol.ErrorEvent(msg.SessionID, protocol.CodeValidationFailed, protocol.SourceSession, err.Error()))
			}
		}
	case protocol.TypeAskResponse:
		if s := c.requireSession(msg.SessionID); s != nil {
			if err := s.ResolveAsk(msg.RequestID, msg.Answer); err != nil {
				c.sendEvent(protocol.ErrorEvent(msg.SessionID, protocol.CodeValidationFailed, protocol.SourceSession, err.Error()))
			}
		}
	case protocol.TypeApprovalResponse:
		if s := c.requireSession(msg.SessionID); s != nil {
			approved := msg.Approved != nil && *msg.Approved
			if err := s.ResolveApproval(msg.RequestID, approved); err != nil {
				c.sendEvent(protocol.ErrorEvent(msg.SessionID, protocol.CodeValidationFailed, protocol.SourceSession, err.Error()))
			}
		}
	case protocol.TypeListTools:
		c.handleListTools()
	case protocol.TypeListSessions:
		c.handleListSessions()
	case protocol.TypePing:
		c.sendEvent(protocol.Event{Type: protocol.EventPong})
	case protocol.TypeProviderAuthSetAPIKey:
		c.handleSetAPIKey(msg)
	case protocol.TypeProviderAuthAuthorize:
		c.handleAuthorize(msg)
	case protocol.TypeProviderAuthCallback:
		c.handleAuthCallback(msg)
	case protocol.TypeProviderCatalogGet:
		c.sendEvent(protocol.Event{Type: protocol.EventProviderCatalog, Providers: c.srv.catalog.Providers()})
	case protocol.TypeProviderAuthMethods:
		c.sendEvent(protocol.Event{Type: protocol.EventProviderAuthMethods, AuthMethods: c.srv.catalog.AuthMethods()})
	case protocol.TypeRefreshProviderStatus:
		c.sendEvent(protocol.Event{Type: protocol.EventProviderStatus, Providers: c.srv.catalog.Providers()})
	case protocol.TypeHarnessContextGet:
		if s := c.requireSession(msg.SessionID); s != nil {
			c.sendEvent(protocol.Event{
				Type:      protocol.EventHarnessContext,
				SessionID: s.ID,
				Context:   s.HarnessContext(),
			})
		}
	case protocol.TypeHarnessContextSet:
		if s := c.requireSession(msg.SessionID); s != nil {
			s.SetHarnessContext(msg.Context)
		}
	case protocol.TypeHarnessSLOEvaluate:
		c.handleSLOEvaluate(msg)
	case protocol.TypeObservabilityQuery:
		c.handleObservabilityQuery(msg)
	}
}

var clientTypes = map[string]bool{
	protocol.TypeClientHello:           true,
	protocol.TypeSessionOpen:           true,
	protocol.TypeSessionClose:          true,
	protocol.TypeUserMessage:           true,
	protocol.TypeReset:                 true,
	protocol.TypeSetModel:              true,
	protocol.TypeAskResponse:           true,
	protocol.TypeApprovalResponse:      true,
	protocol.TypeListTools:             true,
	protocol.TypeListSessions:          true,
	protocol.TypePing:                  true,
	protocol.TypeProviderAuthSetAPIKey: true,
	protocol.TypeProviderAuthAuthorize: true,
	protocol.TypeProviderAuthCallback:  true,
	protocol.TypeProviderCatalogGet:    true,
	protocol.TypeProviderAuthMethods:   true,
	protocol.TypeRefreshProviderStatus: true,
	protocol.TypeHarnessContextGet:     true,
	protocol.TypeHarnessContextSet:     true,
	protocol.TypeHarnessSLOEvaluate:    true,
	protocol.TypeObservabilityQuery:    true,
}

func knownType(t string) bool { return clientTypes[t] }

// requireSession resolves a live session and attaches the connection to its
// event stream. Unknown ids answer with a validation error.
func (c *wsConn) requireSession(id string) *session.Session {
	s, ok := c.srv.sessions.Get(id)
	if !ok {
		c.sendEvent(protocol.ErrorEvent(id, protocol.CodeValidationFailed, protocol.SourceSession, fmt.Sprintf("unknown session %q", id)))
		return nil
	}
	c.attach(s)
	return s
}

// handleClientHello opens a fresh session under the server's defaults and
// greets the client with its config.
func (c *wsConn) handleClientHello(msg protocol.ClientMessage) {
	s, err := c.srv.sessions.Open(c.srv.sessionConfig())
	if err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInternalError, protocol.SourceSession, err.Error()))
		return
	}
	c.attach(s)
	c.srv.logger.Info("client connected", "client", msg.Client, "version", msg.Version, "session", s.ID)
	c.sendHello(s, false)
	c.sendStatus()
}

// sendStatus pushes the current metrics snapshot as an observability_status
// event. Sent on greeting so dashboards have a baseline before polling.
func (c *wsConn) sendStatus() {
	sessions, turns := c.srv.sessions.ActiveCount()
	snapshot, err := c.srv.metrics.QueryJSON("", sessions, turns)
	if err != nil {
		return
	}
	c.sendEvent(protocol.Event{Type: protocol.EventObservabilityStatus, Result: snapshot})
}

// handleSessionOpen reattaches to a live session or rehydrates one from the
// store. Without a session id it opens a fresh session, like client_hello.
// Resumed sessions always come back idle.
func (c *wsConn) handleSessionOpen(msg protocol.ClientMessage) {
	if msg.SessionID == "" {
		s, err := c.srv.sessions.Open(c.srv.sessionConfig())
		if err != nil {
			c.sendEvent(protocol.ErrorEvent("", protocol.CodeInternalError, protocol.SourceSession, err.Error()))
			return
		}
		c.attach(s)
		c.sendHello(s, false)
		return
	}
	s, err := c.srv.sessions.Resume(c.ctx, msg.SessionID)
	if errors.Is(err, session.ErrUnknownSession) {
		c.sendEvent(protocol.ErrorEvent(msg.SessionID, protocol.CodeValidationFailed, protocol.SourceSession, fmt.Sprintf("unknown session %q", msg.SessionID)))
		return
	}
	if err != nil {
		c.sendEvent(protocol.ErrorEvent(msg.SessionID, protocol.CodeInternalError, protocol.SourceSession, err.Error()))
		return
	}
	c.attach(s)
	c.sendHello(s, true)
}

func (c *wsConn) handleSessionClose(msg protocol.ClientMessage) {
	c.detach(msg.SessionID)
	if err := c.srv.sessions.Close(msg.SessionID); err != nil {
		c.sendEvent(protocol.ErrorEvent(msg.SessionID, protocol.CodeValidationFailed, protocol.SourceSession, err.Error()))
	}
}

func (c *wsConn) sendHello(s *session.Session, isResume bool) {
	cfg := s.Config()
	busy := s.Busy()
	ask, approval := s.PendingFlags()
	c.sendEvent(protocol.Event{
		Type:               protocol.EventServerHello,
		SessionID:          s.ID,
		Config:             &cfg,
		IsResume:           isResume,
		Busy:               &busy,
		HasPendingAsk:      ask,
		HasPendingApproval: approval,
	})
}

func (c *wsConn) handleListTools() {
	list := c.srv.tools.List()
	infos := make([]protocol.ToolInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, protocol.ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	c.sendEvent(protocol.Event{Type: protocol.EventToolList, Tools: infos})
}

func (c *wsConn) handleListSessions() {
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	sums, err := c.srv.sessions.List(ctx)
	if err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInternalError, protocol.SourceSession, err.Error()))
		return
	}
	c.sendEvent(protocol.Event{Type: protocol.EventSessionList, Sessions: sums})
}

func (c *wsConn) handleSetAPIKey(msg protocol.ClientMessage) {
	ok := true
	if !providers.Known(msg.Provider) {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeValidationFailed, protocol.SourceProtocol, fmt.Sprintf("unknown provider %q", msg.Provider)))
		return
	}
	methodID := msg.MethodID
	if methodID == "" {
		methodID = "api_key"
	}
	if err := c.srv.auth.SetAPIKey(msg.Provider, methodID, msg.APIKey); err != nil {
		ok = false
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInternalError, protocol.SourceProtocol, err.Error()))
	}
	c.sendEvent(protocol.Event{Type: protocol.EventProviderAuthResult, Provider: msg.Provider, OK: &ok})
	c.sendEvent(protocol.Event{Type: protocol.EventProviderStatus, Providers: c.srv.catalog.Providers()})
}

// handleAuthorize answers browser-flow requests. Every catalog provider
// authenticates with an API key, so the challenge explains that instead of
// carrying an authorize URL.
func (c *wsConn) handleAuthorize(msg protocol.ClientMessage) {
	if !providers.Known(msg.Provider) {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeValidationFailed, protocol.SourceProtocol, fmt.Sprintf("unknown provider %q", msg.Provider)))
		return
	}
	c.sendEvent(protocol.Event{
		Type:     protocol.EventProviderAuthChallenge,
		Provider: msg.Provider,
		Message:  fmt.Sprintf("%s authenticates with an API key; send provider_auth_set_api_key", msg.Provider),
	})
}

func (c *wsConn) handleAuthCallback(msg protocol.ClientMessage) {
	ok := false
	c.sendEvent(protocol.Event{
		Type:     protocol.EventProviderAuthResult,
		Provider: msg.Provider,
		OK:       &ok,
		Message:  "no authorization flow is pending",
	})
}

func (c *wsConn) handleSLOEvaluate(msg protocol.ClientMessage) {
	result, err := c.srv.metrics.EvaluateSLO(msg.Query)
	if err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInternalError, protocol.SourceProtocol, err.Error()))
		return
	}
	c.sendEvent(protocol.Event{Type: protocol.EventHarnessSLOResult, Result: result})
}

func (c *wsConn) handleObservabilityQuery(msg protocol.ClientMessage) {
	sessions, turns := c.srv.sessions.ActiveCount()
	result, err := c.srv.metrics.QueryJSON(msg.Query, sessions, turns)
	if err != nil {
		c.sendEvent(protocol.ErrorEvent("", protocol.CodeInternalError, protocol.SourceProtocol, err.Error()))
		return
	}
	c.sendEvent(protocol.Event{Type: protocol.EventObservabilityQueryRes, Result: result})
}
