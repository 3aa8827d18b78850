package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coworklabs/cowork/internal/agent"
	"github.com/coworklabs/cowork/internal/safety"
	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/internal/tools/skillmem"
	"github.com/coworklabs/cowork/internal/tools/subagent"
	"github.com/coworklabs/cowork/pkg/models"
	"github.com/coworklabs/cowork/pkg/protocol"
)

// newLoop builds the turn loop for this session over a given registry.
// depth > 0 means a sub-agent loop, which streams nothing to clients except
// log lines.
func (s *Session) newLoop(provider agent.Provider, cfg models.SessionConfig, reg *tools.Registry, depth int) *agent.Loop {
	loop := &agent.Loop{
		Provider:     provider,
		Registry:     reg,
		ToolContext:  s.toolContext(provider, cfg, depth),
		MaxSteps:     cfg.MaxSteps,
		ChunkTimeout: 0,
		Log:          s.logLine,
		Metrics:      s.deps.Metrics,
	}
	if depth == 0 {
		loop.EmitAssistant = func(text string) {
			s.emit(protocol.Event{Type: protocol.EventAssistantMessage, Text: text})
		}
		loop.EmitReasoning = func(text string, kind models.ReasoningKind) {
			s.emit(protocol.Event{Type: protocol.EventReasoning, Text: text, Kind: string(kind)})
		}
	}
	return loop
}

// toolContext builds the capability bundle for tool calls at a given spawn
// depth. Sub-agents lose askUser; their approval policy depends on the
// agent type and is swapped in by spawnTurn.
func (s *Session) toolContext(provider agent.Provider, cfg models.SessionConfig, depth int) *tools.Context {
	skills := skillmem.DiscoverSkills(s.deps.SkillRoots...)
	names := make([]string, 0, len(skills))
	for _, sk := range skills {
		names = append(names, sk.Name)
	}

	tc := &tools.Context{
		Config:          cfg,
		Sandbox:         s.sandbox,
		Log:             s.logLine,
		Approve:         s.approveCommand,
		UpdateTodos:     s.UpdateTodos,
		SpawnDepth:      depth,
		AvailableSkills: names,
		DataDir:         s.deps.DataDir,
	}
	if depth == 0 {
		tc.AskUser = s.askUser
	}
	tc.SpawnTurn = s.spawnTurn(provider, cfg, tc)
	return tc
}

// spawnTurn returns the nested-turn runner injected into spawnAgent. The
// sub-agent gets a restricted tool subset, its own system prompt, and an
// approval policy per agent type: explore auto-approves safe commands only,
// general inherits the parent's approval flow, research has no shell.
func (s *Session) spawnTurn(provider agent.Provider, cfg models.SessionConfig, parent *tools.Context) func(context.Context, string, string, int) (string, error) {
	return func(ctx context.Context, agentType, task string, depth int) (string, error) {
		names, ok := subagent.Toolset(agentType)
		if !ok {
			return "", fmt.Errorf("unknown agent type %q", agentType)
		}
		sub := s.deps.Tools.Subset(names...)

		subCtx := &tools.Context{
			Config:          cfg,
			Sandbox:         s.sandbox,
			Log:             s.logLine,
			UpdateTodos:     nil,
			SpawnDepth:      depth,
			AvailableSkills: parent.AvailableSkills,
			DataDir:         s.deps.DataDir,
		}
		switch agentType {
		case subagent.TypeExplore:
			subCtx.Approve = func(ctx context.Context, command string) (bool, error) {
				return s.deps.Classifier.Classify(command).Mode == safety.ModeAuto, nil
			}
		case subagent.TypeGeneral:
			subCtx.Approve = parent.Approve
		}

		model := cfg.SubagentModel
		if model == "" {
			model = cfg.Model
		}

		loop := &agent.Loop{
			Provider:    provider,
			Registry:    sub,
			ToolContext: subCtx,
			MaxSteps:    cfg.MaxSteps,
			Log:         s.logLine,
			Metrics:     s.deps.Metrics,
		}
		req := &agent.Request{
			Model:    model,
			System:   subagent.SystemPrompt(agentType),
			Messages: []models.Message{models.TextMessage(uuid.NewString(), models.RoleUser, task)},
			Tools:    toolDefs(sub),
			Options:  cfg.ProviderOptions,
		}
		res, err := loop.Run(ctx, req)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}
