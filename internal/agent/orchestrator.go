package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"huddle/internal/domain"
	"huddle/internal/metrics"
)

const attachmentOnlyPrompt = "User uploaded attachment(s). Please analyze them and respond."

// TextExtractor renders best-effort text for uploaded attachments. An
// empty result means nothing could be extracted.
type TextExtractor interface {
	Extract(ctx context.Context, attachments []domain.Attachment) string
}

// EventSink receives the outbound frames of one turn. Calls are never
// concurrent.
type EventSink interface {
	Send(ev domain.ChatEvent) error
	Fail(message string) error
}

// FuncSink adapts plain functions to EventSink. Nil functions accept
// every frame.
type FuncSink struct {
	OnEvent func(domain.ChatEvent) error
	OnError func(string) error
}

func (s FuncSink) Send(ev domain.ChatEvent) error {
	if s.OnEvent == nil {
		return nil
	}
	return s.OnEvent(ev)
}

func (s FuncSink) Fail(message string) error {
	if s.OnError == nil {
		return nil
	}
	return s.OnError(message)
}

// Turn is an accepted request, ready to run.
type Turn struct {
	SessionID   string
	Mode        domain.AgentMode
	TeamID      string
	Lead        domain.AgentConfig // the selected agent in direct mode
	Specialists []domain.AgentConfig
	Input       []domain.InputItem
}

// Orchestrator drives one chat turn: it picks specialists, consults them,
// and streams the lead's synthesized answer.
type Orchestrator struct {
	catalog      domain.Catalog
	fallbackTeam string
	defaultTeam  string
	runner       domain.AgentRunner
	selector     *Selector
	coordinator  *Coordinator
	synth        *Synthesizer
	sessions     *SessionManager
	extractor    TextExtractor
	logger       *slog.Logger
}

// OrchestratorConfig configures the orchestrator.
type OrchestratorConfig struct {
	Catalog      domain.Catalog
	FallbackTeam string // built-in team used when resolution fails
	DefaultTeam  string // team used when a request names none
	Runner       domain.AgentRunner
	Selector     *Selector
	Coordinator  *Coordinator
	Sessions     *SessionManager // optional
	Extractor    TextExtractor   // optional
	Logger       *slog.Logger
}

// NewOrchestrator creates a new orchestrator. A nil Selector or
// Coordinator is replaced by one with default limits.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Selector == nil {
		cfg.Selector = NewSelector(SelectorConfig{Runner: cfg.Runner, MaxSpecialists: 4, Temperature: 0.2, Logger: cfg.Logger})
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = NewCoordinator(CoordinatorConfig{Runner: cfg.Runner, Logger: cfg.Logger})
	}
	return &Orchestrator{
		catalog:      cfg.Catalog,
		fallbackTeam: cfg.FallbackTeam,
		defaultTeam:  cfg.DefaultTeam,
		runner:       cfg.Runner,
		selector:     cfg.Selector,
		coordinator:  cfg.Coordinator,
		synth:        NewSynthesizer(cfg.Runner),
		sessions:     cfg.Sessions,
		extractor:    cfg.Extractor,
		logger:       cfg.Logger,
	}
}

// Handle prepares and runs a turn. Validation errors are returned before
// any frame is sent.
func (o *Orchestrator) Handle(ctx context.Context, req domain.TurnRequest, sink EventSink) error {
	turn, err := o.Prepare(ctx, req)
	if err != nil {
		return err
	}
	return o.Run(ctx, turn, sink)
}

// Prepare validates the request, resolves the agents, loads history, and
// stores the user's turn. No agent is invoked.
func (o *Orchestrator) Prepare(ctx context.Context, req domain.TurnRequest) (*Turn, error) {
	if len(req.Messages) == 0 {
		return nil, &ValidationError{Field: "messages", Reason: "at least one message is required", Err: ErrEmptyMessage}
	}
	newest := req.Messages[len(req.Messages)-1]
	if !newest.HasContent() {
		return nil, &ValidationError{Field: "messages", Reason: ErrEmptyMessage.Error(), Err: ErrEmptyMessage}
	}

	turn := &Turn{SessionID: req.SessionID, Mode: req.AgentMode}
	if turn.Mode == "" {
		turn.Mode = domain.ModeTeam
	}
	switch turn.Mode {
	case domain.ModeSpecific:
		if strings.TrimSpace(req.SelectedAgentID) == "" {
			return nil, &ValidationError{Field: "selectedAgentId", Reason: "required when agentMode is specific"}
		}
		agent, err := o.catalog.Agent(req.SelectedAgentID)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", req.SelectedAgentID, err)
		}
		turn.Lead = agent
	case domain.ModeTeam:
		teamID, lead, specialists, err := o.resolveTeam(req.TeamID)
		if err != nil {
			return nil, err
		}
		turn.TeamID, turn.Lead, turn.Specialists = teamID, lead, specialists
	default:
		return nil, &ValidationError{Field: "agentMode", Reason: fmt.Sprintf("unknown mode %q", req.AgentMode)}
	}

	history := req.Messages[:len(req.Messages)-1]
	_, existed, err := o.sessions.Open(ctx, req.SessionID, turn.TeamID)
	if err != nil {
		o.logger.Warn("session unavailable, using request history", "session", req.SessionID, "err", err)
	} else if existed {
		stored, err := o.sessions.History(ctx, req.SessionID)
		if err != nil {
			o.logger.Warn("failed to load session history, using request history", "session", req.SessionID, "err", err)
		} else {
			history = stored
		}
	}

	forModel := newest
	forModel.Content = strings.TrimSpace(newest.Content)
	if o.extractor != nil && len(newest.Attachments) > 0 {
		forModel.Content += o.extractor.Extract(ctx, newest.Attachments)
	}
	if strings.TrimSpace(forModel.Content) == "" {
		forModel.Content = attachmentOnlyPrompt
	}

	if err := o.sessions.SaveUser(ctx, req.SessionID, newest); err != nil {
		o.logger.Warn("failed to persist user turn", "session", req.SessionID, "err", err)
	}

	turn.Input = ToAgentInput(history, forModel)
	turn.Lead = WithMemories(turn.Lead, o.sessions.Memories(ctx, turn.Lead.ID))
	for i, s := range turn.Specialists {
		turn.Specialists[i] = WithMemories(s, o.sessions.Memories(ctx, s.ID))
	}
	return turn, nil
}

// resolveTeam loads the lead and specialists of teamID, falling back to
// the built-in team when the requested one cannot be resolved.
func (o *Orchestrator) resolveTeam(teamID string) (string, domain.AgentConfig, []domain.AgentConfig, error) {
	id := firstNonEmpty(teamID, o.defaultTeam, o.fallbackTeam)
	lead, specialists, err := o.teamMembers(id)
	if err == nil {
		return id, lead, specialists, nil
	}
	if id == o.fallbackTeam || o.fallbackTeam == "" {
		return "", domain.AgentConfig{}, nil, fmt.Errorf("resolve team %q: %w", id, err)
	}

	metrics.TeamFallbacks.Inc()
	o.logger.Warn("team resolution failed, using built-in team", "team", id, "fallback", o.fallbackTeam, "err", err)
	lead, specialists, ferr := o.teamMembers(o.fallbackTeam)
	if ferr != nil {
		return "", domain.AgentConfig{}, nil, fmt.Errorf("resolve built-in team %q: %w", o.fallbackTeam, ferr)
	}
	return o.fallbackTeam, lead, specialists, nil
}

func (o *Orchestrator) teamMembers(teamID string) (domain.AgentConfig, []domain.AgentConfig, error) {
	team, err := o.catalog.Team(teamID)
	if err != nil {
		return domain.AgentConfig{}, nil, err
	}
	lead, err := o.catalog.Agent(team.LeadAgentID)
	if err != nil {
		return domain.AgentConfig{}, nil, fmt.Errorf("lead %q: %w", team.LeadAgentID, err)
	}
	specialists := make([]domain.AgentConfig, 0, len(team.SpecialistIDs))
	for _, sid := range team.SpecialistIDs {
		if sid == lead.ID {
			continue
		}
		spec, err := o.catalog.Agent(sid)
		if err != nil {
			o.logger.Warn("skipping unknown specialist", "team", teamID, "agent", sid)
			continue
		}
		specialists = append(specialists, spec)
	}
	return lead, specialists, nil
}

// Run executes a prepared turn, writing frames to sink. The returned error
// is non-nil only when the turn failed after streaming began; in that case
// a single error frame has been sent.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, sink EventSink) error {
	metrics.ChatRequestsTotal.Inc()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	start := time.Now()
	defer metrics.TurnLatency.ObserveSince(start)

	if turn.Mode == domain.ModeSpecific {
		return o.runDirect(ctx, turn, sink)
	}
	return o.runTeam(ctx, turn, sink)
}

func (o *Orchestrator) runTeam(ctx context.Context, turn *Turn, sink EventSink) error {
	lead := turn.Lead
	e := newEmitter(sink)
	e.transition(domain.PhasePlanning)

	catalog := make([]SpecialistDescriptor, 0, len(turn.Specialists))
	byID := make(map[string]domain.AgentConfig, len(turn.Specialists))
	for _, s := range turn.Specialists {
		catalog = append(catalog, SpecialistDescriptor{ID: s.ID, Name: s.Name, Description: s.Description})
		byID[s.ID] = s
	}

	sel := o.selector.Select(ctx, lead, catalog, turn.Input).Value
	if err := e.send(domain.ChatEvent{
		Author:          lead.ID,
		Phase:           domain.PhasePlanning,
		Partial:         true,
		PlanText:        sel.PlanText,
		ConsultedAgents: sel.AgentIDs,
	}); err != nil {
		return err
	}

	input := turn.Input
	if len(sel.AgentIDs) > 0 {
		e.transition(domain.PhaseConsulting)
		chosen := make([]domain.AgentConfig, 0, len(sel.AgentIDs))
		for _, id := range sel.AgentIDs {
			chosen = append(chosen, byID[id])
		}
		notes := o.coordinator.Consult(ctx, chosen, turn.Input, func(ev ConsultEvent) {
			_ = e.send(domain.ChatEvent{
				Author:           lead.ID,
				Phase:            domain.PhaseConsulting,
				Partial:          true,
				ConsultingAgent:  ev.SpecialistID,
				ConsultingStatus: ev.Status,
			})
		})
		input = InsertBeforeNewestUser(turn.Input, BriefingItem(notes))
	}

	final, err := o.synth.Synthesize(ctx, WithAugmentedInstructions(lead, leadTeamInstructions), input, func(delta string) error {
		e.transition(domain.PhaseAnswering)
		return e.send(domain.ChatEvent{
			Author:  lead.ID,
			Phase:   domain.PhaseAnswering,
			Content: delta,
			Partial: true,
		})
	})
	if err != nil {
		return o.fail(ctx, e, lead.ID, err)
	}

	e.transition(domain.PhaseAnswering)
	e.transition(domain.PhaseDone)
	if err := e.send(domain.ChatEvent{
		Author:          lead.ID,
		Phase:           domain.PhaseDone,
		Content:         final,
		Partial:         false,
		IsFinal:         true,
		PlanText:        sel.PlanText,
		ConsultedAgents: sel.AgentIDs,
	}); err != nil {
		return err
	}

	o.persistAssistant(ctx, turn.SessionID, domain.MessageRecord{
		Content:         final,
		Agent:           lead.ID,
		ConsultedAgents: sel.AgentIDs,
		PlanText:        sel.PlanText,
	})
	return nil
}

func (o *Orchestrator) runDirect(ctx context.Context, turn *Turn, sink EventSink) error {
	agent := turn.Lead
	e := newEmitter(sink)

	events := make(chan domain.RunEvent, 64)
	type result struct {
		res *domain.RunResult
		err error
	}
	done := make(chan result, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		res, err := o.runner.RunStream(runCtx, agent, turn.Input, events)
		done <- result{res, err}
	}()

	var sb strings.Builder
	var sendErr error
	for ev := range events {
		if sendErr != nil {
			continue
		}
		switch ev.Type {
		case domain.RunAgentUpdated:
			sendErr = e.send(domain.ChatEvent{Author: firstNonEmpty(ev.Agent, agent.ID), Partial: true})
		case domain.RunTextDelta:
			if ev.Delta == "" {
				continue
			}
			sb.WriteString(ev.Delta)
			sendErr = e.send(domain.ChatEvent{Author: agent.ID, Content: ev.Delta, Partial: true})
		}
		if sendErr != nil {
			cancel()
		}
	}
	r := <-done
	if sendErr != nil {
		return sendErr
	}
	if r.err != nil {
		return o.fail(ctx, e, agent.ID, r.err)
	}

	final := FinalText(r.res, sb.String())
	if err := e.send(domain.ChatEvent{Author: agent.ID, Content: final, Partial: false, IsFinal: true}); err != nil {
		return err
	}
	o.persistAssistant(ctx, turn.SessionID, domain.MessageRecord{Content: final, Agent: agent.ID})
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, e *emitter, agentID string, err error) error {
	metrics.SynthesisFailures.Inc()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		o.logger.Info("turn cancelled by client", "agent", agentID)
	} else {
		o.logger.Error("agent run failed", "agent", agentID, "err", err)
	}
	_ = e.fail(err.Error())
	return err
}

// persistAssistant stores the final turn even if the client has gone away
// after receiving it.
func (o *Orchestrator) persistAssistant(ctx context.Context, sessionID string, rec domain.MessageRecord) {
	if err := o.sessions.SaveAssistant(context.WithoutCancel(ctx), sessionID, rec); err != nil {
		o.logger.Warn("failed to persist assistant turn", "session", sessionID, "err", err)
	}
}

// emitter serializes frames to a sink, tracks the phase, and stops
// forwarding after the final frame, an error frame, or a write failure.
type emitter struct {
	mu     sync.Mutex
	sink   EventSink
	phase  domain.Phase
	closed bool
	err    error
}

func newEmitter(sink EventSink) *emitter {
	return &emitter{sink: sink}
}

// transition moves to next if it is later than the current phase and
// reports whether the phase changed.
func (e *emitter) transition(next domain.Phase) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if next.Rank() <= e.phase.Rank() {
		return false
	}
	e.phase = next
	return true
}

func (e *emitter) send(ev domain.ChatEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if e.closed {
		return nil
	}
	if err := e.sink.Send(ev); err != nil {
		e.err = err
		return err
	}
	if ev.IsFinal {
		e.closed = true
	}
	return nil
}

func (e *emitter) fail(message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = domain.PhaseDone
	if e.err != nil || e.closed {
		return e.err
	}
	e.closed = true
	if err := e.sink.Fail(message); err != nil {
		e.err = err
		return err
	}
	return nil
}
