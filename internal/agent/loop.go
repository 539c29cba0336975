package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"huddle/internal/domain"
	"huddle/internal/metrics"
)

const (
	defaultConcurrency = 3
	turnTimeout        = 5 * time.Minute
)

// Loop serves bus-driven channels such as Telegram: it turns each inbound
// message into a team turn and sends the final answer back.
type Loop struct {
	orchestrator *Orchestrator
	catalog      domain.Catalog
	bus          domain.MessageBus
	limiter      *KeyedLimiter
	logger       *slog.Logger
	concurrency  int

	mu    sync.Mutex
	chats map[string]*chatState
}

// chatState is the per-chat selection a user changes with commands.
type chatState struct {
	sessionID string
	teamID    string
}

// LoopConfig holds all dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Orchestrator *Orchestrator
	Catalog      domain.Catalog
	Bus          domain.MessageBus
	Limiter      *KeyedLimiter // optional
	Logger       *slog.Logger
	Concurrency  int // max parallel messages (default 3)
}

// NewLoop creates a new loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		orchestrator: cfg.Orchestrator,
		catalog:      cfg.Catalog,
		bus:          cfg.Bus,
		limiter:      cfg.Limiter,
		logger:       cfg.Logger,
		concurrency:  cfg.Concurrency,
		chats:        make(map[string]*chatState),
	}
}

// Run consumes inbound messages and processes them with bounded concurrency.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("chat loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("chat loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, chat loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect runs one team turn synchronously and returns the reply text.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	}, "")
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	if cmd := ParseCommand(msg.Content); cmd != nil {
		if res := l.HandleCommand(ctx, cmd, msg); res.Handled {
			l.reply(msg, res.Response)
			return
		}
	}

	if l.limiter != nil && !l.limiter.Allow(chatKey(msg)) {
		metrics.RateLimitedTotal.Inc()
		l.reply(msg, "You're sending messages too quickly. Please wait a moment and try again.")
		return
	}

	response, err := l.handleMessage(ctx, msg, "")
	if err != nil {
		l.logger.Error("message processing failed", "err", err)
		response = fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
	}
	l.reply(msg, response)
}

func (l *Loop) reply(msg domain.InboundMessage, content string) {
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Format:  "markdown",
	})
}

// handleMessage runs one turn for msg. An empty agentID consults the
// chat's team; otherwise that agent answers alone.
func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage, agentID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	state := l.state(msg)
	req := domain.TurnRequest{
		Messages:  []domain.ChatMessage{{Role: "user", Content: msg.Content}},
		SessionID: state.sessionID,
		TeamID:    firstNonEmpty(msg.TeamID, state.teamID),
		AgentMode: domain.ModeTeam,
	}
	if agentID != "" {
		req.AgentMode = domain.ModeSpecific
		req.SelectedAgentID = agentID
	}

	var final domain.ChatEvent
	var failure string
	sink := FuncSink{
		OnEvent: func(ev domain.ChatEvent) error {
			if ev.IsFinal {
				final = ev
			}
			return nil
		},
		OnError: func(message string) error {
			failure = message
			return nil
		},
	}
	if err := l.orchestrator.Handle(ctx, req, sink); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return verr.Error(), nil
		}
		if errors.Is(err, domain.ErrAgentNotFound) {
			return fmt.Sprintf("Unknown agent %q. Use /agents to list them.", agentID), nil
		}
		return "", err
	}
	if failure != "" {
		return "", errors.New(failure)
	}
	return FormatReply(final), nil
}

// FormatReply renders a final frame for plain-text channels, prefixing the
// plan when specialists were consulted.
func FormatReply(ev domain.ChatEvent) string {
	content := strings.TrimSpace(ev.Content)
	if len(ev.ConsultedAgents) == 0 || ev.PlanText == "" {
		return content
	}
	return fmt.Sprintf("_%s_\n\n%s", ev.PlanText, content)
}

func chatKey(msg domain.InboundMessage) string {
	return msg.Channel + ":" + msg.ChatID
}

func (l *Loop) state(msg domain.InboundMessage) chatState {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := chatKey(msg)
	st, ok := l.chats[key]
	if !ok {
		st = &chatState{sessionID: key}
		l.chats[key] = st
	}
	return *st
}

// resetSession points the chat at a fresh session.
func (l *Loop) resetSession(msg domain.InboundMessage) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := chatKey(msg)
	st, ok := l.chats[key]
	if !ok {
		st = &chatState{}
		l.chats[key] = st
	}
	st.sessionID = key + ":" + uuid.NewString()
	return st.sessionID
}

func (l *Loop) setTeam(msg domain.InboundMessage, teamID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := chatKey(msg)
	st, ok := l.chats[key]
	if !ok {
		st = &chatState{sessionID: key}
		l.chats[key] = st
	}
	st.teamID = teamID
}
