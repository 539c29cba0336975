package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"huddle/internal/domain"
	"huddle/internal/metrics"
)

// ProviderResolver resolves a provider by name; the empty name selects the
// default provider.
type ProviderResolver interface {
	Get(name string) (domain.Provider, error)
}

// ProviderRunner implements domain.AgentRunner on top of chat-completion
// providers. The agent's instructions become the system message.
type ProviderRunner struct {
	providers ProviderResolver
	fallback  domain.Provider
	maxTokens int
	logger    *slog.Logger
}

// RunnerConfig configures a ProviderRunner.
type RunnerConfig struct {
	Providers ProviderResolver
	Default   domain.Provider // used when an agent names no provider
	MaxTokens int
	Logger    *slog.Logger
}

func NewProviderRunner(cfg RunnerConfig) *ProviderRunner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ProviderRunner{
		providers: cfg.Providers,
		fallback:  cfg.Default,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

func (r *ProviderRunner) provider(agent domain.AgentConfig) (domain.Provider, error) {
	if agent.Provider == "" && r.fallback != nil {
		return r.fallback, nil
	}
	if r.providers == nil {
		return nil, fmt.Errorf("agent %s: no provider configured", agent.ID)
	}
	p, err := r.providers.Get(agent.Provider)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
	}
	return p, nil
}

func (r *ProviderRunner) request(agent domain.AgentConfig, input []domain.InputItem) domain.ChatRequest {
	msgs := make([]domain.Message, 0, len(input)+1)
	if strings.TrimSpace(agent.Instructions) != "" {
		msgs = append(msgs, domain.Message{Role: "system", Content: agent.Instructions})
	}
	for _, it := range input {
		m := domain.Message{Role: it.Role}
		if it.Role == "user" && hasMedia(it) {
			m.Parts = it.Content
		} else {
			m.Content = it.Text()
		}
		msgs = append(msgs, m)
	}
	maxTokens := agent.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.maxTokens
	}
	return domain.ChatRequest{
		Messages:       msgs,
		Model:          agent.Model,
		MaxTokens:      maxTokens,
		Temperature:    agent.Temperature,
		ResponseSchema: agent.OutputSchema,
	}
}

func hasMedia(it domain.InputItem) bool {
	for _, p := range it.Content {
		if p.Type != domain.PartText {
			return true
		}
	}
	return false
}

// Run invokes the agent without streaming.
func (r *ProviderRunner) Run(ctx context.Context, agent domain.AgentConfig, input []domain.InputItem) (*domain.RunResult, error) {
	p, err := r.provider(agent)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	metrics.LLMRequestsTotal.Inc()
	resp, err := p.Chat(ctx, r.request(agent, input))
	metrics.LLMLatency.ObserveSince(start)
	if err != nil {
		metrics.LLMErrorsTotal.Inc()
		return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
	}

	r.logger.Debug("agent run completed",
		"agent", agent.ID,
		"provider", p.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)

	final, err := finalOutput(agent, resp.Content)
	if err != nil {
		return nil, err
	}
	return &domain.RunResult{FinalOutput: final, Usage: resp.Usage}, nil
}

// RunStream invokes the agent and relays text deltas on out, preceded by a
// single RunAgentUpdated event. out is closed on return.
func (r *ProviderRunner) RunStream(ctx context.Context, agent domain.AgentConfig, input []domain.InputItem, out chan<- domain.RunEvent) (*domain.RunResult, error) {
	defer close(out)

	p, err := r.provider(agent)
	if err != nil {
		return nil, err
	}
	if err := send(ctx, out, domain.RunEvent{Type: domain.RunAgentUpdated, Agent: agent.ID}); err != nil {
		return nil, err
	}

	start := time.Now()
	metrics.LLMRequestsTotal.Inc()
	defer metrics.LLMLatency.ObserveSince(start)

	sp, ok := p.(domain.StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, r.request(agent, input))
		if err != nil {
			metrics.LLMErrorsTotal.Inc()
			return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
		}
		if resp.Content != "" {
			if err := send(ctx, out, domain.RunEvent{Type: domain.RunTextDelta, Delta: resp.Content}); err != nil {
				return nil, err
			}
		}
		final, err := finalOutput(agent, resp.Content)
		if err != nil {
			return nil, err
		}
		return &domain.RunResult{FinalOutput: final, Usage: resp.Usage}, nil
	}

	streamCh := make(chan domain.StreamEvent, 64)
	streamErrCh := make(chan error, 1)
	go func() {
		streamErrCh <- sp.ChatStream(ctx, r.request(agent, input), streamCh)
	}()

	var sb strings.Builder
	var usage domain.Usage
	var relayErr error
	for ev := range streamCh {
		if relayErr != nil {
			continue
		}
		switch ev.Type {
		case domain.StreamToken:
			sb.WriteString(ev.Content)
			relayErr = send(ctx, out, domain.RunEvent{Type: domain.RunTextDelta, Delta: ev.Content})
		case domain.StreamDone:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case domain.StreamError:
			relayErr = fmt.Errorf("stream error: %s", ev.Content)
		}
	}
	if err := <-streamErrCh; err != nil {
		metrics.LLMErrorsTotal.Inc()
		return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
	}
	if relayErr != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.ID, relayErr)
	}

	final, err := finalOutput(agent, sb.String())
	if err != nil {
		return nil, err
	}
	return &domain.RunResult{FinalOutput: final, Usage: usage}, nil
}

func send(ctx context.Context, out chan<- domain.RunEvent, ev domain.RunEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finalOutput decodes structured output for agents with an OutputSchema and
// returns plain text otherwise.
func finalOutput(agent domain.AgentConfig, content string) (any, error) {
	if agent.OutputSchema == nil {
		return content, nil
	}
	var v any
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &v); err != nil {
		return nil, fmt.Errorf("agent %s: structured output: %w", agent.ID, err)
	}
	return v, nil
}

// stripCodeFence removes a surrounding ```json fence some models add even
// when asked for bare JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
