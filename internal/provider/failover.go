package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"huddle/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the next
// one when the current fails. It implements both Provider and StreamingProvider.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
// At least one provider is required.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat tries each provider in order. Returns the first successful response.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range fp.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// ChatStream streams from the first provider that accepts the request. Each
// attempt gets its own channel; a provider is abandoned for the next one
// only if it fails before producing any token, so partial output is never
// duplicated. out is closed on return.
func (fp *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	var lastErr error
	for i, p := range fp.providers {
		forwarded, err := fp.streamOne(ctx, p, req, out)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: streamed from fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return nil
		}
		if forwarded || ctx.Err() != nil {
			return err
		}
		lastErr = err
		fp.logger.Warn("failover: stream failed before output, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// streamOne runs a single provider and relays its events to out. It
// reports whether any token reached out.
func (fp *FailoverProvider) streamOne(ctx context.Context, p domain.Provider, req domain.ChatRequest, out chan<- domain.StreamEvent) (bool, error) {
	sp, ok := p.(domain.StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return false, err
		}
		if resp.Content != "" {
			out <- domain.StreamEvent{Type: domain.StreamToken, Content: resp.Content}
		}
		out <- domain.StreamEvent{Type: domain.StreamDone, Usage: &resp.Usage}
		return true, nil
	}

	ch := make(chan domain.StreamEvent, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- sp.ChatStream(ctx, req, ch)
	}()

	forwarded := false
	for ev := range ch {
		if ev.Type == domain.StreamToken {
			forwarded = true
		}
		out <- ev
	}
	return forwarded, <-errCh
}
