package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"huddle/internal/domain"
	"huddle/internal/metrics"
)

// ConsultationNote is one specialist's private notes for the lead.
type ConsultationNote struct {
	SpecialistID string
	Text         string
	Degraded     DegradedReason
}

// ConsultEvent reports a specialist starting or finishing.
type ConsultEvent struct {
	SpecialistID string
	Status       domain.ConsultingStatus
}

// Coordinator runs the selected specialists concurrently and assembles
// their notes into a briefing for the lead.
type Coordinator struct {
	runner          domain.AgentRunner
	outputChars     int
	transcriptChars int
	transcriptItems int
	timeout         time.Duration
	logger          *slog.Logger
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Runner          domain.AgentRunner
	OutputChars     int
	TranscriptChars int
	TranscriptItems int
	Timeout         time.Duration // per specialist call
	Logger          *slog.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OutputChars <= 0 {
		cfg.OutputChars = 6000
	}
	if cfg.TranscriptChars <= 0 {
		cfg.TranscriptChars = 16000
	}
	if cfg.TranscriptItems <= 0 {
		cfg.TranscriptItems = 16
	}
	return &Coordinator{
		runner:          cfg.Runner,
		outputChars:     cfg.OutputChars,
		transcriptChars: cfg.TranscriptChars,
		transcriptItems: cfg.TranscriptItems,
		timeout:         cfg.Timeout,
		logger:          cfg.Logger,
	}
}

// Consult invokes every specialist in parallel and waits for all of them.
// A failing specialist yields an inline error note instead of an error, so
// the returned slice always has one note per specialist in input order.
// emit is called right before each invocation and right after it settles;
// it must be safe for concurrent use.
func (c *Coordinator) Consult(ctx context.Context, specialists []domain.AgentConfig, input []domain.InputItem, emit func(ConsultEvent)) []ConsultationNote {
	notes := make([]ConsultationNote, len(specialists))
	if len(specialists) == 0 {
		return notes
	}

	transcript := TranscriptText(input, c.transcriptChars, c.transcriptItems)
	prompt := []domain.InputItem{{
		Role:    "user",
		Content: []domain.ContentPart{{Type: domain.PartText, Text: consultPrompt(transcript)}},
	}}

	// The join is all-settled: consultOne turns every failure into a note,
	// so no goroutine returns an error and none cancels its siblings.
	var g errgroup.Group
	g.SetLimit(len(specialists))
	for i, spec := range specialists {
		g.Go(func() error {
			notes[i] = c.consultOne(ctx, spec, prompt, emit)
			return nil
		})
	}
	g.Wait()
	return notes
}

func (c *Coordinator) consultOne(ctx context.Context, spec domain.AgentConfig, prompt []domain.InputItem, emit func(ConsultEvent)) ConsultationNote {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	consultant := WithAugmentedInstructions(spec, consultInstructions)

	metrics.ConsultationsTotal.Inc()
	emit(ConsultEvent{SpecialistID: spec.ID, Status: domain.ConsultStarted})
	start := time.Now()
	res, err := c.runner.Run(ctx, consultant, prompt)
	metrics.SpecialistLatency.ObserveSince(start)
	emit(ConsultEvent{SpecialistID: spec.ID, Status: domain.ConsultCompleted})

	if err != nil {
		metrics.SpecialistFailures.Inc()
		c.logger.Warn("specialist consult failed", "agent", spec.ID, "err", err)
		return ConsultationNote{
			SpecialistID: spec.ID,
			Text:         fmt.Sprintf("(consultation with %s failed: %v)", spec.ID, err),
			Degraded:     DegradedSpecialist,
		}
	}

	c.logger.Debug("specialist consulted", "agent", spec.ID, "duration_ms", time.Since(start).Milliseconds())
	return ConsultationNote{
		SpecialistID: spec.ID,
		Text:         Truncate(strings.TrimSpace(FinalText(res, "")), c.outputChars),
	}
}

// Briefing renders notes as "[id]\ntext" blocks under the internal header.
func Briefing(notes []ConsultationNote) string {
	var sb strings.Builder
	sb.WriteString(briefingHeader)
	for _, n := range notes {
		fmt.Fprintf(&sb, "\n\n[%s]\n%s", n.SpecialistID, n.Text)
	}
	return sb.String()
}

// BriefingItem wraps the briefing as a synthetic assistant input item.
func BriefingItem(notes []ConsultationNote) domain.InputItem {
	return domain.InputItem{
		Role:    "assistant",
		Content: []domain.ContentPart{{Type: domain.PartText, Text: Briefing(notes)}},
	}
}
