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

// SpecialistDescriptor is the catalog entry the selector chooses from.
type SpecialistDescriptor struct {
	ID          string
	Name        string
	Description string
}

// Selection is the selector's decision for one turn.
type Selection struct {
	AgentIDs []string
	PlanText string
}

// Selector asks a meta-agent which specialists the lead should consult.
type Selector struct {
	runner          domain.AgentRunner
	maxSpecialists  int
	transcriptChars int
	transcriptItems int
	temperature     float64
	model           string
	provider        string
	timeout         time.Duration
	logger          *slog.Logger
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	Runner          domain.AgentRunner
	MaxSpecialists  int
	TranscriptChars int
	TranscriptItems int
	Temperature     float64
	Model           string // empty: the lead's model
	Provider        string // empty: the lead's provider
	Timeout         time.Duration
	Logger          *slog.Logger
}

func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TranscriptChars <= 0 {
		cfg.TranscriptChars = 12000
	}
	if cfg.TranscriptItems <= 0 {
		cfg.TranscriptItems = 12
	}
	return &Selector{
		runner:          cfg.Runner,
		maxSpecialists:  cfg.MaxSpecialists,
		transcriptChars: cfg.TranscriptChars,
		transcriptItems: cfg.TranscriptItems,
		temperature:     cfg.Temperature,
		model:           cfg.Model,
		provider:        cfg.Provider,
		timeout:         cfg.Timeout,
		logger:          cfg.Logger,
	}
}

// Select returns the specialists to consult. Any failure degrades to no
// consult with the default plan text.
func (s *Selector) Select(ctx context.Context, lead domain.AgentConfig, catalog []SpecialistDescriptor, input []domain.InputItem) Outcome[Selection] {
	if len(catalog) == 0 || s.maxSpecialists <= 0 {
		return Degrade(Selection{PlanText: DefaultPlanText(nil)}, DegradedNoCatalog, nil)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	temp := s.temperature
	meta := domain.AgentConfig{
		ID:           lead.ID + ":selector",
		Name:         "Specialist selector",
		Instructions: fmt.Sprintf(selectorInstructions, s.maxSpecialists),
		Provider:     firstNonEmpty(s.provider, lead.Provider),
		Model:        firstNonEmpty(s.model, lead.Model),
		Temperature:  &temp,
		OutputSchema: selectorSchema(),
	}
	transcript := TranscriptText(input, s.transcriptChars, s.transcriptItems)
	prompt := []domain.InputItem{{
		Role:    "user",
		Content: []domain.ContentPart{{Type: domain.PartText, Text: selectorPrompt(catalog, transcript)}},
	}}

	res, err := s.runner.Run(ctx, meta, prompt)
	if err != nil {
		metrics.SelectorDegraded.Inc()
		s.logger.Warn("specialist selection failed, answering directly", "lead", lead.ID, "err", err)
		return Degrade(Selection{PlanText: DefaultPlanText(nil)}, DegradedSelectorCall, err)
	}

	raw, err := decodeSelection(res.FinalOutput)
	if err != nil {
		metrics.SelectorDegraded.Inc()
		s.logger.Warn("specialist selection unreadable, answering directly", "lead", lead.ID, "err", err)
		return Degrade(Selection{PlanText: DefaultPlanText(nil)}, DegradedSelectorJSON, err)
	}

	ids := NormalizeSelection(raw.AgentIDs, catalog, s.maxSpecialists)
	plan := strings.TrimSpace(raw.PlanText)
	if plan == "" {
		plan = DefaultPlanText(ids)
	}
	s.logger.Info("specialists selected", "lead", lead.ID, "agents", ids)
	return Ok(Selection{AgentIDs: ids, PlanText: plan})
}

type rawSelection struct {
	AgentIDs []any `json:"agentIds"`
	PlanText string `json:"planText"`
}

// decodeSelection accepts the decoded JSON value or a JSON string.
func decodeSelection(v any) (rawSelection, error) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(stripCodeFence(t))
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return rawSelection{}, err
		}
		data = b
	}
	var raw rawSelection
	if err := json.Unmarshal(data, &raw); err != nil {
		return rawSelection{}, fmt.Errorf("decode selection: %w", err)
	}
	return raw, nil
}

// NormalizeSelection trims, de-duplicates, drops ids outside the catalog and
// caps the result at max, preserving first-seen order. Non-string entries
// are ignored.
func NormalizeSelection(raw []any, catalog []SpecialistDescriptor, max int) []string {
	known := make(map[string]bool, len(catalog))
	for _, c := range catalog {
		known[c.ID] = true
	}
	seen := make(map[string]bool)
	ids := make([]string, 0, max)
	for _, r := range raw {
		if len(ids) >= max {
			break
		}
		id, ok := r.(string)
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		if id == "" || seen[id] || !known[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
