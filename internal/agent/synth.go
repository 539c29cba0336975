package agent

import (
	"context"
	"encoding/json"
	"strings"

	"huddle/internal/domain"
)

// FinalText picks the text of a finished run: the final output when it is a
// string, its JSON encoding when it is some other non-nil value, and the
// accumulated deltas otherwise.
func FinalText(res *domain.RunResult, accumulated string) string {
	if res == nil || res.FinalOutput == nil {
		return accumulated
	}
	if s, ok := res.FinalOutput.(string); ok {
		return s
	}
	b, err := json.Marshal(res.FinalOutput)
	if err != nil {
		return accumulated
	}
	return string(b)
}

// Synthesizer streams the lead's final answer.
type Synthesizer struct {
	runner domain.AgentRunner
}

func NewSynthesizer(runner domain.AgentRunner) *Synthesizer {
	return &Synthesizer{runner: runner}
}

// Synthesize runs lead over input, calling onDelta for every output text
// delta in order. Run events other than text deltas are ignored. It returns
// the final text of the run.
func (s *Synthesizer) Synthesize(ctx context.Context, lead domain.AgentConfig, input []domain.InputItem, onDelta func(string) error) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan domain.RunEvent, 64)
	type result struct {
		res *domain.RunResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.runner.RunStream(ctx, lead, input, events)
		done <- result{res, err}
	}()

	var sb strings.Builder
	var deltaErr error
	for ev := range events {
		if ev.Type != domain.RunTextDelta || ev.Delta == "" || deltaErr != nil {
			continue
		}
		sb.WriteString(ev.Delta)
		if deltaErr = onDelta(ev.Delta); deltaErr != nil {
			cancel()
		}
	}
	r := <-done
	if deltaErr != nil {
		return "", deltaErr
	}
	if r.err != nil {
		return "", r.err
	}
	return FinalText(r.res, sb.String()), nil
}
