package agent

import (
	"strings"

	"huddle/internal/domain"
)

// WithAugmentedInstructions returns a copy of agent whose instructions end
// with extra. The input value is left untouched.
func WithAugmentedInstructions(agent domain.AgentConfig, extra string) domain.AgentConfig {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return agent
	}
	out := agent
	base := strings.TrimSpace(agent.Instructions)
	if base == "" {
		out.Instructions = extra
	} else {
		out.Instructions = base + "\n\n" + extra
	}
	return out
}

// WithMemories appends the agent's saved memories as a bullet list.
func WithMemories(agent domain.AgentConfig, memories []domain.AgentMemory) domain.AgentConfig {
	var sb strings.Builder
	for _, m := range memories {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("[Saved memories]")
		}
		sb.WriteString("\n- ")
		sb.WriteString(text)
	}
	return WithAugmentedInstructions(agent, sb.String())
}
