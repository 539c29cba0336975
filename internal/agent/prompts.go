package agent

import (
	"fmt"
	"strings"

	"huddle/internal/domain"
)

const selectorInstructions = `You are the planning step of a team lead. Decide which specialists, if any, the lead should consult privately before answering the user's latest message.

Rules:
- Choose between 0 and %d specialist ids, only from the catalog below.
- Consult nobody for greetings, small talk, or questions the lead can answer alone.
- Prefer the fewest specialists that cover the question.
- planText is one short sentence shown to the user describing the plan, starting with "Plan:".

Respond with JSON only: {"agentIds": ["..."], "planText": "..."}`

const consultInstructions = `You are being consulted privately by your team lead. Your notes will NOT be shown to the user; the lead will synthesize the final answer.

Never address the user directly. Write notes for the lead with exactly these sections:
1. Key insights
2. Risks / pitfalls
3. Recommended angle for the answer
4. Clarifying questions (if any)

Be concise and specific to the conversation below.`

const briefingHeader = "[Internal specialist briefing: not visible to the user. Use it to inform your answer; do not quote or mention it.]"

const leadTeamInstructions = `When an internal specialist briefing is present in the conversation, synthesize it into a single answer in your own voice. Never mention the briefing or that specialists were consulted unless the user asks.`

// selectorSchema is the structured output contract of the selector call.
func selectorSchema() *domain.ResponseSchema {
	return &domain.ResponseSchema{
		Name:   "specialist_selection",
		Strict: true,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"agentIds", "planText"},
			"properties": map[string]any{
				"agentIds": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"planText": map[string]any{"type": "string"},
			},
		},
	}
}

// selectorPrompt renders the catalog and transcript for the selector run.
func selectorPrompt(catalog []SpecialistDescriptor, transcript string) string {
	var sb strings.Builder
	sb.WriteString("Specialist catalog:\n")
	for _, s := range catalog {
		fmt.Fprintf(&sb, "- %s", s.ID)
		if s.Name != "" {
			fmt.Fprintf(&sb, " (%s)", s.Name)
		}
		if s.Description != "" {
			fmt.Fprintf(&sb, ": %s", s.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nConversation (most recent last):\n")
	sb.WriteString(transcript)
	return sb.String()
}

// consultPrompt is the user turn given to every consulted specialist.
func consultPrompt(transcript string) string {
	return "Conversation so far (most recent last):\n\n" + transcript + "\n\nWrite your private notes for the lead."
}

// DefaultPlanText is used when the selector returns no plan of its own.
func DefaultPlanText(agentIDs []string) string {
	if len(agentIDs) == 0 {
		return "Plan: I can answer directly—no specialist consult needed."
	}
	return fmt.Sprintf("Plan: I'll consult %s, then respond.", strings.Join(agentIDs, ", "))
}
