package main

import (
	"os"
	"path/filepath"
)

const exampleTeamYAML = `# Example team. Files in this directory are loaded at startup; an agent or
# team with the same id as a built-in one replaces it.
agents:
  - id: product_lead
    name: Product Lead
    type: team_lead
    description: Owns the roadmap and answers product questions.
    instructions: |
      You lead a small product team. Decide what to build next and explain
      the trade-offs plainly. Use your specialists' notes when they help.

  - id: ux_researcher
    name: UX Researcher
    type: sub_agent
    description: User interviews, usability findings, and onboarding friction.
    instructions: |
      You study how users experience the product. Point at evidence and
      suggest the smallest test that would settle an open question.

teams:
  - id: product_team
    name: Product Team
    lead: product_lead
    specialists:
      - ux_researcher
      - product_technical_advisor
`

// writeExampleTeam writes example_team.yaml into dir unless it already
// exists. It returns the file path.
func writeExampleTeam(dir string, overwrite bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "example_team.yaml")
	if _, err := os.Stat(path); err == nil && !overwrite {
		return path, nil
	}
	return path, os.WriteFile(path, []byte(exampleTeamYAML), 0o644)
}
