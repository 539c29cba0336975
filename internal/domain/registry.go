package domain

import "errors"

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrTeamNotFound  = errors.New("team not found")
)

// Catalog resolves agent and team definitions.
type Catalog interface {
	Agent(id string) (AgentConfig, error)
	Team(id string) (Team, error)
	Agents() []AgentConfig
	Teams() []Team
}
