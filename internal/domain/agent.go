package domain

import "context"

// AgentType distinguishes a team's lead from its specialists.
type AgentType string

const (
	AgentLead       AgentType = "team_lead"
	AgentSpecialist AgentType = "sub_agent"
)

// AgentConfig describes an agent the runner can invoke. Values are copied
// per request; the catalog's definitions are never modified in place.
type AgentConfig struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description"`
	Instructions string          `json:"-" yaml:"instructions"`
	Type         AgentType       `json:"type" yaml:"type"`
	Provider     string          `json:"provider,omitempty" yaml:"provider"`
	Model        string          `json:"model,omitempty" yaml:"model"`
	Temperature  *float64        `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens    int             `json:"maxTokens,omitempty" yaml:"maxTokens"`
	OutputSchema *ResponseSchema `json:"-" yaml:"-"`
}

// Team groups one lead agent with the specialists it may consult.
type Team struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description,omitempty" yaml:"description"`
	LeadAgentID   string   `json:"leadAgentId" yaml:"lead"`
	SpecialistIDs []string `json:"specialistIds" yaml:"specialists"`
}

// RunEventType classifies an event produced during a streaming agent run.
type RunEventType string

const (
	RunAgentUpdated RunEventType = "agent_updated"
	RunTextDelta    RunEventType = "output_text_delta"
)

// RunEvent is one event from a streaming agent run.
type RunEvent struct {
	Type  RunEventType
	Agent string // agent id for RunAgentUpdated
	Delta string // text for RunTextDelta
}

// RunResult is the settled outcome of an agent run. FinalOutput holds the
// text for plain agents and the decoded JSON value for agents with an
// OutputSchema.
type RunResult struct {
	FinalOutput any
	Usage       Usage
}

// AgentRunner invokes agents against a model backend.
type AgentRunner interface {
	Run(ctx context.Context, agent AgentConfig, input []InputItem) (*RunResult, error)
	// RunStream delivers events on out and closes it before returning.
	RunStream(ctx context.Context, agent AgentConfig, input []InputItem, out chan<- RunEvent) (*RunResult, error)
}
