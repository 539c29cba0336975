package domain

import "encoding/json"

// Phase is a stage of a team orchestration. Phases only move forward.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseConsulting Phase = "consulting"
	PhaseAnswering  Phase = "answering"
	PhaseDone       Phase = "done"
)

var phaseRank = map[Phase]int{
	PhasePlanning:   1,
	PhaseConsulting: 2,
	PhaseAnswering:  3,
	PhaseDone:       4,
}

// Rank orders phases; unknown phases rank zero.
func (p Phase) Rank() int { return phaseRank[p] }

// ConsultingStatus marks the start or end of a single specialist consult.
type ConsultingStatus string

const (
	ConsultStarted   ConsultingStatus = "started"
	ConsultCompleted ConsultingStatus = "completed"
)

// ChatEvent is one frame of the outbound event stream.
type ChatEvent struct {
	Author           string
	Phase            Phase
	Content          string
	Partial          bool
	IsFinal          bool
	PlanText         string
	ConsultedAgents  []string
	ConsultingAgent  string
	ConsultingStatus ConsultingStatus
}

// chatEventWire is the JSON layout of a ChatEvent. Optional members are
// pointers so MarshalJSON decides per frame kind which ones are present.
type chatEventWire struct {
	Author           string           `json:"author"`
	Phase            Phase            `json:"phase,omitempty"`
	Content          *string          `json:"content,omitempty"`
	Partial          bool             `json:"partial"`
	IsFinal          bool             `json:"isFinal"`
	PlanText         string           `json:"planText,omitempty"`
	ConsultedAgents  *[]string        `json:"consultedAgents,omitempty"`
	ConsultingAgent  string           `json:"consultingAgent,omitempty"`
	ConsultingStatus ConsultingStatus `json:"consultingStatus,omitempty"`
}

// MarshalJSON writes the frame. Planning and done frames always carry
// consultedAgents, as [] when nobody was consulted. Content is left out of
// empty phase frames; direct frames (no phase) and final frames keep it.
func (e ChatEvent) MarshalJSON() ([]byte, error) {
	w := chatEventWire{
		Author:           e.Author,
		Phase:            e.Phase,
		Partial:          e.Partial,
		IsFinal:          e.IsFinal,
		PlanText:         e.PlanText,
		ConsultingAgent:  e.ConsultingAgent,
		ConsultingStatus: e.ConsultingStatus,
	}
	if e.Content != "" || e.IsFinal || e.Phase == "" {
		content := e.Content
		w.Content = &content
	}
	if e.Phase == PhasePlanning || e.Phase == PhaseDone || len(e.ConsultedAgents) > 0 {
		agents := e.ConsultedAgents
		if agents == nil {
			agents = []string{}
		}
		w.ConsultedAgents = &agents
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a frame written by MarshalJSON.
func (e *ChatEvent) UnmarshalJSON(data []byte) error {
	var w chatEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = ChatEvent{
		Author:           w.Author,
		Phase:            w.Phase,
		Partial:          w.Partial,
		IsFinal:          w.IsFinal,
		PlanText:         w.PlanText,
		ConsultingAgent:  w.ConsultingAgent,
		ConsultingStatus: w.ConsultingStatus,
	}
	if w.Content != nil {
		e.Content = *w.Content
	}
	if w.ConsultedAgents != nil {
		e.ConsultedAgents = *w.ConsultedAgents
	}
	return nil
}

// ErrorEvent is the single frame sent when a run fails after the stream
// has started.
type ErrorEvent struct {
	Error string `json:"error"`
}

// TurnRequest is the inbound request for one conversational turn.
type TurnRequest struct {
	Messages        []ChatMessage `json:"messages"`
	SessionID       string        `json:"sessionId,omitempty"`
	AgentMode       AgentMode     `json:"agentMode,omitempty"`
	SelectedAgentID string        `json:"selectedAgentId,omitempty"`
	TeamID          string        `json:"teamId,omitempty"`
}

// AgentMode selects between team orchestration and a direct single-agent run.
type AgentMode string

const (
	ModeTeam     AgentMode = "all"
	ModeSpecific AgentMode = "specific"
)
