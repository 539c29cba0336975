package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// SessionStore handles persistent storage of chat sessions, their messages,
// and per-agent saved memories.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s Session) error
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error

	AddMessage(ctx context.Context, sessionID string, msg MessageRecord) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error)

	SaveAgentMemory(ctx context.Context, mem AgentMemory) error
	ListAgentMemories(ctx context.Context, agentID string) ([]AgentMemory, error)
	DeleteAgentMemory(ctx context.Context, id string) error

	Close() error
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TeamID    string    `json:"teamId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageRecord is a stored conversation turn. Assistant turns from a team
// run also carry the plan and the specialists consulted.
type MessageRecord struct {
	ID              int64        `json:"id"`
	SessionID       string       `json:"sessionId"`
	Role            string       `json:"role"`
	Content         string       `json:"content"`
	Agent           string       `json:"agent,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	ConsultedAgents []string     `json:"consultedAgents,omitempty"`
	PlanText        string       `json:"planText,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// ChatMessage converts a stored record back into a conversation turn.
func (r MessageRecord) ChatMessage() ChatMessage {
	return ChatMessage{Role: r.Role, Content: r.Content, Attachments: r.Attachments}
}

// AgentMemory is a note saved for one agent and appended to its
// instructions on every run.
type AgentMemory struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
