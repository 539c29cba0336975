package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"huddle/internal/domain"
)

const defaultTitle = "New chat"

// SessionManager wraps the session store with the bookkeeping a chat turn
// needs. A nil manager, or one without a store, behaves as a stateless
// no-op so the service can run with persistence disabled.
type SessionManager struct {
	store        domain.SessionStore
	historyLimit int
	logger       *slog.Logger
	mu           sync.Mutex
}

func NewSessionManager(store domain.SessionStore, historyLimit int, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 200
	}
	return &SessionManager{store: store, historyLimit: historyLimit, logger: logger}
}

func (sm *SessionManager) enabled() bool { return sm != nil && sm.store != nil }

// Open returns the stored session with id, creating it when absent. The
// second result reports whether the session existed before the call.
func (sm *SessionManager) Open(ctx context.Context, id, teamID string) (*domain.Session, bool, error) {
	if !sm.enabled() || id == "" {
		return nil, false, nil
	}
	s, err := sm.store.GetSession(ctx, id)
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Re-check under lock; a concurrent request may have created it.
	if s, err := sm.store.GetSession(ctx, id); err == nil {
		return s, true, nil
	}
	now := time.Now().UTC()
	s = &domain.Session{ID: id, Title: defaultTitle, TeamID: teamID, CreatedAt: now, UpdatedAt: now}
	if err := sm.store.CreateSession(ctx, *s); err != nil {
		return nil, false, err
	}
	sm.logger.Info("created new session", "session", id, "team", teamID)
	return s, false, nil
}

// History returns the stored turns of a session, oldest first.
func (sm *SessionManager) History(ctx context.Context, id string) ([]domain.ChatMessage, error) {
	if !sm.enabled() || id == "" {
		return nil, nil
	}
	records, err := sm.store.GetMessages(ctx, id, sm.historyLimit)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, r.ChatMessage())
	}
	return msgs, nil
}

// SaveUser stores the user's turn and names untitled sessions after it.
func (sm *SessionManager) SaveUser(ctx context.Context, id string, msg domain.ChatMessage) error {
	if !sm.enabled() || id == "" {
		return nil
	}
	err := sm.store.AddMessage(ctx, id, domain.MessageRecord{
		SessionID:   id,
		Role:        "user",
		Content:     msg.Content,
		Attachments: msg.Attachments,
	})
	if err != nil {
		return err
	}
	sm.updateTitle(ctx, id, msg.Content)
	return nil
}

// SaveAssistant stores the assistant's final turn.
func (sm *SessionManager) SaveAssistant(ctx context.Context, id string, rec domain.MessageRecord) error {
	if !sm.enabled() || id == "" {
		return nil
	}
	rec.SessionID = id
	rec.Role = "assistant"
	return sm.store.AddMessage(ctx, id, rec)
}

// Memories returns the saved memories of an agent. Lookup errors are
// logged and treated as no memories.
func (sm *SessionManager) Memories(ctx context.Context, agentID string) []domain.AgentMemory {
	if !sm.enabled() {
		return nil
	}
	mems, err := sm.store.ListAgentMemories(ctx, agentID)
	if err != nil {
		sm.logger.Warn("failed to load agent memories", "agent", agentID, "err", err)
		return nil
	}
	return mems
}

func (sm *SessionManager) updateTitle(ctx context.Context, id, firstUserMsg string) {
	s, err := sm.store.GetSession(ctx, id)
	if err != nil {
		return
	}
	if s.Title != "" && s.Title != defaultTitle {
		return
	}
	title := generateTitle(firstUserMsg)
	if title == defaultTitle {
		return
	}
	s.Title = title
	if err := sm.store.UpdateSession(ctx, *s); err != nil {
		sm.logger.Warn("failed to update session title", "session", id, "err", err)
	}
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return defaultTitle
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	runes := []rune(msg)
	if len(runes) > 60 {
		head := string(runes[:60])
		cut := strings.LastIndex(head, " ")
		if cut < 20 {
			cut = len(head)
		}
		msg = head[:cut] + "..."
	}
	return msg
}
