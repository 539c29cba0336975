package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"huddle/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "huddle.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SessionLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, domain.Session{ID: "s-1", Title: "Runway", TeamID: "founder_team"}); err != nil {
		t.Fatal(err)
	}

	sess, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Title != "Runway" || sess.TeamID != "founder_team" {
		t.Fatalf("expected Runway/founder_team, got %s/%s", sess.Title, sess.TeamID)
	}

	sess.Title = "Runway plan"
	if err := store.UpdateSession(ctx, *sess); err != nil {
		t.Fatal(err)
	}
	sess, _ = store.GetSession(ctx, "s-1")
	if sess.Title != "Runway plan" {
		t.Fatalf("expected updated title, got %q", sess.Title)
	}

	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetSession(ctx, "s-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateSession(ctx, domain.Session{ID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
	if err := store.DeleteSession(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if err := store.DeleteAgentMemory(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on memory delete, got %v", err)
	}
}

func TestSQLiteStore_MessagesRoundTripMetadata(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.CreateSession(ctx, domain.Session{ID: "s-1"})

	user := domain.MessageRecord{
		Role:    "user",
		Content: "Review this deck",
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentFile, Name: "deck.md", ContentType: "text/markdown", URL: "https://files.example/deck.md"},
		},
	}
	assistant := domain.MessageRecord{
		Role:            "assistant",
		Content:         "Here is the review.",
		Agent:           "chief_of_staff",
		ConsultedAgents: []string{"fundraising_cash_flow_advisor"},
		PlanText:        "Plan: I'll consult fundraising_cash_flow_advisor, then respond.",
	}
	if err := store.AddMessage(ctx, "s-1", user); err != nil {
		t.Fatal(err)
	}
	if err := store.AddMessage(ctx, "s-1", assistant); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.GetMessages(ctx, "s-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || len(msgs[0].Attachments) != 1 || msgs[0].Attachments[0].Name != "deck.md" {
		t.Fatalf("expected user message with deck.md, got %+v", msgs[0])
	}
	if msgs[1].Agent != "chief_of_staff" || msgs[1].PlanText == "" {
		t.Fatalf("expected assistant metadata, got %+v", msgs[1])
	}
	if len(msgs[1].ConsultedAgents) != 1 || msgs[1].ConsultedAgents[0] != "fundraising_cash_flow_advisor" {
		t.Fatalf("expected consulted agents, got %v", msgs[1].ConsultedAgents)
	}
	if msgs[1].SessionID != "s-1" || msgs[1].ID <= msgs[0].ID {
		t.Fatalf("expected ordered ids in session s-1, got %+v", msgs)
	}
}

func TestSQLiteStore_GetMessagesKeepsNewest(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.CreateSession(ctx, domain.Session{ID: "s-1"})

	for _, c := range []string{"one", "two", "three", "four"} {
		if err := store.AddMessage(ctx, "s-1", domain.MessageRecord{Role: "user", Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.GetMessages(ctx, "s-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Fatalf("expected [three four], got %+v", msgs)
	}
}

func TestSQLiteStore_DeleteSessionRemovesMessages(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.CreateSession(ctx, domain.Session{ID: "s-1"})
	store.AddMessage(ctx, "s-1", domain.MessageRecord{Role: "user", Content: "hi"})

	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatal(err)
	}
	msgs, err := store.GetMessages(ctx, "s-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		store.CreateSession(ctx, domain.Session{ID: id})
	}
	// Adding a message bumps the session to the top.
	store.AddMessage(ctx, "a", domain.MessageRecord{Role: "user", Content: "hi"})

	sessions, err := store.ListSessions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "a" {
		t.Fatalf("expected most recently updated session first, got %s", sessions[0].ID)
	}
}

func TestSQLiteStore_AgentMemories(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveAgentMemory(ctx, domain.AgentMemory{AgentID: "legal", Content: "Company is a Delaware C-corp"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveAgentMemory(ctx, domain.AgentMemory{ID: "m-2", AgentID: "finance", Content: "Runway is 14 months"}); err != nil {
		t.Fatal(err)
	}

	legal, err := store.ListAgentMemories(ctx, "legal")
	if err != nil {
		t.Fatal(err)
	}
	if len(legal) != 1 || legal[0].ID == "" {
		t.Fatalf("expected one legal memory with a generated id, got %+v", legal)
	}

	all, _ := store.ListAgentMemories(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 memories in total, got %d", len(all))
	}

	if err := store.DeleteAgentMemory(ctx, "m-2"); err != nil {
		t.Fatal(err)
	}
	finance, _ := store.ListAgentMemories(ctx, "finance")
	if len(finance) != 0 {
		t.Fatalf("expected finance memory deleted, got %+v", finance)
	}
}
