package channel

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitMessage(text, 40)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 30) {
		t.Fatalf("expected cut at newline, got %q", chunks[0])
	}
	if strings.Join(chunks, "") != text {
		t.Fatalf("expected chunks to reassemble the text")
	}
}

func TestSplitMessage_HardCut(t *testing.T) {
	chunks := splitMessage(strings.Repeat("x", 95), 40)
	if len(chunks) != 3 || len(chunks[0]) != 40 || len(chunks[2]) != 15 {
		t.Fatalf("expected 40/40/15 chunks, got %d chunks", len(chunks))
	}
	if splitMessage("", 40) != nil {
		t.Fatalf("expected no chunks for empty text")
	}
}

func TestTelegram_IsAllowed(t *testing.T) {
	open := NewTelegram(TelegramConfig{Token: "t", Logger: testLogger()})
	if !open.isAllowed(42) {
		t.Fatalf("expected empty allow list to allow everyone")
	}
	closed := NewTelegram(TelegramConfig{Token: "t", AllowFrom: []string{"7", " 42 ", "junk"}, Logger: testLogger()})
	if !closed.isAllowed(42) || closed.isAllowed(8) {
		t.Fatalf("expected only listed ids allowed")
	}
}

func TestTelegram_Inbound(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "t", TeamID: "founder_team", Logger: testLogger()})

	msg, ok := tg.inbound(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 5},
		Chat: &tgbotapi.Chat{ID: 99},
		Text: "  /team founder_team ",
		Date: 1700000000,
	}})
	if !ok {
		t.Fatalf("expected message accepted")
	}
	if msg.Channel != "telegram" || msg.ChatID != "99" || msg.SenderID != "5" {
		t.Fatalf("expected telegram/99/5, got %s/%s/%s", msg.Channel, msg.ChatID, msg.SenderID)
	}
	if msg.Content != "/team founder_team" || msg.TeamID != "founder_team" {
		t.Fatalf("expected trimmed command with team, got %q/%q", msg.Content, msg.TeamID)
	}

	if _, ok := tg.inbound(tgbotapi.Update{}); ok {
		t.Fatalf("expected update without message ignored")
	}
	if _, ok := tg.inbound(tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 5}, Chat: &tgbotapi.Chat{ID: 1}}}); ok {
		t.Fatalf("expected empty text ignored")
	}
}
