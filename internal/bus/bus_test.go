package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"huddle/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	b.Publish(domain.InboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})

	if b.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", b.Pending())
	}
	msg := <-b.Subscribe()
	if msg.Content != "hi" || msg.ChatID != "1" {
		t.Fatalf("expected hi from chat 1, got %+v", msg)
	}
}

func TestBus_OutboundRouting(t *testing.T) {
	b := New(1, testLogger())
	var got []string
	b.OnOutbound("telegram", func(m domain.OutboundMessage) { got = append(got, m.Content) })

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "answer"})
	b.SendOutbound(domain.OutboundMessage{Channel: "unknown", Content: "lost"})

	if len(got) != 1 || got[0] != "answer" {
		t.Fatalf("expected only telegram delivery, got %v", got)
	}
}

func TestBus_HandlerPanicRecovered(t *testing.T) {
	b := New(1, testLogger())
	b.OnOutbound("telegram", func(domain.OutboundMessage) { panic("boom") })

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", Content: "x"})
}

func TestBus_FullBufferDropsAfterTimeout(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = 20 * time.Millisecond

	b.Publish(domain.InboundMessage{Content: "first"})
	start := time.Now()
	b.Publish(domain.InboundMessage{Content: "second"})

	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("expected publish to wait for the timeout")
	}
	if b.Pending() != 1 {
		t.Fatalf("expected second message dropped, pending %d", b.Pending())
	}
}

func TestBus_CloseStopsPublishing(t *testing.T) {
	b := New(2, testLogger())
	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{Content: "late"})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatalf("expected closed inbound channel")
	}
}
