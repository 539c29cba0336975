package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"huddle/internal/domain"
)

func newTestOpenAI(url string) *OpenAI {
	return NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: url, Model: "gpt-test", Logger: testLogger()})
}

func TestOpenAI_Chat_SendsSchemaAndTemperature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"agentIds\":[]}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	temp := 0.2
	resp, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
		Messages:       []domain.Message{{Role: "user", Content: "hi"}},
		Temperature:    &temp,
		ResponseSchema: &domain.ResponseSchema{Name: "plan", Schema: map[string]any{"type": "object"}, Strict: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"agentIds":[]}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("expected 5 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if got["temperature"] != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", got["temperature"])
	}
	if got["model"] != "gpt-test" {
		t.Fatalf("expected default model, got %v", got["model"])
	}
	rf, ok := got["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_schema" {
		t.Fatalf("expected json_schema response_format, got %v", got["response_format"])
	}
}

func TestOpenAI_Chat_MultimodalParts(t *testing.T) {
	var got struct {
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Parts: []domain.ContentPart{
			{Type: domain.PartText, Text: "look"},
			{Type: domain.PartImage, URL: "https://x/img.png", Detail: "auto"},
		}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
	raw := string(got.Messages[0].Content)
	if !strings.Contains(raw, `"image_url"`) || !strings.Contains(raw, `"detail":"auto"`) {
		t.Fatalf("expected image_url part, got %s", raw)
	}
}

func TestOpenAI_Chat_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestOpenAI_Chat_RetriesServerError(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = old }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"recovered"}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("expected 'recovered', got %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestOpenAI_ChatStream_ParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("expected stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2,\"total_tokens\":6}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	out := make(chan domain.StreamEvent, 16)
	err := newTestOpenAI(srv.URL).ChatStream(context.Background(), domain.ChatRequest{}, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tokens []string
	var done *domain.StreamEvent
	for ev := range out {
		switch ev.Type {
		case domain.StreamToken:
			tokens = append(tokens, ev.Content)
		case domain.StreamDone:
			ev := ev
			done = &ev
		}
	}
	if strings.Join(tokens, "") != "Hello" || len(tokens) != 2 {
		t.Fatalf("expected tokens [Hel lo], got %v", tokens)
	}
	if done == nil || done.Usage == nil || done.Usage.TotalTokens != 6 {
		t.Fatalf("expected done event with usage, got %+v", done)
	}
}

func TestOpenAI_ChatStream_ErrorClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	out := make(chan domain.StreamEvent, 1)
	if err := newTestOpenAI(srv.URL).ChatStream(context.Background(), domain.ChatRequest{}, out); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := <-out; ok {
		t.Fatal("expected closed channel")
	}
}
