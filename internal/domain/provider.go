package domain

import "context"

// Provider is the interface all LLM providers must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// StreamingProvider is an optional extension for providers that deliver
// token-by-token output. ChatStream closes out before returning.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest, out chan<- StreamEvent) error
}

// StreamEventType classifies a streaming event.
type StreamEventType string

const (
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent represents a single streaming event from an LLM provider.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"` // token text or error message
	Usage   *Usage          `json:"usage,omitempty"`   // set on StreamDone when reported
}

// ResponseSchema asks the provider for JSON output matching Schema.
type ResponseSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type ChatRequest struct {
	Messages       []Message
	Model          string
	MaxTokens      int
	Temperature    *float64
	ResponseSchema *ResponseSchema
	Provider       string // optional: override default provider for this request
}

type ChatResponse struct {
	Content      string
	FinishReason string // stop | length
	Usage        Usage
	LatencyMs    int64 // time taken for this LLM call in milliseconds
}

// Message is one provider-level chat message. Parts, when set, replace
// Content with multimodal content.
type Message struct {
	Role    string        `json:"role"` // system | user | assistant
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}
