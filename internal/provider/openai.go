package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"huddle/internal/domain"
)

// OpenAI implements domain.StreamingProvider for OpenAI-compatible chat
// completion APIs (OpenAI, OpenRouter, Groq, vLLM, LM Studio, ...).
type OpenAI struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	Name    string // reported by Name(); defaults to "openai"
	APIKey  string
	APIBase string
	Model   string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string     { return o.name }
func (o *OpenAI) Models() []string { return []string{o.model} }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	o.setAuth(req)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.name, resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model          string             `json:"model"`
	Messages       []oaiMessage       `json:"messages"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Temperature    *float64           `json:"temperature,omitempty"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
	Stream         bool               `json:"stream"`
	StreamOptions  *oaiStreamOptions  `json:"stream_options,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiResponseFormat struct {
	Type       string                 `json:"type"`
	JSONSchema *domain.ResponseSchema `json:"json_schema,omitempty"`
}

// oaiMessage carries either a plain string or a list of content parts.
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   *oaiUsage   `json:"usage"`
}

type oaiChoice struct {
	Message      oaiResponseMessage `json:"message"`
	Delta        oaiResponseMessage `json:"delta"`
	FinishReason string             `json:"finish_reason"`
}

type oaiResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *oaiUsage) toDomain() domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	return domain.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (o *OpenAI) buildBody(req domain.ChatRequest, stream bool) oaiRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}
	msgs := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toOAIMessage(m))
	}
	body := oaiRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	if req.ResponseSchema != nil {
		body.ResponseFormat = &oaiResponseFormat{Type: "json_schema", JSONSchema: req.ResponseSchema}
	}
	return body
}

// toOAIMessage maps domain content parts onto chat-completions parts. File
// parts have no URL form in that API, so they become a text reference; the
// extracted file text travels in the user text itself.
func toOAIMessage(m domain.Message) oaiMessage {
	if len(m.Parts) == 0 {
		return oaiMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]oaiPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case domain.PartText:
			parts = append(parts, oaiPart{Type: "text", Text: p.Text})
		case domain.PartImage:
			parts = append(parts, oaiPart{Type: "image_url", ImageURL: &oaiImageURL{URL: p.URL, Detail: p.Detail}})
		case domain.PartFile:
			parts = append(parts, oaiPart{Type: "text", Text: "[Attached file: " + p.URL + "]"})
		}
	}
	return oaiMessage{Role: m.Role, Content: parts}
}

func (o *OpenAI) setAuth(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

func (o *OpenAI) post(ctx context.Context, body oaiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		o.setAuth(httpReq)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %d: %s", o.name, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := o.post(ctx, o.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		Usage:        oaiResp.Usage.toDomain(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if len(oaiResp.Choices) > 0 {
		out.Content = oaiResp.Choices[0].Message.Content
		if fr := oaiResp.Choices[0].FinishReason; fr != "" {
			out.FinishReason = fr
		}
	}
	return out, nil
}

// ChatStream reads the server-sent event stream of a chat completion and
// forwards each content delta as a StreamToken. out is closed on return.
func (o *OpenAI) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	resp, err := o.post(ctx, o.buildBody(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var usage domain.Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk oaiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			o.logger.Debug("skipping malformed stream chunk", "provider", o.name, "err", err)
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toDomain()
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			select {
			case out <- domain.StreamEvent{Type: domain.StreamToken, Content: c.Delta.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s stream: %w", o.name, err)
	}

	select {
	case out <- domain.StreamEvent{Type: domain.StreamDone, Usage: &usage}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
