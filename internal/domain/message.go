package domain

import (
	"strings"
	"time"
)

// InboundMessage is a chat message arriving from an asynchronous channel
// (e.g. Telegram) through the message bus.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	TeamID    string // optional: team to consult; empty means the default team
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}

// AttachmentKind distinguishes images from other uploaded files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a file the user uploaded alongside a message. Only URL
// references are carried; the bytes live elsewhere.
type Attachment struct {
	ID          string         `json:"id,omitempty"`
	Kind        AttachmentKind `json:"kind"`
	Name        string         `json:"name"`
	ContentType string         `json:"contentType"`
	SizeBytes   int64          `json:"sizeBytes"`
	URL         string         `json:"url"`
}

// ChatMessage is one turn of a conversation as the client sends it.
type ChatMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HasContent reports whether the message carries trimmed text or at least
// one attachment.
func (m ChatMessage) HasContent() bool {
	return len(m.Attachments) > 0 || strings.TrimSpace(m.Content) != ""
}

// ContentPartType tags the variant held by a ContentPart.
type ContentPartType string

const (
	PartText  ContentPartType = "input_text"
	PartImage ContentPartType = "input_image"
	PartFile  ContentPartType = "input_file"
)

// ContentPart is one piece of an InputItem's content.
type ContentPart struct {
	Type   ContentPartType `json:"type"`
	Text   string          `json:"text,omitempty"`
	URL    string          `json:"url,omitempty"`
	Detail string          `json:"detail,omitempty"` // images only
}

// InputItem is a role-tagged entry in the sequence given to an agent run.
// Items are built fresh for each request and never mutated afterwards.
type InputItem struct {
	Role    string        `json:"role"` // user | assistant
	Content []ContentPart `json:"content"`
}

// Text returns the concatenated text parts of the item.
func (it InputItem) Text() string {
	var texts []string
	for _, p := range it.Content {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
