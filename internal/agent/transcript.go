package agent

import (
	"fmt"
	"regexp"
	"strings"

	"huddle/internal/domain"
)

// truncatedSuffix matches the marker appended by Truncate.
var truncatedSuffix = regexp.MustCompile(`^\n\n\[Truncated: \d+ more characters omitted\]$`)

// Truncate keeps the first max characters of text and appends a marker
// naming how many were dropped. Text already produced by Truncate with the
// same max is returned unchanged.
func Truncate(text string, max int) string {
	if max < 0 {
		max = 0
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if truncatedSuffix.MatchString(string(runes[max:])) {
		return text
	}
	return fmt.Sprintf("%s\n\n[Truncated: %d more characters omitted]", string(runes[:max]), len(runes)-max)
}

// ToAgentInput converts stored history plus the newest message into run
// input items, newest last. Only user items carry image and file parts;
// assistant turns are replayed as plain text. Messages with an unknown role
// or no usable content are dropped.
func ToAgentInput(history []domain.ChatMessage, newest domain.ChatMessage) []domain.InputItem {
	items := make([]domain.InputItem, 0, len(history)+1)
	for _, m := range history {
		if it, ok := toInputItem(m); ok {
			items = append(items, it)
		}
	}
	newest.Role = "user"
	if it, ok := toInputItem(newest); ok {
		items = append(items, it)
	}
	return items
}

func toInputItem(m domain.ChatMessage) (domain.InputItem, bool) {
	text := strings.TrimSpace(m.Content)
	switch m.Role {
	case "assistant":
		if text == "" {
			return domain.InputItem{}, false
		}
		return domain.InputItem{Role: "assistant", Content: []domain.ContentPart{{Type: domain.PartText, Text: text}}}, true
	case "user":
		var parts []domain.ContentPart
		if text != "" {
			parts = append(parts, domain.ContentPart{Type: domain.PartText, Text: text})
		}
		for _, a := range m.Attachments {
			if a.URL == "" {
				continue
			}
			if a.Kind == domain.AttachmentImage {
				parts = append(parts, domain.ContentPart{Type: domain.PartImage, URL: a.URL, Detail: "auto"})
			} else {
				parts = append(parts, domain.ContentPart{Type: domain.PartFile, URL: a.URL})
			}
		}
		if len(parts) == 0 {
			return domain.InputItem{}, false
		}
		return domain.InputItem{Role: "user", Content: parts}, true
	default:
		return domain.InputItem{}, false
	}
}

// TranscriptText renders the last maxItems items as "ROLE: text" blocks for
// meta-prompts, skipping items without text, truncated to maxChars.
func TranscriptText(items []domain.InputItem, maxChars, maxItems int) string {
	if maxItems > 0 && len(items) > maxItems {
		items = items[len(items)-maxItems:]
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text())
		if text == "" {
			continue
		}
		lines = append(lines, strings.ToUpper(it.Role)+": "+text)
	}
	return Truncate(strings.Join(lines, "\n\n"), maxChars)
}

// InsertBeforeNewestUser returns a copy of items with extra placed
// immediately before the last user item (or appended when there is none).
func InsertBeforeNewestUser(items []domain.InputItem, extra domain.InputItem) []domain.InputItem {
	idx := len(items)
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Role == "user" {
			idx = i
			break
		}
	}
	out := make([]domain.InputItem, 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, extra)
	out = append(out, items[idx:]...)
	return out
}
