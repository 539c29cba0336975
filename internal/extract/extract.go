// Package extract renders best-effort text for uploaded attachments so the
// model sees file contents inline with the user's message.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"huddle/internal/agent"
	"huddle/internal/domain"
)

const (
	defaultMaxCharsPerFile  = 60000
	defaultMaxTotalChars    = 120000
	defaultCSVPreviewLines  = 200
	defaultTimeout          = 20 * time.Second
	defaultMaxDownloadBytes = 10 << 20

	header = "\n\n[Uploaded file text (best-effort extraction)]\n"
)

var errTooLarge = errors.New("file exceeds download limit")

// Config holds the extraction budgets.
type Config struct {
	MaxCharsPerFile  int
	MaxTotalChars    int
	CSVPreviewLines  int
	Timeout          time.Duration
	MaxDownloadBytes int64
	Client           *http.Client // optional
	Logger           *slog.Logger
}

// Extractor fetches attachment URLs and converts supported types to text.
type Extractor struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Extractor {
	if cfg.MaxCharsPerFile <= 0 {
		cfg.MaxCharsPerFile = defaultMaxCharsPerFile
	}
	if cfg.MaxTotalChars <= 0 {
		cfg.MaxTotalChars = defaultMaxTotalChars
	}
	if cfg.CSVPreviewLines <= 0 {
		cfg.CSVPreviewLines = defaultCSVPreviewLines
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = defaultMaxDownloadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Extractor{cfg: cfg, client: client, logger: cfg.Logger}
}

// Supported reports whether contentType has a text converter.
func Supported(contentType string) bool {
	switch mediaType(contentType) {
	case "text/plain", "text/markdown", "text/csv", "text/html":
		return true
	}
	return false
}

// Extract returns the extraction section to append to the user text, or ""
// when nothing could be read. Failures are logged and skipped.
func (e *Extractor) Extract(ctx context.Context, attachments []domain.Attachment) string {
	var blocks []string
	used := 0
	for _, a := range attachments {
		if a.URL == "" || !Supported(a.ContentType) {
			continue
		}
		if used >= e.cfg.MaxTotalChars {
			break
		}

		raw, err := e.extractOne(ctx, a)
		if err != nil {
			e.logger.Warn("attachment text extraction failed", "name", a.Name, "content_type", a.ContentType, "err", err)
			continue
		}
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}

		chunk := agent.Truncate(text, min(e.cfg.MaxCharsPerFile, e.cfg.MaxTotalChars-used))
		used += len([]rune(chunk))

		name := a.Name
		if name == "" {
			name = "uploaded_file"
		}
		blocks = append(blocks, fmt.Sprintf("---\nFILE: %s\nTYPE: %s\n---\n%s\n", name, mediaType(a.ContentType), chunk))
	}
	if len(blocks) == 0 {
		return ""
	}
	return header + strings.Join(blocks, "\n")
}

func (e *Extractor) extractOne(ctx context.Context, a domain.Attachment) (string, error) {
	body, err := e.fetch(ctx, a.URL)
	if err != nil {
		return "", err
	}

	switch mediaType(a.ContentType) {
	case "text/csv":
		return csvPreview(string(body), e.cfg.CSVPreviewLines), nil
	case "text/html":
		md, err := htmltomarkdown.ConvertString(string(body))
		if err != nil {
			return "", fmt.Errorf("convert to markdown: %w", err)
		}
		return md, nil
	default:
		return string(body), nil
	}
}

func (e *Extractor) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Huddle/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > e.cfg.MaxDownloadBytes {
		return nil, errTooLarge
	}
	return body, nil
}

func csvPreview(data string, lines int) string {
	rows := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	if len(rows) > lines {
		rows = rows[:lines]
	}
	return fmt.Sprintf("CSV preview (first %d lines):\n%s", lines, strings.Join(rows, "\n"))
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

var _ agent.TextExtractor = (*Extractor)(nil)
