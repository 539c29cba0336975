package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"huddle/internal/agent"
	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/metrics"
)

const (
	maxBodySize         = 1 << 20
	defaultSessionLimit = 50
	shutdownTimeout     = 5 * time.Second
)

// Web serves the chat API: turns stream over SSE or a WebSocket, and
// sessions, agents and teams are plain JSON resources.
type Web struct {
	host    string
	port    int
	version string
	logger  *slog.Logger
	server  *http.Server

	orchestrator   *agent.Orchestrator
	catalog        domain.Catalog
	store          domain.SessionStore
	limiter        *agent.KeyedLimiter
	metricsPath    string
	originPatterns []string

	// Config reference for the settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex
}

type WebConfig struct {
	Host           string
	Port           int
	Orchestrator   *agent.Orchestrator
	Catalog        domain.Catalog
	Store          domain.SessionStore // optional: sessions API answers 503 without it
	Limiter        *agent.KeyedLimiter // optional
	MetricsPath    string              // empty disables /metrics
	OriginPatterns []string            // websocket origins allowed besides same-host
	Config         *config.Config      // optional: settings API
	ConfigPath     string
	Version        string
	Logger         *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Web{
		host:           cfg.Host,
		port:           cfg.Port,
		version:        cfg.Version,
		logger:         cfg.Logger,
		orchestrator:   cfg.Orchestrator,
		catalog:        cfg.Catalog,
		store:          cfg.Store,
		limiter:        cfg.Limiter,
		metricsPath:    cfg.MetricsPath,
		originPatterns: cfg.OriginPatterns,
		cfg:            cfg.Config,
		cfgPath:        cfg.ConfigPath,
	}
}

func (w *Web) Name() string { return "web" }

// Handler returns the HTTP routes.
func (w *Web) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", w.handleChat)
	mux.HandleFunc("GET /api/chat/ws", w.handleChatWS)

	mux.HandleFunc("GET /api/sessions", w.handleListSessions)
	mux.HandleFunc("POST /api/sessions", w.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", w.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", w.handleDeleteSession)

	mux.HandleFunc("GET /api/agents", w.handleAgents)
	mux.HandleFunc("GET /api/teams", w.handleTeams)

	mux.HandleFunc("GET /api/config", w.handleGetConfig)
	mux.HandleFunc("PUT /api/config", w.handleUpdateConfig)
	mux.HandleFunc("POST /api/config/save", w.handleSaveConfig)

	mux.HandleFunc("GET /status", w.handleStatus)
	if w.metricsPath != "" {
		mux.HandleFunc("GET "+w.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Serve listens until ctx is cancelled.
func (w *Web) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(w.host, strconv.Itoa(w.port))
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web API started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// handleChat runs one turn and streams its frames as server-sent events.
// Rejections happen before the stream starts and use a plain status code.
func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	var req domain.TurnRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	turn, status, err := w.accept(r.Context(), req, clientKey(r, req.SessionID))
	if err != nil {
		writeError(rw, status, err.Error())
		return
	}

	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeError(rw, http.StatusInternalServerError, "streaming not supported")
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{ctx: r.Context(), rw: rw, flusher: flusher}
	if err := w.orchestrator.Run(r.Context(), turn, sink); err != nil {
		w.logger.Info("chat stream ended early", "session", req.SessionID, "err", err)
	}
}

// accept applies rate limiting and validation. On failure it returns the
// HTTP status to answer with.
func (w *Web) accept(ctx context.Context, req domain.TurnRequest, key string) (*agent.Turn, int, error) {
	if w.limiter != nil && !w.limiter.Allow(key) {
		metrics.RateLimitedTotal.Inc()
		return nil, http.StatusTooManyRequests, errors.New("rate limit exceeded, retry shortly")
	}

	turn, err := w.orchestrator.Prepare(ctx, req)
	if err == nil {
		return turn, http.StatusOK, nil
	}
	metrics.RejectedRequestsTotal.Inc()

	var verr *agent.ValidationError
	switch {
	case errors.As(err, &verr):
		return nil, http.StatusBadRequest, err
	case errors.Is(err, domain.ErrAgentNotFound), errors.Is(err, domain.ErrTeamNotFound):
		return nil, http.StatusNotFound, err
	default:
		w.logger.Error("chat request failed", "err", err)
		return nil, http.StatusInternalServerError, err
	}
}

// sseSink writes each frame as one "data:" event.
type sseSink struct {
	ctx     context.Context
	rw      http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(ev domain.ChatEvent) error {
	return s.write(ev)
}

func (s *sseSink) Fail(message string) error {
	return s.write(domain.ErrorEvent{Error: message})
}

func (s *sseSink) write(v any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.rw, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (w *Web) handleListSessions(rw http.ResponseWriter, r *http.Request) {
	if !w.requireStore(rw) {
		return
	}
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(rw, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sessions, err := w.store.ListSessions(r.Context(), limit)
	if err != nil {
		w.logger.Error("list sessions failed", "err", err)
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": sessions})
}

func (w *Web) handleCreateSession(rw http.ResponseWriter, r *http.Request) {
	if !w.requireStore(rw) {
		return
	}
	var body struct {
		Title  string `json:"title"`
		TeamID string `json:"teamId"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(rw, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if body.TeamID != "" && w.catalog != nil {
		if _, err := w.catalog.Team(body.TeamID); err != nil {
			writeError(rw, http.StatusNotFound, err.Error())
			return
		}
	}

	now := time.Now().UTC()
	sess := domain.Session{ID: uuid.NewString(), Title: body.Title, TeamID: body.TeamID, CreatedAt: now, UpdatedAt: now}
	if err := w.store.CreateSession(r.Context(), sess); err != nil {
		w.logger.Error("create session failed", "err", err)
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, sess)
}

func (w *Web) handleGetSession(rw http.ResponseWriter, r *http.Request) {
	if !w.requireStore(rw) {
		return
	}
	id := r.PathValue("id")
	sess, err := w.store.GetSession(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	msgs, err := w.store.GetMessages(r.Context(), id, 0)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []domain.MessageRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"session": sess, "messages": msgs})
}

func (w *Web) handleDeleteSession(rw http.ResponseWriter, r *http.Request) {
	if !w.requireStore(rw) {
		return
	}
	err := w.store.DeleteSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Web) requireStore(rw http.ResponseWriter) bool {
	if w.store == nil {
		writeError(rw, http.StatusServiceUnavailable, "session storage is disabled")
		return false
	}
	return true
}

type agentView struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Type        domain.AgentType `json:"type"`
}

func (w *Web) handleAgents(rw http.ResponseWriter, r *http.Request) {
	agents := w.catalog.Agents()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView{ID: a.ID, Name: a.Name, Description: a.Description, Type: a.Type})
	}
	writeJSON(rw, http.StatusOK, map[string]any{"agents": out})
}

func (w *Web) handleTeams(rw http.ResponseWriter, r *http.Request) {
	teams := w.catalog.Teams()
	if teams == nil {
		teams = []domain.Team{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"teams": teams})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       w.version,
		"activeStreams": metrics.ActiveStreams.Value(),
		"time":          time.Now().Format(time.RFC3339),
	})
}

// clientKey buckets rate limiting by session, falling back to the
// caller's address.
func clientKey(r *http.Request, sessionID string) string {
	if sessionID != "" {
		return "session:" + sessionID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, message string) {
	writeJSON(rw, status, domain.ErrorEvent{Error: message})
}
