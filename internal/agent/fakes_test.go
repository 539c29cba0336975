package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"huddle/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeRunner scripts agent runs by agent id. Selector runs are recognized
// by their ":selector" id suffix.
type fakeRunner struct {
	mu sync.Mutex

	selection any   // FinalOutput of the selector run
	selectErr error // error of the selector run

	notes   map[string]string // specialist id -> notes
	failing map[string]error  // specialist id -> error

	deltas    []string // streamed by RunStream
	final     any      // FinalOutput of RunStream; nil uses the joined deltas
	streamErr error

	runs    []domain.AgentConfig          // every Run call, in call order
	inputs  map[string][]domain.InputItem // last input per agent id
	streams []domain.AgentConfig          // every RunStream call
}

func (f *fakeRunner) record(agent domain.AgentConfig, input []domain.InputItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputs == nil {
		f.inputs = make(map[string][]domain.InputItem)
	}
	f.inputs[agent.ID] = input
}

func (f *fakeRunner) Run(ctx context.Context, agent domain.AgentConfig, input []domain.InputItem) (*domain.RunResult, error) {
	f.record(agent, input)
	f.mu.Lock()
	f.runs = append(f.runs, agent)
	f.mu.Unlock()

	if strings.HasSuffix(agent.ID, ":selector") {
		if f.selectErr != nil {
			return nil, f.selectErr
		}
		return &domain.RunResult{FinalOutput: f.selection}, nil
	}
	if err := f.failing[agent.ID]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &domain.RunResult{FinalOutput: f.notes[agent.ID]}, nil
}

func (f *fakeRunner) RunStream(ctx context.Context, agent domain.AgentConfig, input []domain.InputItem, out chan<- domain.RunEvent) (*domain.RunResult, error) {
	defer close(out)
	f.record(agent, input)
	f.mu.Lock()
	f.streams = append(f.streams, agent)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := send(ctx, out, domain.RunEvent{Type: domain.RunAgentUpdated, Agent: agent.ID}); err != nil {
		return nil, err
	}
	for _, d := range f.deltas {
		if err := send(ctx, out, domain.RunEvent{Type: domain.RunTextDelta, Delta: d}); err != nil {
			return nil, err
		}
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	final := f.final
	if final == nil {
		final = strings.Join(f.deltas, "")
	}
	return &domain.RunResult{FinalOutput: final}, nil
}

func (f *fakeRunner) inputOf(id string) []domain.InputItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[id]
}

func (f *fakeRunner) specialistRuns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, a := range f.runs {
		if !strings.HasSuffix(a.ID, ":selector") {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

type fakeCatalog struct {
	agents map[string]domain.AgentConfig
	teams  map[string]domain.Team
}

func (c *fakeCatalog) Agent(id string) (domain.AgentConfig, error) {
	a, ok := c.agents[id]
	if !ok {
		return domain.AgentConfig{}, domain.ErrAgentNotFound
	}
	return a, nil
}

func (c *fakeCatalog) Team(id string) (domain.Team, error) {
	t, ok := c.teams[id]
	if !ok {
		return domain.Team{}, domain.ErrTeamNotFound
	}
	return t, nil
}

func (c *fakeCatalog) Agents() []domain.AgentConfig {
	out := make([]domain.AgentConfig, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *fakeCatalog) Teams() []domain.Team {
	out := make([]domain.Team, 0, len(c.teams))
	for _, t := range c.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// testCatalog has one team "founders" led by "chief" with three
// specialists, plus a stray agent outside any team.
func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		agents: map[string]domain.AgentConfig{
			"chief":   {ID: "chief", Name: "Chief of Staff", Type: domain.AgentLead, Instructions: "You lead the team."},
			"finance": {ID: "finance", Name: "Finance", Description: "Budgets and runway", Type: domain.AgentSpecialist},
			"legal":   {ID: "legal", Name: "Legal", Description: "Contracts and compliance", Type: domain.AgentSpecialist},
			"growth":  {ID: "growth", Name: "Growth", Description: "Marketing and acquisition", Type: domain.AgentSpecialist},
			"poet":    {ID: "poet", Name: "Poet", Description: "Writes verse", Type: domain.AgentSpecialist},
		},
		teams: map[string]domain.Team{
			"founders": {ID: "founders", Name: "Founders", LeadAgentID: "chief", SpecialistIDs: []string{"finance", "legal", "growth"}},
		},
	}
}

// fakeStore is an in-memory domain.SessionStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	messages map[string][]domain.MessageRecord
	memories []domain.AgentMemory
	nextID   int64
	failAdd  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]domain.Session),
		messages: make(map[string][]domain.MessageRecord),
	}
}

func (s *fakeStore) CreateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return errors.New("duplicate session")
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sess, nil
}

func (s *fakeStore) UpdateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *fakeStore) ListSessions(_ context.Context, limit int) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *fakeStore) AddMessage(_ context.Context, sessionID string, msg domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdd != nil {
		return s.failAdd
	}
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

func (s *fakeStore) GetMessages(_ context.Context, sessionID string, limit int) ([]domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.MessageRecord(nil), msgs...), nil
}

func (s *fakeStore) SaveAgentMemory(_ context.Context, mem domain.AgentMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, mem)
	return nil
}

func (s *fakeStore) ListAgentMemories(_ context.Context, agentID string) ([]domain.AgentMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AgentMemory
	for _, m := range s.memories {
		if m.AgentID == agentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteAgentMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.memories {
		if m.ID == id {
			s.memories = append(s.memories[:i], s.memories[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) stored(sessionID string) []domain.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MessageRecord(nil), s.messages[sessionID]...)
}

// recordingSink captures frames; failAfter > 0 makes the nth frame fail.
type recordingSink struct {
	mu        sync.Mutex
	events    []domain.ChatEvent
	errs      []string
	failAfter int
}

var errClientGone = errors.New("client disconnected")

func (s *recordingSink) Send(ev domain.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errClientGone
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Fail(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, message)
	return nil
}

func (s *recordingSink) finals() []domain.ChatEvent {
	var out []domain.ChatEvent
	for _, ev := range s.events {
		if ev.IsFinal {
			out = append(out, ev)
		}
	}
	return out
}
