// Package registry holds the agent and team catalog.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"huddle/internal/domain"
)

// DefaultTeamID names the built-in team.
const DefaultTeamID = "founder_team"

//go:embed builtin.yaml
var builtinYAML []byte

// File is the YAML layout of a catalog file. A file may define agents,
// teams, or both.
type File struct {
	Agents []domain.AgentConfig `yaml:"agents"`
	Teams  []domain.Team        `yaml:"teams"`
}

// Registry is an in-memory catalog of agents and teams. It implements
// domain.Catalog.
type Registry struct {
	agents map[string]domain.AgentConfig
	teams  map[string]domain.Team
	mu     sync.RWMutex
	logger *slog.Logger
}

// New returns a registry holding the built-in team.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		agents: make(map[string]domain.AgentConfig),
		teams:  make(map[string]domain.Team),
		logger: logger,
	}
	if err := r.LoadBytes(builtinYAML, "builtin"); err != nil {
		panic(fmt.Sprintf("registry: invalid built-in catalog: %v", err))
	}
	return r
}

// Load returns a registry with the built-in team plus every catalog file
// in dir. A missing dir is not an error.
func Load(dir string, logger *slog.Logger) (*Registry, error) {
	r := New(logger)
	if err := r.LoadDir(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadDir adds the .yaml and .yml files of dir. Unreadable or invalid
// files are logged and skipped; definitions with an existing id replace
// the earlier one.
func (r *Registry) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		r.logger.Debug("agents directory does not exist, skipping", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read agents dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("cannot read catalog file", "path", path, "err", err)
			continue
		}
		if err := r.LoadBytes(data, path); err != nil {
			r.logger.Warn("cannot load catalog file", "path", path, "err", err)
			continue
		}
		r.logger.Info("loaded catalog file", "path", path)
	}
	return nil
}

// LoadBytes parses one catalog file and adds its definitions. Nothing is
// added when the file is invalid.
func (r *Registry) LoadBytes(data []byte, source string) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", source, err)
	}
	if err := r.validate(f); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range f.Agents {
		if a.Type == "" {
			a.Type = domain.AgentSpecialist
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		r.agents[a.ID] = a
	}
	for _, t := range f.Teams {
		if t.Name == "" {
			t.Name = t.ID
		}
		r.teams[t.ID] = t
	}
	return nil
}

// validate checks a file against itself plus the agents already loaded.
func (r *Registry) validate(f File) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	known := make(map[string]bool, len(r.agents)+len(f.Agents))
	for id := range r.agents {
		known[id] = true
	}
	seen := make(map[string]bool)
	for i, a := range f.Agents {
		if strings.TrimSpace(a.ID) == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("agent %q defined twice", a.ID))
		}
		if a.Type != "" && a.Type != domain.AgentLead && a.Type != domain.AgentSpecialist {
			errs = append(errs, fmt.Errorf("agent %q: unknown type %q", a.ID, a.Type))
		}
		seen[a.ID] = true
		known[a.ID] = true
	}
	for i, t := range f.Teams {
		if strings.TrimSpace(t.ID) == "" {
			errs = append(errs, fmt.Errorf("teams[%d]: id is required", i))
			continue
		}
		if !known[t.LeadAgentID] {
			errs = append(errs, fmt.Errorf("team %q: unknown lead %q", t.ID, t.LeadAgentID))
		}
		for _, sid := range t.SpecialistIDs {
			if !known[sid] {
				errs = append(errs, fmt.Errorf("team %q: unknown specialist %q", t.ID, sid))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Agent(id string) (domain.AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return domain.AgentConfig{}, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return a, nil
}

func (r *Registry) Team(id string) (domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[id]
	if !ok {
		return domain.Team{}, fmt.Errorf("%w: %s", domain.ErrTeamNotFound, id)
	}
	t.SpecialistIDs = append([]string(nil), t.SpecialistIDs...)
	return t, nil
}

// Agents returns all agents sorted by id.
func (r *Registry) Agents() []domain.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AgentConfig, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Teams returns all teams sorted by id.
func (r *Registry) Teams() []domain.Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Team, 0, len(r.teams))
	for _, t := range r.teams {
		t.SpecialistIDs = append([]string(nil), t.SpecialistIDs...)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ domain.Catalog = (*Registry)(nil)
