package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"huddle/internal/agent"
	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/extract"
	"huddle/internal/memory"
	"huddle/internal/provider"
	"huddle/internal/registry"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	catalog      *registry.Registry
	store        *memory.SQLiteStore // nil when memory is disabled
	providers    *provider.Factory
	orchestrator *agent.Orchestrator
	closeLog     func() error
}

// loadConfig reads --config, falling back to defaults when the file does
// not exist yet.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefaults(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from general.logLevel and
// general.logFile. The returned func closes the log file.
func newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), closeFn, nil
}

// openStore opens the session store, or returns nil when memory is off.
func openStore(cfg *config.Config, logger *slog.Logger) (*memory.SQLiteStore, error) {
	if !cfg.Memory.Enabled {
		return nil, nil
	}
	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return store, nil
}

// buildApp wires config, catalog, storage, providers and the orchestrator.
func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger = log

	catalog, err := registry.Load(cfg.Orchestration.AgentsDir, logger)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("agent catalog: %w", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		closeLog()
		return nil, err
	}

	factory := provider.NewFactory(cfg, logger)
	def, err := factory.DefaultProvider()
	if err != nil {
		logger.Warn("no usable default provider, falling back to ollama", "err", err)
		def = provider.NewOllama(provider.OllamaConfig{Logger: logger})
	}
	runner := agent.NewProviderRunner(agent.RunnerConfig{
		Providers: factory,
		Default:   def,
		Logger:    logger,
	})

	oc := cfg.Orchestration
	var sessionStore domain.SessionStore
	if store != nil {
		sessionStore = store
	}
	var extractor agent.TextExtractor
	if cfg.Extraction.Enabled {
		extractor = extract.New(extract.Config{
			MaxCharsPerFile:  cfg.Extraction.MaxCharsPerFile,
			MaxTotalChars:    cfg.Extraction.MaxTotalChars,
			CSVPreviewLines:  cfg.Extraction.CSVPreviewLines,
			Timeout:          time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
			MaxDownloadBytes: int64(cfg.Extraction.MaxDownloadBytes),
			Logger:           logger,
		})
	}

	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Catalog:      catalog,
		FallbackTeam: registry.DefaultTeamID,
		DefaultTeam:  oc.DefaultTeam,
		Runner:       runner,
		Selector: agent.NewSelector(agent.SelectorConfig{
			Runner:          runner,
			MaxSpecialists:  oc.MaxConsultedSpecialists,
			TranscriptChars: oc.SelectorTranscriptChars,
			TranscriptItems: oc.SelectorTranscriptItems,
			Temperature:     oc.SelectorTemperature,
			Model:           oc.SelectorModel,
			Provider:        oc.SelectorProvider,
			Timeout:         time.Duration(oc.SelectorTimeoutSeconds) * time.Second,
			Logger:          logger,
		}),
		Coordinator: agent.NewCoordinator(agent.CoordinatorConfig{
			Runner:          runner,
			OutputChars:     oc.MaxSpecialistOutputChars,
			TranscriptChars: oc.SpecialistTranscriptChars,
			TranscriptItems: oc.SpecialistTranscriptItems,
			Timeout:         time.Duration(oc.SpecialistTimeoutSeconds) * time.Second,
			Logger:          logger,
		}),
		Sessions:  agent.NewSessionManager(sessionStore, cfg.Memory.MaxHistoryPerSession, logger),
		Extractor: extractor,
		Logger:    logger,
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		catalog:      catalog,
		store:        store,
		providers:    factory,
		orchestrator: orch,
		closeLog:     closeLog,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	a.closeLog()
}
