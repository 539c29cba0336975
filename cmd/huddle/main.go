package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"huddle/internal/agent"
	"huddle/internal/bus"
	"huddle/internal/channel"
	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/metrics"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "0.3.0"

var (
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	configPath string // overridable via --config flag
)

func main() {
	agent.SetVersion(version)

	root := &cobra.Command{
		Use:           "huddle",
		Short:         "Huddle: a lead agent that consults a team of specialists",
		Long:          "Huddle answers chat messages with a lead agent that first consults the specialists of its team, then streams one synthesized reply.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.huddle/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(agentsCmd())
	root.AddCommand(teamsCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(memoryCmd())
	root.AddCommand(configCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the agents directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			agentsDir := config.ExpandPath(cfg.Orchestration.AgentsDir)
			example, err := writeExampleTeam(agentsDir, force)
			if err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "agents_dir", agentsDir, "example", example)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API and enabled channels",
		Long:  "Starts the HTTP chat API (SSE and WebSocket) and, when enabled, the Telegram channel with its dispatcher. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for name, herr := range a.providers.HealthReport(ctx) {
		if herr != nil {
			logger.Warn("provider unhealthy at startup", "provider", name, "err", herr)
		} else {
			logger.Info("provider healthy", "provider", name)
		}
	}

	var limiter *agent.KeyedLimiter
	if cfg.RateLimit.Enabled {
		limiter = agent.NewKeyedLimiter(cfg.RateLimit.Burst, float64(cfg.RateLimit.RequestsPerMin))
	}

	errCh := make(chan error, 2)

	var telegramCh *channel.Telegram
	messageBus := bus.New(100, logger)
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		loop := agent.NewLoop(agent.LoopConfig{
			Orchestrator: a.orchestrator,
			Catalog:      a.catalog,
			Bus:          messageBus,
			Limiter:      limiter,
			Logger:       logger,
			Concurrency:  cfg.General.MaxConcurrentMessages,
		})
		go loop.Run(ctx)

		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			TeamID:    cfg.Channels.Telegram.TeamID,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var webCh *channel.Web
	if cfg.Channels.Web.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		webCfg := channel.WebConfig{
			Host:           cfg.Channels.Web.Host,
			Port:           cfg.Channels.Web.Port,
			Orchestrator:   a.orchestrator,
			Catalog:        a.catalog,
			Limiter:        limiter,
			MetricsPath:    metricsPath,
			OriginPatterns: cfg.Channels.Web.AllowedOrigins,
			Config:         cfg,
			ConfigPath:     resolveConfigPath(),
			Version:        agent.Version(),
			Logger:         logger,
		}
		if a.store != nil {
			webCfg.Store = a.store
		}
		webCh = channel.NewWeb(webCfg)
		go func() {
			if err := webCh.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("web server: %w", err)
			}
		}()
	}

	if telegramCh == nil && webCh == nil {
		return fmt.Errorf("no channel enabled: enable channels.web or channels.telegram")
	}

	logger.Info("huddle started. Press Ctrl+C to stop.", "version", agent.Version())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if webCh != nil {
			webCh.Stop()
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}
	return runErr
}

func askCmd() *cobra.Command {
	var agentID, teamID, sessionID string
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask the team (or one agent) a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req := domain.TurnRequest{
				Messages:  []domain.ChatMessage{{Role: "user", Content: strings.Join(args, " ")}},
				SessionID: sessionID,
				TeamID:    teamID,
				AgentMode: domain.ModeTeam,
			}
			if agentID != "" {
				req.AgentMode = domain.ModeSpecific
				req.SelectedAgentID = agentID
			}

			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()
			var failure string
			sink := agent.FuncSink{
				OnEvent: func(ev domain.ChatEvent) error {
					switch {
					case ev.Phase == domain.PhasePlanning && ev.PlanText != "":
						fmt.Fprintf(errOut, "%s\n\n", ev.PlanText)
					case ev.ConsultingStatus == domain.ConsultStarted:
						fmt.Fprintf(errOut, "  consulting %s...\n", ev.ConsultingAgent)
					case ev.IsFinal:
						fmt.Fprintln(out)
					case ev.Partial && ev.Content != "":
						fmt.Fprint(out, ev.Content)
					}
					return nil
				},
				OnError: func(message string) error {
					failure = message
					return nil
				},
			}
			if err := a.orchestrator.Handle(ctx, req, sink); err != nil {
				return err
			}
			if failure != "" {
				return fmt.Errorf("turn failed: %s", failure)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "ask one agent directly instead of the team")
	cmd.Flags().StringVarP(&teamID, "team", "t", "", "team to consult (default: orchestration.defaultTeam)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue and store the turn in")
	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			for _, ag := range a.catalog.Agents() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-34s %-10s %s\n", ag.ID, ag.Type, ag.Description)
			}
			return nil
		},
	}
}

func teamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List teams with their lead and specialists",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			for _, t := range a.catalog.Teams() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n  lead: %s\n  specialists: %s\n",
					t.ID, t.Name, t.LeadAgentID, strings.Join(t.SpecialistIDs, ", "))
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config, catalog and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Huddle v%s\n", agent.Version())
			fmt.Fprintf(out, "config:  %s\n", resolveConfigPath())
			fmt.Fprintf(out, "catalog: %d agents, %d teams\n", len(a.catalog.Agents()), len(a.catalog.Teams()))

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			report := a.providers.HealthReport(ctx)
			names := make([]string, 0, len(report))
			for name := range report {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if report[name] != nil {
					fmt.Fprintf(out, "provider %s: unhealthy (%v)\n", name, report[name])
				} else {
					fmt.Fprintf(out, "provider %s: healthy\n", name)
				}
			}
			fmt.Fprintf(out, "llm requests this run: %d\n", metrics.LLMRequestsTotal.Value())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "huddle %s\n", agent.Version())
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. orchestration.maxConsultedSpecialists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. orchestration.defaultTeam founder_team)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Set(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
