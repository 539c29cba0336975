package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"huddle/internal/agent"
	"huddle/internal/config"
	"huddle/internal/memory"
	"huddle/internal/registry"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Huddle installation",
		Long: `Verifies that Huddle's configuration, providers, database, and
agent catalog are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "Huddle Doctor v%s\n\n", agent.Version())

			var r report
			r.out = out

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'huddle init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if cfg.Memory.Enabled {
				if err := checkDatabase(cfg.Memory.DBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", cfg.Memory.DBPath)
				}
			} else {
				r.warn("Database", "memory disabled, sessions are not stored")
			}

			enabled := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				enabled++
				if p.APIKey == "" && p.APIBase == "" {
					r.warn("Provider: "+name, "enabled but no API key/base configured")
				} else {
					r.pass("Provider: "+name, "configured")
				}
			}
			if enabled == 0 {
				r.fail("Providers", "no providers enabled")
			}

			catalog, err := registry.Load(cfg.Orchestration.AgentsDir, logger)
			if err != nil {
				r.fail("Agent catalog", err.Error())
			} else {
				r.pass("Agent catalog", fmt.Sprintf("%d agents, %d teams", len(catalog.Agents()), len(catalog.Teams())))
				if team := cfg.Orchestration.DefaultTeam; team != "" {
					if _, err := catalog.Team(team); err != nil {
						r.fail("Default team", err.Error())
					} else {
						r.pass("Default team", team)
					}
				}
			}

			if cfg.Channels.Web.Enabled {
				if err := checkPort(cfg.Channels.Web.Host, cfg.Channels.Web.Port); err != nil {
					r.warn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.Web.Port, err))
				} else {
					r.pass("Web port", fmt.Sprintf(":%d available", cfg.Channels.Web.Port))
				}
			}
			if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
				r.fail("Telegram", "enabled but no token configured")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintf(r.out, "\nPlease fix the failed checks before running Huddle.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintf(r.out, "\nHuddle should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(r.out, "\nAll checks passed! Huddle is ready to run.\n")
	}
	return nil
}

// checkDatabase opens the store, which also applies pending migrations.
func checkDatabase(dbPath string) error {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	return store.Close()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
