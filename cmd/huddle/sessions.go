package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"huddle/internal/domain"
)

// withStore builds the app and runs fn against its session store.
func withStore(fn func(ctx context.Context, store domain.SessionStore) error) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store == nil {
		return errors.New("memory is disabled (memory.enabled=false)")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, a.store)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, show and delete stored conversations",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.SessionStore) error {
				sessions, err := store.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-14s %s\n",
						s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.TeamID, s.Title)
				}
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions")
	cmd.AddCommand(list)

	var newTeam, newTitle string
	create := &cobra.Command{
		Use:   "new",
		Short: "Create an empty session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.SessionStore) error {
				sess := domain.Session{ID: uuid.NewString(), Title: newTitle, TeamID: newTeam}
				if err := store.CreateSession(ctx, sess); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
				return nil
			})
		},
	}
	create.Flags().StringVarP(&newTeam, "team", "t", "", "team the session talks to")
	create.Flags().StringVar(&newTitle, "title", "", "session title")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.SessionStore) error {
				if _, err := store.GetSession(ctx, args[0]); err != nil {
					return fmt.Errorf("session %s: %w", args[0], err)
				}
				msgs, err := store.GetMessages(ctx, args[0], 0)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, m := range msgs {
					who := m.Role
					if m.Agent != "" {
						who += " (" + m.Agent + ")"
					}
					fmt.Fprintf(out, "[%s] %s\n", who, m.Content)
					if len(m.ConsultedAgents) > 0 {
						fmt.Fprintf(out, "  consulted: %s\n", strings.Join(m.ConsultedAgents, ", "))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.SessionStore) error {
				if err := store.DeleteSession(ctx, args[0]); err != nil {
					return fmt.Errorf("session %s: %w", args[0], err)
				}
				logger.Info("session deleted", "id", args[0])
				return nil
			})
		},
	})

	return cmd
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage long-lived notes injected into agent instructions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [agent] [text...]",
		Short: "Remember a note for an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.catalog.Agent(args[0]); err != nil {
				return err
			}
			if a.store == nil {
				return errors.New("memory is disabled (memory.enabled=false)")
			}
			mem := domain.AgentMemory{
				ID:      uuid.NewString(),
				AgentID: args[0],
				Content: strings.Join(args[1:], " "),
			}
			if err := a.store.SaveAgentMemory(context.Background(), mem); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mem.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [agent]",
		Short: "List notes, optionally for one agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := ""
			if len(args) == 1 {
				agentID = args[0]
			}
			return withStore(func(ctx context.Context, store domain.SessionStore) error {
				mems, err := store.ListAgentMemories(ctx, agentID)
				if err != nil {
					return err
				}
				for _, m := range mems {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s %s\n", m.ID, m.AgentID, m.Content)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Forget a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.SessionStore) error {
				return store.DeleteAgentMemory(ctx, args[0])
			})
		},
	})

	return cmd
}
