package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"huddle/internal/domain"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string // text response to send back
	Handled  bool   // true if the command was handled (don't run a turn)
}

// startTime records when the process started for /uptime.
var startTime = time.Now()

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	// Telegram appends the bot name in groups: /help@huddle_bot
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &ChatCommand{
		Name: name,
		Args: args,
		Raw:  text,
	}
}

// HandleCommand processes a chat command and returns a result.
// If the command is not recognized, returns Handled=false so the message
// is answered as a normal turn.
func (l *Loop) HandleCommand(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) CommandResult {
	switch cmd.Name {
	case "help", "start":
		return CommandResult{Response: helpText(), Handled: true}

	case "new", "clear":
		l.resetSession(msg)
		return CommandResult{Response: "Conversation cleared. Starting fresh.", Handled: true}

	case "team":
		if len(cmd.Args) == 0 {
			team := firstNonEmpty(l.state(msg).teamID, l.orchestrator.defaultTeam, l.orchestrator.fallbackTeam)
			return CommandResult{Response: fmt.Sprintf("Current team: %s", team), Handled: true}
		}
		if _, err := l.catalog.Team(cmd.Args[0]); err != nil {
			return CommandResult{Response: fmt.Sprintf("Unknown team %q. Use /teams to list them.", cmd.Args[0]), Handled: true}
		}
		l.setTeam(msg, cmd.Args[0])
		return CommandResult{Response: fmt.Sprintf("Switched to team %s.", cmd.Args[0]), Handled: true}

	case "teams":
		return CommandResult{Response: l.teamsText(), Handled: true}

	case "agents":
		return CommandResult{Response: l.agentsText(), Handled: true}

	case "ask":
		if len(cmd.Args) < 2 {
			return CommandResult{Response: "Usage: /ask <agent> <question>", Handled: true}
		}
		direct := msg
		direct.Content = strings.Join(cmd.Args[1:], " ")
		response, err := l.handleMessage(ctx, direct, cmd.Args[0])
		if err != nil {
			response = fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
		}
		return CommandResult{Response: response, Handled: true}

	case "status":
		return CommandResult{Response: l.statusText(), Handled: true}

	case "uptime":
		uptime := time.Since(startTime).Round(time.Second)
		return CommandResult{Response: fmt.Sprintf("Uptime: %s", uptime), Handled: true}

	case "version":
		return CommandResult{Response: fmt.Sprintf("Huddle v%s (%s/%s, Go %s)", version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

// version is set by the build system. Default fallback.
var version = "0.1.0"

// SetVersion sets the version string used by commands.
func SetVersion(v string) {
	version = v
}

// Version returns the version string.
func Version() string { return version }

func helpText() string {
	return `**Huddle Commands**

/help - Show this help message
/new - Start a new conversation
/team [id] - Show or switch the team you talk to
/teams - List teams
/agents - List agents
/ask <agent> <question> - Ask one agent directly
/status - Show bot status
/uptime - Show bot uptime
/version - Show version info`
}

func (l *Loop) statusText() string {
	uptime := time.Since(startTime).Round(time.Second)
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Huddle v%s**\n\n", version)
	fmt.Fprintf(&sb, "Teams: %d, agents: %d\n", len(l.catalog.Teams()), len(l.catalog.Agents()))
	fmt.Fprintf(&sb, "Uptime: %s\n", uptime)
	fmt.Fprintf(&sb, "Runtime: %s/%s, Go %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	return sb.String()
}

func (l *Loop) teamsText() string {
	teams := l.catalog.Teams()
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Teams** (%d)\n\n", len(teams))
	for _, t := range teams {
		fmt.Fprintf(&sb, "• **%s** (%s): lead %s, %d specialists\n", t.ID, t.Name, t.LeadAgentID, len(t.SpecialistIDs))
	}
	return sb.String()
}

func (l *Loop) agentsText() string {
	agents := l.catalog.Agents()
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Agents** (%d)\n\n", len(agents))
	for _, a := range agents {
		fmt.Fprintf(&sb, "• **%s**: %s\n", a.ID, a.Description)
	}
	return sb.String()
}
