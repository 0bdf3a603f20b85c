package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harun/agentic/pkg/agent"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var (
	chatAgent    string
	chatNoStream bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with an agent in the terminal",
	Long: `Start an interactive session with one agent. Every line you type runs a
turn; steps are printed as they happen. Ctrl-C or EOF ends the session.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "default", "agent name from the agents file")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "print inference output per step instead of streaming")
	rootCmd.AddCommand(chatCmd)
}

// localTools are custom tools answered by the chat client
func localTools(now func() time.Time) []agent.CustomTool {
	return []agent.CustomTool{
		agent.CustomToolFunc{
			Def: toolexecutor.ToolDefinition{
				Name:        "get_current_time",
				Description: "Returns the current local date and time",
				Parameters: []toolexecutor.ToolParameter{
					{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. Europe/Berlin"},
				},
			},
			Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
				t := now()
				if tz, ok := args["timezone"].(string); ok && tz != "" {
					loc, err := time.LoadLocation(tz)
					if err != nil {
						return "", fmt.Errorf("unknown timezone %q", tz)
					}
					t = t.In(loc)
				}
				return t.Format(time.RFC1123), nil
			},
		},
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.chat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), chatAgent, !chatNoStream)
}

// chat runs the read-turn-print loop against the named agent
func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer, name string, stream bool) error {
	base, err := a.registry.AgentByName(name)
	if err != nil {
		return err
	}

	tools := localTools(time.Now)
	agentCfg := withTools(base.Config(), tools)
	agentID, err := a.registry.CreateAgent(ctx, agentCfg)
	if err != nil {
		return fmt.Errorf("agent %s: %w", name, err)
	}
	sessionID, err := a.registry.CreateSession(ctx, agentID, "chat")
	if err != nil {
		return err
	}

	events := agent.NewEventLogger(out, a.logger)
	executor, err := agent.NewCustomToolExecutor(agent.CustomToolConfig{
		Registry:       a.registry,
		AgentID:        agentID,
		SessionID:      sessionID,
		Tools:          tools,
		Stream:         stream,
		Logger:         a.logger,
		OnEvent:        events.Log,
		OnToolResponse: events.LogCustomTool,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Chatting with %s (Ctrl-C to quit)\n", name)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "\u001b[94mYou\u001b[0m: ")
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nExiting...")
			return nil
		case line, ok = <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if _, err := executor.ExecuteTurn(ctx, message.List{message.UserMessage{Content: line}}); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out, "\nExiting...")
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// withTools appends custom tool definitions the agent does not already declare
func withTools(cfg agent.AgentConfig, tools []agent.CustomTool) agent.AgentConfig {
	declared := make(map[string]bool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		declared[t.Name] = true
	}
	cfg.Tools = append([]toolexecutor.ToolDefinition(nil), cfg.Tools...)
	for _, def := range agent.CustomToolDefinitions(tools) {
		if !declared[def.Name] {
			cfg.Tools = append(cfg.Tools, def)
		}
	}
	return cfg
}
