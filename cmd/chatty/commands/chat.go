package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/chatty/pkg/chatty/automation"
	"github.com/jholhewres/chatty/pkg/chatty/command"
	"github.com/jholhewres/chatty/pkg/chatty/hass"
)

// newChatCmd creates the `chatty chat` command: a local REPL that runs
// the command dispatcher against Home Assistant directly, without an
// XMPP account. Useful for trying commands before going live.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Local command REPL (no XMPP, talks to Home Assistant directly)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	host := hass.NewClient(cfg.HomeAssistant, logger)
	dispatcher := command.New(logger)
	auto := automation.New(host, automationConfig(cfg), logger)
	auto.RegisterAll(dispatcher)

	rl, err := readline.New("chatty> ")
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type a command (try 'help'), 'exit' to quit.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if reply := dispatcher.Dispatch(line); reply != "" {
			fmt.Println(reply)
		}
	}
}
