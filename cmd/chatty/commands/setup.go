package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/chatty/pkg/chatty/config"
)

// newSetupCmd creates the `chatty setup` command that writes an
// initial config file.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively create a config file",
		RunE:  runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the config")
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	var jid, password, server, haURL, haToken, recipients string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("XMPP account (JID)").
				Placeholder("bot@example.org").
				Value(&jid),
			huh.NewInput().
				Title("XMPP password").
				EchoMode(huh.EchoModePassword).
				Value(&password),
			huh.NewInput().
				Title("XMPP server (host:port, empty = derive from JID)").
				Value(&server),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Home Assistant URL").
				Placeholder("http://homeassistant.local:8123").
				Value(&haURL),
			huh.NewInput().
				Title("Home Assistant access token").
				EchoMode(huh.EchoModePassword).
				Value(&haToken),
			huh.NewInput().
				Title("Notification recipients (comma separated JIDs)").
				Placeholder("me@example.org, partner@example.org").
				Value(&recipients),
		),
	)

	if err := form.Run(); err != nil {
		// No usable TTY for the form, fall back to plain prompts.
		var perr error
		jid = prompt("XMPP account (JID): ")
		password, perr = promptSecret("XMPP password: ")
		if perr != nil {
			return perr
		}
		server = prompt("XMPP server (empty = derive from JID): ")
		haURL = prompt("Home Assistant URL: ")
		haToken, perr = promptSecret("Home Assistant access token: ")
		if perr != nil {
			return perr
		}
		recipients = prompt("Recipients (comma separated JIDs): ")
	}

	if jid == "" || password == "" {
		return fmt.Errorf("JID and password are required")
	}

	cfg := config.DefaultConfig()
	cfg.XMPP.JID = jid
	cfg.XMPP.Password = password
	cfg.XMPP.Server = server
	cfg.HomeAssistant.URL = haURL
	cfg.HomeAssistant.Token = haToken
	cfg.Recipients = splitList(recipients)

	// Keep the password out of the file when the OS keyring works.
	if config.KeyringAvailable() {
		if err := config.StoreKeyring(config.KeyringPasswordKey, password); err == nil {
			cfg.XMPP.Password = ""
			fmt.Println("XMPP password stored in the OS keyring.")
		}
	}

	output, _ := cmd.Flags().GetString("output")
	if err := config.Save(cfg, output); err != nil {
		return err
	}

	fmt.Printf("Config written to %s.\n", output)
	fmt.Println("Add your rooms, window sensors and announcements there, then run 'chatty serve'.")
	return nil
}

// prompt reads one line from stdin.
func prompt(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// promptSecret reads a line without echoing it.
func promptSecret(label string) (string, error) {
	fmt.Print(label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// splitList parses a comma separated list, dropping empties.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
