package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatty/pkg/chatty/history"
)

// newHistoryCmd creates the `chatty history` command that prints the
// recent message log.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recent message log",
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in the config")
	}
	logger := newLogger(cmd, cfg)

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No messages logged yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-3s  %-30s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Direction, e.Address, e.Body)
	}
	return nil
}
