package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rahul/sovereign/internal/display"
	"github.com/rahul/sovereign/internal/store"
	"github.com/rahul/sovereign/pkg/config"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historySession string
)

var historyCmd = &cobra.Command{
	Use:   "history [workspace]",
	Short: "Show recent step outcomes",
	Long: `Show recent step outcomes recorded in the workspace history database.

Examples:
  sovereign history                     Last 20 steps across sessions
  sovereign history -n 50 ./proj        Last 50 steps of ./proj
  sovereign history --session <id>      Conversation of one session`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		root, err := workspaceArg(cfg, args)
		if err != nil {
			return err
		}

		hs, err := store.NewHistoryStore(config.ResolvePath(root, cfg.Memory.Path))
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer hs.Close()

		if historySession != "" {
			return printConversation(cmd.OutOrStdout(), hs, historySession, historyLimit)
		}
		return printSteps(cmd.OutOrStdout(), hs, historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	historyCmd.Flags().StringVar(&historySession, "session", "", "show the conversation of one session")
	rootCmd.AddCommand(historyCmd)
}

func printSteps(w io.Writer, hs *store.HistoryStore, limit int) error {
	steps, err := hs.RecentSteps(limit)
	if err != nil {
		return fmt.Errorf("failed to read steps: %w", err)
	}
	if len(steps) == 0 {
		fmt.Fprintln(w, "No steps recorded yet.")
		return nil
	}

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	for _, s := range steps {
		status := ok(s.Status)
		if s.Status != "completed" {
			status = bad(s.Status)
		}
		fmt.Fprintf(w, "%s  %-9s  %-14s  %s  [%s]\n",
			s.Timestamp.Local().Format("2006-01-02 15:04:05"), status, s.Handler,
			display.EscapeLine(s.Goal), shortID(s.SessionID))
	}
	return nil
}

func printConversation(w io.Writer, hs *store.HistoryStore, sessionID string, limit int) error {
	msgs, err := hs.GetHistory(sessionID, limit)
	if err != nil {
		return fmt.Errorf("failed to read conversation: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Fprintf(w, "No conversation recorded for session %s.\n", sessionID)
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s\n", m.Role, strings.TrimSpace(m.Content))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
