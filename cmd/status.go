package cmd

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"botminder/internal/daemon"
)

func NewStatusCommand() *cobra.Command {
	var showRuns bool

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show session and bot status",
		Long: `Show whether a session is running and, if so, the bot's current state:
running, restart count, last exit code, uptime and resource usage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Info("Session is not running")
				return nil
			}
			response.LogMessages()

			data, ok := response.Data.(map[string]interface{})
			if !ok {
				return fmt.Errorf("unexpected status payload from session")
			}
			printStatusMap(data)

			if showRuns {
				fmt.Println()
				return printRecentRuns()
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&showRuns, "runs", false, "also show recent bot runs")

	return statusCmd
}

// statusFieldOrder fixes the display order; unknown fields print after these,
// alphabetically.
var statusFieldOrder = []string{
	"state", "session_pid", "bot_pid", "bot_uptime",
	"restarts", "last_exit_code", "bot_rss_bytes", "bot_cpu_percent",
}

func printStatusMap(data map[string]interface{}) {
	printed := make(map[string]bool)
	for _, key := range statusFieldOrder {
		if value, ok := data[key]; ok {
			fmt.Printf("%-16s %v\n", key, value)
			printed[key] = true
		}
	}

	var rest []string
	for key := range data {
		if !printed[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		fmt.Printf("%-16s %v\n", key, data[key])
	}
}

func printRecentRuns() error {
	response, err := daemon.SendCommand("RUNS")
	if err != nil {
		return fmt.Errorf("failed to fetch run history: %w", err)
	}
	response.LogMessages()

	entries, ok := response.Data.([]interface{})
	if !ok {
		return nil
	}
	fmt.Println("recent runs (newest first):")
	for _, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		line := fmt.Sprintf("  started=%v", entry["started_at"])
		if v, ok := entry["ended_at"]; ok {
			line += fmt.Sprintf(" ended=%v", v)
		}
		if v, ok := entry["exit_code"]; ok {
			line += fmt.Sprintf(" exit=%v", v)
		}
		if v, ok := entry["restart_delay_ms"]; ok {
			line += fmt.Sprintf(" delay_ms=%v", v)
		}
		fmt.Println(line)
	}
	return nil
}
