package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"botminder/internal/daemon"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the bot session",
		Long: `Start the supervised bot session in the background.

The session keeps the bot process alive, relaunching it after exits, until
explicitly stopped with 'botminder stop'.

If a session is already running, this command reports it and does nothing.`,
		Aliases: []string{"up"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon.IsRunning() {
				// Idempotent no-op: this is what prevents duplicate supervisors
				response, _ := daemon.SendCommand("VERSION")
				if data, ok := response.Data.(map[string]interface{}); ok {
					if version, ok := data["version"].(string); ok {
						slog.Info(fmt.Sprintf("Session is already running (version %s)", version))
						return nil
					}
				}
				slog.Info("Session is already running")
				return nil
			}

			slog.Info("Starting bot session...")
			if err := daemon.StartSession(); err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}

			if err := daemon.WaitForSession(); err != nil {
				return fmt.Errorf("session failed to start (check logs/session.log): %w", err)
			}

			slog.Info("Session started")
			return nil
		},
	}
}
