package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"botminder/internal/daemon"
)

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the bot session",
		Long: `Stop the supervised bot session.

The session terminates the bot gracefully (SIGTERM, bounded wait, then
SIGKILL) and shuts down. If the session does not answer within ten one-second
checks, it is force-terminated via its PID record.`,
		Aliases: []string{"down", "shutdown"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			response, err := daemon.SendCommand("STOP")
			if err != nil {
				if pid := daemon.SessionPid(); pid != 0 {
					// Socket is gone but a PID record remains; clean up directly
					slog.Warn("Session not answering, terminating by PID record", "pid", pid)
					if err := daemon.ForceStop(); err != nil {
						return err
					}
					slog.Info("Session stopped")
					return nil
				}
				slog.Warn("Session is not running")
				return nil
			}
			response.LogMessages()

			if daemon.WaitForSessionStop(daemon.StopPollAttempts) {
				slog.Info("Session stopped")
				return nil
			}

			slog.Warn("Session did not stop within the graceful window, forcing termination")
			if err := daemon.ForceStop(); err != nil {
				return fmt.Errorf("session could not be stopped: %w", err)
			}
			slog.Info("Session stopped (forced)")
			return nil
		},
	}
}
