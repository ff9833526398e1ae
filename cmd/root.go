package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"botminder/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "botminder",
		Short: "Botminder - trading bot supervisor",
		Long: `Botminder keeps an external trading bot alive: it resolves the bot's
secrets, rotates its log, relaunches it with a two-tier backoff when it
exits, and probes the market-data and messaging APIs it depends on.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return core.InitializeConfig(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewStartCommand(),
		NewStopCommand(),
		NewStatusCommand(),
		NewSessionCommand(),
		NewEnvCommand(),
		NewProbeCommand(),
		NewLogsCommand(),
		NewSecretCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

func setupLogging() {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}
