package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"botminder/internal/core"
	"botminder/internal/envset"
	"botminder/internal/keyring"
)

func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Check the bot's secrets resolution",
		Long: `Resolve the secrets file (plus any keyring-stored secrets) the way the
session does at startup, and print which canonical keys are SET or MISSING.
Values are never printed.

Exits non-zero when the resolution would fail, i.e. when the Telegram bot
token or every market-data provider key is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := core.GetEnvFilePath()
			raw, err := envset.ReadFile(path)
			if err != nil {
				return err
			}

			set := envset.Inspect(raw, keyring.Fallback)
			fmt.Printf("secrets file: %s\n", path)
			set.Summary(os.Stdout)

			if err := set.Validate(); err != nil {
				return err
			}
			slog.Info(fmt.Sprintf("Environment resolves cleanly (providers: %s)",
				strings.Join(set.Providers(), ", ")))
			return nil
		},
	}
}
