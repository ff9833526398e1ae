package cmd

import (
	"github.com/spf13/cobra"

	"botminder/internal/daemon"
)

// NewSessionCommand is the in-session entry point, spawned detached by
// 'botminder start'. Hidden because operators never run it directly.
func NewSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "session",
		Short:  "Run the supervisor session in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.New().Run()
		},
	}
}
