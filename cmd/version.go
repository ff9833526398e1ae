package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"botminder/internal/core"
	"botminder/internal/daemon"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the botminder version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("botminder %s\n", core.FormatVersion(core.Version))

			// The running session may be an older binary
			if response, err := daemon.SendCommand("VERSION"); err == nil {
				if data, ok := response.Data.(map[string]interface{}); ok {
					if v, ok := data["version"].(string); ok {
						fmt.Printf("session   %s (pid %v)\n", v, data["pid"])
					}
				}
			}
		},
	}
}
