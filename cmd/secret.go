package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"botminder/internal/envset"
	"botminder/internal/keyring"
)

func NewSecretCommand() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: `Store bot secrets in the operating system keyring instead of the secrets
file. Keyring values act as fallbacks: a key present in the secrets file
always wins.`,
	}

	secretCmd.AddCommand(
		newSecretSetCommand(),
		newSecretUnsetCommand(),
	)
	return secretCmd
}

func newSecretSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret, prompting for the value",
		Long: `Prompt for a value and store it in the OS keyring under the given
canonical key name (e.g. TELEGRAM_BOT_TOKEN). The value is read from the
terminal without echo so it never lands in shell history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := canonicalKey(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Value for %s: ", key)
			value, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("unable to read value: %w", err)
			}
			if len(value) == 0 {
				return fmt.Errorf("empty value, nothing stored")
			}

			if err := keyring.SetSecret(key, string(value)); err != nil {
				return err
			}
			slog.Info(fmt.Sprintf("Stored %s in the OS keyring", key))
			return nil
		},
	}
}

func newSecretUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := canonicalKey(args[0])
			if err != nil {
				return err
			}
			if err := keyring.DeleteSecret(key); err != nil {
				return err
			}
			slog.Info(fmt.Sprintf("Removed %s from the OS keyring", key))
			return nil
		},
	}
}

// canonicalKey maps a key name (canonical or alias, any case) to its canonical
// form, so 'secret set twelvedata_key' stores under TWELVE_DATA_API_KEY.
func canonicalKey(name string) (string, error) {
	upper := strings.ToUpper(name)
	for _, group := range envset.Groups {
		if group.Canonical == upper {
			return group.Canonical, nil
		}
		for _, alias := range group.Aliases {
			if alias == upper {
				return group.Canonical, nil
			}
		}
	}

	known := make([]string, 0, len(envset.Groups))
	for _, group := range envset.Groups {
		known = append(known, group.Canonical)
	}
	return "", fmt.Errorf("unknown key %q (known keys: %s)", name, strings.Join(known, ", "))
}
