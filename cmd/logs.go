package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"botminder/internal/core"
)

func NewLogsCommand() *cobra.Command {
	var lines int
	var follow bool

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the bot's log",
		Long: `Print the tail of the bot's log (bot.log in the log directory).

With --follow the command keeps printing as the bot writes, surviving log
rotation by reopening the file when it shrinks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := core.GetBotLogPath()

			offset, err := printTail(cmd.OutOrStdout(), path, lines)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followLog(cmd.OutOrStdout(), path, offset)
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")

	return logsCmd
}

// printTail writes the last n lines of the file and returns the file size, the
// offset following picks up from.
func printTail(w io.Writer, path string, n int) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no log yet at %s (is the session running?)", path)
		}
		return 0, err
	}

	text := strings.TrimRight(string(data), "\n")
	if text != "" {
		split := strings.Split(text, "\n")
		if n > 0 && len(split) > n {
			split = split[len(split)-n:]
		}
		for _, line := range split {
			fmt.Fprintln(w, line)
		}
	}
	return int64(len(data)), nil
}

// followLog polls the file for growth. A size below the last offset means the
// log was rotated; following restarts from the top of the fresh file.
func followLog(w io.Writer, path string, offset int64) error {
	for {
		time.Sleep(500 * time.Millisecond)

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Mid-rotation window: the active file reappears shortly
				continue
			}
			return err
		}
		if info.Size() < offset {
			offset = 0
		}
		if info.Size() == offset {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return err
		}
		n, err := io.Copy(w, f)
		f.Close()
		if err != nil {
			return err
		}
		offset += n
	}
}
