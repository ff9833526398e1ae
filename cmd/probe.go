package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"botminder/internal/core"
	"botminder/internal/db"
	"botminder/internal/envset"
	"botminder/internal/keyring"
	"botminder/internal/logrotate"
	"botminder/internal/probe"
)

func NewProbeCommand() *cobra.Command {
	var asJSON bool
	var watch bool

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the bot's upstream APIs",
		Long: `Probe the third-party APIs the bot depends on (Telegram plus every
market-data provider whose key resolved) and report reachability per target.

Targets can be overridden with a probes.hcl file in the config directory.
Results are appended to healthcheck.log and recorded in the run database.

Exits non-zero when any probe fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envset.LoadWithFallback(core.GetEnvFilePath(), keyring.Fallback)
			if err != nil {
				return err
			}

			targetsFn := func() ([]probe.Target, error) {
				env, err := envset.LoadWithFallback(core.GetEnvFilePath(), keyring.Fallback)
				if err != nil {
					return nil, err
				}
				return probe.LoadTargets(core.GetProbeDefPath(), env)
			}

			targets, err := probe.LoadTargets(core.GetProbeDefPath(), env)
			if err != nil {
				return err
			}

			var logSink io.Writer
			if probeLog, err := openProbeLog(); err != nil {
				slog.Warn("Probe log unavailable, results not persisted to file", "error", err)
			} else {
				defer probeLog.Close()
				logSink = probeLog
			}

			// Best effort: probes still run when the database cannot open
			var recorder probe.Recorder
			if database, err := db.Open(core.GetDBPath()); err == nil {
				defer database.Close()
				recorder = database
			} else {
				slog.Warn("Run database unavailable, probe history not recorded", "error", err)
			}

			prober := probe.New(logSink, recorder)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			if watch {
				interval := time.Duration(core.GetProbeInterval()) * time.Second
				if interval <= 0 {
					interval = time.Duration(probe.DefaultInterval) * time.Second
				}
				slog.Info("Watching probes", "interval", interval)
				prober.Watch(ctx, interval, targetsFn)
				return nil
			}

			report := prober.RunAll(ctx, targets)
			if asJSON {
				if err := probe.RenderJSON(os.Stdout, report); err != nil {
					return err
				}
			} else {
				probe.RenderText(os.Stdout, report)
			}
			if !report.Healthy {
				return fmt.Errorf("one or more probes failed")
			}
			return nil
		},
	}
	probeCmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	probeCmd.Flags().BoolVar(&watch, "watch", false, "keep probing on the configured interval")

	return probeCmd
}

// openProbeLog rotates healthcheck.log at the size threshold, then opens it
// for append. Rotation here mirrors the bot log: only between runs, never
// mid-write.
func openProbeLog() (*os.File, error) {
	path := core.GetProbeLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if archived, err := logrotate.Rotate(path, core.GetLogMaxSize()); err != nil {
		slog.Warn("Probe log rotation failed", "error", err)
	} else if archived != "" {
		slog.Info("Rotated probe log", "archive", archived)
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}
