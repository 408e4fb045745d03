package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opspulse/opspulse/internal/config"
	"github.com/opspulse/opspulse/internal/dispatch"
	"github.com/opspulse/opspulse/internal/engine"
	"github.com/opspulse/opspulse/internal/state"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "opspulse",
		Short:         "Alerting and metrics aggregation core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)

			slog.Info("opspulse starting", "version", version, "config", *configPath)

			cfg, err := config.Load(*configPath)
			if err != nil {
				slog.Error("failed to load config", "err", err)
				return err
			}
			slog.Info("config loaded",
				"interval", cfg.Monitoring.Interval,
				"spool_dir", cfg.Monitoring.SpoolDir,
				"state_path", cfg.State.Path,
			)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			states, err := state.NewFileStore(cfg.State.Path)
			if err != nil {
				slog.Error("failed to open state store", "err", err)
				return err
			}
			summaries, err := state.NewFileStore(summaryPath(cfg.State.Path))
			if err != nil {
				slog.Error("failed to open summary store", "err", err)
				return err
			}

			var mailer dispatch.Mailer
			if cfg.Email.RelayAddr != "" {
				mailer = &dispatch.SMTPMailer{Addr: cfg.Email.RelayAddr, From: cfg.Email.From}
			}

			eng, err := engine.New(cfg, states, dispatch.ExecRunner{}, mailer)
			if err != nil {
				slog.Error("failed to build engine", "err", err)
				return err
			}
			eng.SetSummarySink(summaries)

			// Config hot-reload: live-safe settings apply immediately, the
			// rest takes effect on restart.
			go func() {
				if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
					slog.Info("config hot-reloaded")
					eng.ApplyConfig(updated)
				}); err != nil {
					slog.Error("config watcher stopped", "err", err)
				}
			}()

			eng.Run(ctx)
			slog.Info("opspulse shutting down")
			return nil
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: OK (interval %s, spool %s, state %s)\n",
				*configPath, cfg.Monitoring.Interval, cfg.Monitoring.SpoolDir, cfg.State.Path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the opspulse version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "opspulse "+version)
		},
	}
}

// summaryPath derives the summary document path from the state path:
// ./opspulse-state.json becomes ./opspulse-state-summary.json.
func summaryPath(statePath string) string {
	ext := filepath.Ext(statePath)
	return strings.TrimSuffix(statePath, ext) + "-summary" + ext
}
