package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tunez/presence/internal/app"
	"github.com/tunez/presence/internal/config"
	"github.com/tunez/presence/internal/logging"
	"github.com/tunez/presence/internal/ui"
	"github.com/tunez/presence/internal/watch"
)

var (
	version     = "0.1.0"
	configFlag  string
	historyFlag int

	rootCmd = &cobra.Command{
		Use:   "tunez-presence",
		Short: "Mirror what your music players are playing into a presence status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), false)
		},
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Publish the current track until interrupted (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), false)
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline with a live view of sources and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), true)
		},
	}

	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, sources and sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), configFlag)
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Print recently published statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), configFlag, historyFlag)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tunez-presence",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tunez-presence", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (default: <config dir>/tunez-presence/config.toml)")
	historyCmd.Flags().IntVarP(&historyFlag, "n", "n", 20, "Number of entries to show")

	rootCmd.AddCommand(runCmd, watchCmd, doctorCmd, historyCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runPipeline(ctx context.Context, withView bool) error {
	cfg, cfgPath, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Logging
	if withView {
		// stderr would tear the view.
		logCfg.Stderr = false
	}
	logger, logFile, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()
	logger.Info("starting tunez-presence", slog.String("config", cfgPath), slog.String("version", version))

	opts, err := app.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a := app.New(opts)
	// The loop stops through Shutdown, not through the signal context.
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Error("start pipeline", slog.Any("err", err))
		_ = shutdown(cfg, a, logger)
		return err
	}

	if withView {
		theme := ui.GetTheme(cfg.UI.Theme, ui.NoColorEnv())
		p := tea.NewProgram(watch.New(a.Snapshot, theme), tea.WithAltScreen())
		go func() {
			select {
			case <-ctx.Done():
				p.Quit()
			case <-a.Done():
				p.Quit()
			}
		}()
		if _, err := p.Run(); err != nil {
			logger.Error("run watch view", slog.Any("err", err))
		}
	} else {
		select {
		case <-ctx.Done():
			logger.Info("signal received, shutting down")
		case <-a.Done():
			logger.Warn("publish loop stopped")
		}
	}

	return shutdown(cfg, a, logger)
}

func shutdown(cfg *config.Config, a *app.App, logger *slog.Logger) error {
	ctx, cancel := cfg.ShutdownContext()
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", slog.Any("err", err))
		return err
	}
	logger.Info("stopped")
	return nil
}

// historyPath returns the database of the first history sink, or "" for the
// default location.
func historyPath(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	for _, e := range cfg.Sinks {
		if e.Type == "history" {
			return e.String("path")
		}
	}
	return ""
}

func closeQuietly(c io.Closer) { _ = c.Close() }
