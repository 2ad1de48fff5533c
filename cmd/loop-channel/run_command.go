package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/channel"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/logging"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/metrics"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/preflight"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/tui"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [track]",
		Short: "Put the channel on air and keep it there",
		Long: "Starts the encoder on the given track (or the default loop), serves\n" +
			"metrics and the control API, and recovers from crashes until interrupted.\n" +
			"SIGHUP reloads the configuration file.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.loadStore(cmd)
			if err != nil {
				return err
			}
			track := ""
			if len(args) > 0 {
				track = args[0]
			}
			return runChannel(cmd, store, track)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func runChannel(cmd *cobra.Command, store *config.Store, track string) error {
	cfg := store.Current()

	// When the TUI is enabled, logs would corrupt the display.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	unlock, err := acquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.SkipPreflight {
		result := preflight.RunAll(ctx, preflight.FromConfig(cfg))
		preflight.PrintResults(cmd.ErrOrStderr(), result)
		if !result.Passed {
			return errors.New("preflight checks failed (use --skip-preflight to override)")
		}
	}

	c, err := channel.New(channel.Options{
		Store:   store,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		return err
	}

	var srv *metrics.Server
	if cfg.ListenAddr != "" {
		srv = metrics.NewServer(cfg.ListenAddr, c.Gatherer(), c, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer shutdownServer(srv, logger)
	}

	logger.Info("starting",
		"version", version,
		"track", track,
		"sink", cfg.Encoding.SinkAddress,
		"audio", cfg.Encoding.AudioURL,
		"listen_addr", cfg.ListenAddr,
	)
	if !cfg.TUIEnabled {
		printBanner(cmd.OutOrStdout(), cfg, track)
	}

	// Encoder failures at boot go to recovery; only configuration errors end the run.
	if err := c.Boot(ctx, track); err != nil {
		c.Supervisor().Cleanup()
		return fmt.Errorf("start channel: %w", err)
	}

	go reloadOnHangup(ctx, c, logger)

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
	}()

	if cfg.TUIEnabled {
		if err := runDashboard(ctx, c, cfg); err != nil {
			logger.Warn("tui_error", "error", err)
		}
		// Quitting the dashboard stops the channel.
		stop()
	}

	err = <-runErr
	c.PrintSummary(cmd.OutOrStdout(), cfg.ListenAddr)
	return err
}

// acquireLock takes the single-instance lock. Two channels publishing to
// the same sink would fight over it.
func acquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another loop-channel instance holds %s", path)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("lock_release_failed", "path", path, "error", err)
		}
	}, nil
}

func reloadOnHangup(ctx context.Context, c *channel.Controller, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := c.Reload(); err != nil {
				logger.Error("config_reload_failed", "error", err)
			}
		}
	}
}

// runDashboard blocks until the user quits or ctx is cancelled.
func runDashboard(ctx context.Context, c *channel.Controller, cfg *config.Config) error {
	p := tea.NewProgram(tui.New(tui.Config{
		Source:     c,
		ListenAddr: cfg.ListenAddr,
		Version:    version,
	}), tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		tui.SendQuit(p)
	}()

	_, err := p.Run()
	return err
}

func shutdownServer(srv *metrics.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config, track string) {
	if track == "" {
		track = "(default loop)"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                          loop-channel                             ║")
	fmt.Fprintln(w, "║        Looped video + live audio, supervised FFmpeg encoder       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Track:       %s\n", track)
	fmt.Fprintf(w, "  Sink:        %s\n", cfg.Encoding.SinkAddress)
	fmt.Fprintf(w, "  Audio:       %s\n", cfg.Encoding.AudioURL)
	fmt.Fprintf(w, "  Encoder:     %s %s @ %s\n", cfg.Encoding.VideoEncoder, cfg.Encoding.Resolution, cfg.Encoding.VideoBitrate)
	fmt.Fprintf(w, "  Overlap:     %s\n", cfg.Encoding.Overlap)
	if cfg.ListenAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.ListenAddr)
	}
	if !cfg.AutoRecovery {
		fmt.Fprintln(w, "  Recovery:    MANUAL (auto recovery disabled)")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}
