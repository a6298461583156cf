package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Package-level logger
var logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// initLogger initializes the structured logger based on the log level
func initLogger(logLevel string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger = slog.New(handler)
}

// bindFlags registers every command-line option onto cfg's fields
func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Input, "input", cfg.Input, "trace file to read")
	fs.StringVar(&cfg.SerialSocket, "serial-socket", cfg.SerialSocket, "read the trace from host:port instead of a file")

	fs.StringVar(&cfg.Output, "output", cfg.Output, "trust update stream (empty disables)")
	fs.StringVar(&cfg.MetricsOut, "metrics-out", cfg.MetricsOut, "per-update metrics CSV (empty disables)")
	fs.StringVar(&cfg.BlacklistOut, "blacklist-out", cfg.BlacklistOut, "blacklist transitions CSV (empty disables)")
	fs.StringVar(&cfg.ExposureOut, "exposure-out", cfg.ExposureOut, "exposure snapshot CSV (empty disables)")
	fs.StringVar(&cfg.StatsOut, "stats-out", cfg.StatsOut, "periodic stats CSV (empty disables)")
	fs.IntVar(&cfg.StatsEvery, "stats-every", cfg.StatsEvery, "write a stats row every N lines (0 disables)")
	fs.StringVar(&cfg.ParentOut, "parent-out", cfg.ParentOut, "parent stability CSV written at end of run")
	fs.StringVar(&cfg.SummaryOut, "summary-out", cfg.SummaryOut, "final per-node trust summary")

	fs.StringVar(&cfg.Metric, "metric", cfg.Metric, "reported trust estimator: ewma, bayes or beta")
	fs.Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "weight kept on the previous EWMA value")
	fs.Float64Var(&cfg.BetaA, "beta-a", cfg.BetaA, "Beta prior successes")
	fs.Float64Var(&cfg.BetaB, "beta-b", cfg.BetaB, "Beta prior failures")
	fs.Float64Var(&cfg.EWMAMin, "ewma-min", cfg.EWMAMin, "blacklist below this EWMA")
	fs.Float64Var(&cfg.BayesMin, "bayes-min", cfg.BayesMin, "blacklist below this Laplace estimate")
	fs.Float64Var(&cfg.BetaMin, "beta-min", cfg.BetaMin, "blacklist below this Beta estimate")
	fs.Float64Var(&cfg.FwdDropThreshold, "fwd-drop-threshold", cfg.FwdDropThreshold, "blacklist when the Beta estimate is at or below 1 minus this")
	fs.BoolVar(&cfg.ForwardersOnly, "forwarders-only", cfg.ForwardersOnly, "ignore root deliveries from nodes that never reported FWD")

	fs.BoolVar(&cfg.Follow, "follow", cfg.Follow, "keep reading as the trace file grows")
	fs.IntVar(&cfg.PollMs, "poll-ms", cfg.PollMs, "follow-mode poll interval in milliseconds")
	fs.BoolVar(&cfg.FromStart, "from-start", cfg.FromStart, "in follow mode, read existing content first")

	fs.Uint16Var(&cfg.AttackerID, "attacker-id", cfg.AttackerID, "node id of the attacker relay")

	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "serve the status API on this address (empty disables)")
	fs.IntVar(&cfg.RateLimitPerMinute, "rate-limit", cfg.RateLimitPerMinute, "status API requests per minute per client")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "status API graceful shutdown timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
}

// applyFlagOverrides copies only the flags the user set on cmd onto cfg
func applyFlagOverrides(cmd *cobra.Command, cfg *Config) error {
	overrides := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	bindFlags(overrides, cfg)

	var setErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if setErr != nil || overrides.Lookup(f.Name) == nil {
			return
		}
		if err := overrides.Set(f.Name, f.Value.String()); err != nil {
			setErr = fmt.Errorf("invalid --%s: %w", f.Name, err)
		}
	})
	return setErr
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "trustengine",
		Short:         "Online trust scoring and attacker exposure for RPL sensor network traces",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, cfg); err != nil {
				return err
			}
			initLogger(cfg.LogLevel)
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file (defaults to $CONFIG_FILE)")
	bindFlags(cmd.Flags(), DefaultConfig())
	return cmd
}

// run executes one pass over the configured input
func run(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	runID := uuid.New().String()
	base := logger
	logger = base.With("runId", runID)
	defer func() { logger = base }()

	sinks, err := OpenSinks(cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	src, err := OpenLineSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	var board *StatusBoard
	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	if cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
		}
		board = NewStatusBoard(runID)
		srv := NewStatusServer(board, cfg.RateLimitPerMinute)
		go func() {
			serverDone <- srv.Serve(serverCtx, ln, cfg.ShutdownTimeout)
		}()
		logger.Info("Status API listening", "addr", ln.Addr().String())
	} else {
		serverDone <- nil
	}

	input := cfg.Input
	if cfg.SerialSocket != "" {
		input = NormalizeSocketAddr(cfg.SerialSocket)
	}
	logger.Info("Starting trust engine",
		"input", input,
		"follow", cfg.Follow,
		"metric", cfg.Metric,
		"attackerId", cfg.AttackerID)

	engine := NewEngine(cfg, sinks, board)
	runErr := engine.Run(ctx, src)

	stopServer()
	if err := <-serverDone; err != nil {
		logger.Error("Status API failed", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return sinks.Close()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Error("Trust engine failed", "error", err)
		cancel()
		os.Exit(1)
	}
}
