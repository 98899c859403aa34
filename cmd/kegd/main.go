// Command kegd runs the kegdb server: it recovers the storage core from
// its data directory and serves the wire protocol over TCP until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kegdb/kegdb/internal/config"
	"github.com/kegdb/kegdb/internal/metrics"
	"github.com/kegdb/kegdb/internal/server"
	"github.com/kegdb/kegdb/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Default()
	var logLevel string

	cmd := &cobra.Command{
		Use:   "kegd",
		Short: "kegd serves kegdb's wire protocol over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, logLevel)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ListenAddr, "listen", config.DefaultListenAddr, "TCP address to listen on")
	flags.StringVar(&opts.DataDir, "data-dir", config.DefaultDataDir, "directory holding the WAL and segments")
	flags.IntVar(&opts.FlushThreshold, "flush-threshold", config.DefaultFlushThreshold, "memtable record count that triggers a flush")
	flags.BoolVar(&opts.SyncOnWrite, "sync-on-write", config.DefaultSyncOnWrite, "fsync the WAL after every append")
	flags.DurationVar(&opts.ShutdownGrace, "shutdown-grace", config.DefaultShutdownGrace, "time to wait for connections to drain on shutdown")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func run(opts config.Options, logLevel string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	met := metrics.New()

	st, err := store.Open(opts, met)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			sugar.Errorw("error closing store", "error", cerr)
		}
	}()

	srv := server.New(server.Config{
		ListenAddr: opts.ListenAddr,
		Store:      st,
		Logger:     sugar,
		Metrics:    met,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sugar.Infow("shutting down", "grace", opts.ShutdownGrace)
		done := make(chan error, 1)
		go func() { done <- srv.Shutdown() }()
		select {
		case err := <-done:
			return err
		case <-time.After(opts.ShutdownGrace):
			sugar.Warnw("shutdown grace period exceeded, exiting anyway")
			return nil
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}
