package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/hearth/internal/config"
	"github.com/roach88/hearth/internal/httpapi"
	"github.com/roach88/hearth/internal/metrics"
	"github.com/roach88/hearth/internal/netstatus"
	"github.com/roach88/hearth/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	HTTPAddr string
	NoHTTP   bool
	Offline  bool

	// Ready, if set, receives the control surface address once it is
	// listening (for testing).
	Ready chan<- string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync service",
		Long: `Start the long-running sync service.

The service opens the local queue (creating it if it doesn't exist), connects
to the remote, and flushes the queue at startup, whenever connectivity comes
back, and on every manual refresh (POST /v1/sync). The HTTP control surface
also accepts new tasks and serves Prometheus metrics on /metrics.

Example:
  hearth run --config hearth.yaml
  hearth run --db /tmp/queue.db --http 127.0.0.1:7420 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http", "", "control surface listen address (overrides http.address)")
	cmd.Flags().BoolVar(&opts.NoHTTP, "no-http", false, "disable the control surface")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "start disconnected (memory remote only)")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	if opts.HTTPAddr != "" {
		cfg.HTTP.Address = opts.HTTPAddr
	}
	if opts.NoHTTP {
		cfg.HTTP.Address = ""
	}
	setupLogging(cfg.Log, cmd.ErrOrStderr())

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open queue", err)
	}
	defer closeStore()

	conn, err := openRemote(ctx, cfg.Remote)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRemote, "failed to connect to remote", err)
	}
	defer conn.close()

	eng := newEngine(st, conn, cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	eng.Subscribe(metrics.New(reg))

	detector := newDetector(ctx, cfg, conn, opts.Offline)
	sched := scheduler.New(eng, detector, schedulerOptions(cfg.Sync)...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if cfg.HTTP.Address != "" {
		handler := httpapi.NewHandler(httpapi.Deps{
			Queue:    eng,
			Store:    st,
			Trigger:  sched,
			Detector: detector,
			Metrics:  metrics.Handler(reg),
		})
		addr, stop, err := serveHTTP(cfg.HTTP, handler)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to start control surface", err)
		}
		defer stop()
		if opts.Ready != nil {
			opts.Ready <- addr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Control surface listening on http://%s\n", addr)
	}

	slog.Info("sync service starting",
		"db", cfg.Store.Path,
		"remote", cfg.Remote.Driver,
		"online", detector.Online(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync service started. Press Ctrl-C to stop.")

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return formatter.Fail(ExitFailure, ErrCodeSync, "scheduler error", err)
	}

	slog.Info("sync service stopped gracefully")
	return nil
}

// newDetector picks the connectivity source. A Prober runs until ctx ends.
func newDetector(ctx context.Context, cfg *config.Config, conn *remoteConn, offline bool) netstatus.Detector {
	if cfg.Remote.Driver == config.DriverMemory {
		return netstatus.NewManual(!offline)
	}
	p := netstatus.NewProber(conn.pinger, cfg.Remote.ProbeInterval, cfg.Remote.Timeout)
	go func() {
		_ = p.Run(ctx)
	}()
	return p
}

func schedulerOptions(cfg config.SyncConfig) []scheduler.Option {
	var opts []scheduler.Option
	if cfg.RefreshRate > 0 {
		opts = append(opts, scheduler.WithRefreshLimit(rate.Limit(cfg.RefreshRate), cfg.RefreshBurst))
	}
	if r := cfg.Retry; r.Enabled {
		opts = append(opts, scheduler.WithRetry(scheduler.Backoff{
			Initial:     r.Initial,
			Max:         r.Max,
			Coefficient: r.Coefficient,
			MaxAttempts: r.MaxAttempts,
		}))
	}
	return opts
}

// serveHTTP starts the control surface and returns its bound address and a
// function that shuts it down gracefully.
func serveHTTP(cfg config.HTTPConfig, handler http.Handler) (string, func(), error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control surface failed", "error", err)
		}
	}()

	addr := ln.Addr().String()
	slog.Info("control surface listening", "addr", addr)
	return addr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("control surface shutdown", "error", err)
		}
	}, nil
}
