package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gatescan/internal/api"
	"github.com/roach88/gatescan/internal/telemetry"
)

// version is reported as the service version in traces.
var version = "dev"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local validation daemon",
		Long: `Serve the scan, download, sync, stats, clear and mode operations over a
local HTTP API for a scanning UI, with a WebSocket feed of outcomes at
/v1/feed and Prometheus metrics at /metrics.

Traces are exported over OTLP/gRPC when telemetry.otlp_endpoint is set.

Example:
  gatescan serve --listen 127.0.0.1:8787
  gatescan --config /etc/gatescan.yaml serve --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides api.listen)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := opts.loadConfig()
	if err != nil {
		return fail(f, "serve", err)
	}
	listen := cfg.API.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	}, slog.Default())
	if err != nil {
		return fail(f, "serve", WrapExitError(ExitCommandError, "failed to initialize tracing", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("error flushing traces", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	a, err := opts.openApp(metrics)
	if err != nil {
		return fail(f, "serve", err)
	}
	defer a.Close()

	hub := api.NewHub(slog.Default())
	go hub.Run(ctx)

	srv := api.New(a.svc, hub, api.WithLogger(slog.Default()), api.WithMetrics(metrics))

	slog.Info("daemon starting", "db", a.cfg.Store.Path, "listen", listen, "mode", a.svc.Mode().Effective())
	if f.Format == "text" {
		fmt.Fprintf(f.Writer, "Serving on %s. Press Ctrl-C to stop.\n", listen)
	}

	if err := srv.Serve(ctx, listen); err != nil {
		return fail(f, "serve", WrapExitError(ExitFailure, "api server error", err))
	}

	slog.Info("daemon stopped gracefully")
	return nil
}
