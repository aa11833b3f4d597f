package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/gatescan/internal/api"
	"github.com/roach88/gatescan/internal/config"
	"github.com/roach88/gatescan/internal/mode"
	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/scanner"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/syncer"
	"github.com/roach88/gatescan/internal/telemetry"
)

// app is the wiring shared by every command that touches the store.
type app struct {
	cfg   config.Config
	store *store.Store
	svc   *scanner.Service
}

// loadConfig reads the config file, applies flag overrides and validates
// the result.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Store.Path = o.Database
	}
	if o.Offline {
		cfg.Scanner.OfflineMode = true
	}
	if o.Disconnected {
		cfg.Scanner.Disconnected = true
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openApp loads config, opens the store and builds the scanner service.
// The caller must Close the app.
func (o *RootOptions) openApp(metrics *telemetry.Metrics) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	slog.Debug("opening database", "path", cfg.Store.Path, "driver", cfg.Store.Driver)
	st, err := store.Open(cfg.Store.Path,
		store.WithDriver(cfg.Store.Driver),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client, err := newRemoteClient(cfg, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid server settings", err)
	}

	ctl := mode.New(
		mode.WithLogger(logger),
		mode.WithInitialState(mode.State{OfflineModeEnabled: cfg.Scanner.OfflineMode, IsOnline: !cfg.Scanner.Disconnected}),
	)
	svc := scanner.New(st, client, ctl,
		scanner.WithLogger(logger),
		scanner.WithMetrics(metrics),
		scanner.WithDebounce(cfg.Scanner.Debounce),
		scanner.WithSyncOptions(
			syncer.WithDownloadAttempts(cfg.Sync.DownloadAttempts),
			syncer.WithRetryInterval(cfg.Sync.RetryInterval),
		),
	)
	return &app{cfg: cfg, store: st, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func newRemoteClient(cfg config.Config, logger *slog.Logger) (*remote.Client, error) {
	opts := []remote.Option{
		remote.WithTimeout(cfg.Server.Timeout),
		remote.WithLogger(logger),
	}
	cookie, err := cfg.SessionCookie()
	if err != nil {
		return nil, err
	}
	if cookie != nil {
		opts = append(opts, remote.WithSessionCookie(cookie))
	}
	return remote.New(cfg.Server.URL, opts...)
}

// fail reports err through the formatter and returns the matching exit
// error. Connectivity and authority failures exit with ExitFailure.
func fail(f *OutputFormatter, op string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		_ = f.Error("COMMAND_ERROR", exitErr.Error(), nil)
		return exitErr
	}
	if errors.Is(err, context.Canceled) {
		_ = f.Error("CANCELED", op+" canceled", nil)
		return WrapExitError(ExitFailure, op+" canceled", err)
	}

	_, code := api.Classify(err)
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(ExitFailure, op+" failed", err)
}
