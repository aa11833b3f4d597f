package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gatescan/internal/remote"
	"github.com/roach88/gatescan/internal/scanner"
	"github.com/roach88/gatescan/internal/store"
	"github.com/roach88/gatescan/internal/syncer"
)

//go:embed schema.cue
var schemaCUE string

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "GATESCAN_CONFIG"

// Config is the full set of settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Sync      SyncConfig      `yaml:"sync"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig locates the remote authority.
type ServerConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// SessionCookie is the "name=value" cookie obtained at login.
	SessionCookie string `yaml:"session_cookie"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	Path   string `yaml:"path"`
	Driver string `yaml:"driver"`
}

// ScannerConfig tunes scan handling.
type ScannerConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	OfflineMode bool          `yaml:"offline_mode"`

	// Disconnected starts the device with no observed connectivity. Scans
	// run offline and download and sync are refused until it comes back.
	Disconnected bool `yaml:"disconnected"`
}

// SyncConfig tunes catalog downloads.
type SyncConfig struct {
	DownloadAttempts int           `yaml:"download_attempts"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
}

// APIConfig configures the local daemon.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			URL:     remote.DefaultBaseURL,
			Timeout: remote.DefaultTimeout,
		},
		Store: StoreConfig{
			Path:   "gatescan.db",
			Driver: store.DriverCGO,
		},
		Scanner: ScannerConfig{
			Debounce: scanner.DefaultDebounce,
		},
		Sync: SyncConfig{
			DownloadAttempts: syncer.DefaultDownloadAttempts,
			RetryInterval:    500 * time.Millisecond,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8787",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "gatescan",
		},
	}
}

// Load reads settings from path, or from $GATESCAN_CONFIG when path is
// empty, applies environment overrides and validates the result. With no
// file at all the defaults are used.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML onto cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"GATESCAN_SERVER_URL":    &cfg.Server.URL,
		"GATESCAN_SESSION":       &cfg.Server.SessionCookie,
		"GATESCAN_DB":            &cfg.Store.Path,
		"GATESCAN_DRIVER":        &cfg.Store.Driver,
		"GATESCAN_LISTEN":        &cfg.API.Listen,
		"GATESCAN_OTLP_ENDPOINT": &cfg.Telemetry.OTLPEndpoint,
		"GATESCAN_SERVICE_NAME":  &cfg.Telemetry.ServiceName,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("GATESCAN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATESCAN_TIMEOUT: %w", err)
		}
		cfg.Server.Timeout = d
	}
	if v, ok := lookup("GATESCAN_OFFLINE_MODE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GATESCAN_OFFLINE_MODE: %w", err)
		}
		cfg.Scanner.OfflineMode = b
	}
	if v, ok := lookup("GATESCAN_ONLINE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GATESCAN_ONLINE: %w", err)
		}
		cfg.Scanner.Disconnected = !b
	}
	return nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := ctx.Encode(cfg.view())
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return newValidationError(err)
	}
	return nil
}

// view is the shape the schema constrains: snake_case keys and durations
// in seconds.
func (c Config) view() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"url":            c.Server.URL,
			"timeout":        c.Server.Timeout.Seconds(),
			"session_cookie": c.Server.SessionCookie,
		},
		"store": map[string]any{
			"path":   c.Store.Path,
			"driver": c.Store.Driver,
		},
		"scanner": map[string]any{
			"debounce":     c.Scanner.Debounce.Seconds(),
			"offline_mode": c.Scanner.OfflineMode,
			"disconnected": c.Scanner.Disconnected,
		},
		"sync": map[string]any{
			"download_attempts": c.Sync.DownloadAttempts,
			"retry_interval":    c.Sync.RetryInterval.Seconds(),
		},
		"api": map[string]any{
			"listen": c.API.Listen,
		},
		"telemetry": map[string]any{
			"otlp_endpoint": c.Telemetry.OTLPEndpoint,
			"service_name":  c.Telemetry.ServiceName,
		},
	}
}

// SessionCookie parses Server.SessionCookie. Returns nil when unset.
func (c Config) SessionCookie() (*http.Cookie, error) {
	if c.Server.SessionCookie == "" {
		return nil, nil
	}
	cookies, err := http.ParseCookie(c.Server.SessionCookie)
	if err != nil {
		return nil, fmt.Errorf("parse session cookie: %w", err)
	}
	return cookies[0], nil
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func newValidationError(err error) *ValidationError {
	var problems []string
	for _, e := range cueerrors.Errors(err) {
		problems = append(problems, e.Error())
	}
	if len(problems) == 0 {
		problems = []string{err.Error()}
	}
	return &ValidationError{Problems: problems}
}
