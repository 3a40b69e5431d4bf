// Package config loads the dcawatch runtime configuration and builds the
// components it describes.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/dcawatch/internal/audit"
	"github.com/ppiankov/dcawatch/internal/authz"
)

// ErrInvalid marks a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid")

// Ledger storage backends.
const (
	BackendJSON   = "json"
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Contracts string       `yaml:"contracts"`
	Ledger    LedgerConfig `yaml:"ledger"`
	Authz     AuthzConfig  `yaml:"authz"`
	HTTP      HTTPConfig   `yaml:"http"`
	Log       LogConfig    `yaml:"log"`
}

type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type AuthzConfig struct {
	Mode   string `yaml:"mode"`
	Policy string `yaml:"policy"` // casbin CSV policy; empty uses the built-in roles
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Contracts: "contracts.yaml",
		Ledger: LedgerConfig{
			Backend: BackendJSON,
			Path:    "audit_ledger.json",
		},
		Authz: AuthzConfig{Mode: string(authz.ModeShadow)},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8421",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath is ~/.dcawatch/config.yaml, or empty if there is no home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dcawatch", "config.yaml")
}

// Load reads path over the defaults. An empty path means DefaultPath.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated fields and required paths.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendJSON, BackendJSONL, BackendSQLite:
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger.path is required for backend %q", ErrInvalid, c.Ledger.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalid, c.Ledger.Backend)
	}
	if _, err := authz.ParseMode(c.Authz.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}
	if c.Contracts == "" {
		return fmt.Errorf("%w: contracts path is required", ErrInvalid)
	}
	return nil
}

// OpenStore creates the configured ledger store. Failures are reported as
// *audit.InitError.
func (c *Config) OpenStore() (audit.Store, error) {
	var (
		store audit.Store
		err   error
	)
	switch c.Ledger.Backend {
	case BackendJSON:
		store, err = audit.NewFileStore(c.Ledger.Path)
	case BackendJSONL:
		store, err = audit.NewJSONLStore(c.Ledger.Path)
	case BackendSQLite:
		store, err = audit.NewSQLiteStore(c.Ledger.Path)
	case BackendMemory:
		store = audit.NewMemoryStore()
	default:
		err = fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if err != nil {
		var initErr *audit.InitError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &audit.InitError{Err: err}
	}
	return store, nil
}

// OpenLedger opens the configured store and loads the chain from it.
func (c *Config) OpenLedger() (*audit.Ledger, error) {
	store, err := c.OpenStore()
	if err != nil {
		return nil, err
	}
	l, err := audit.Open(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

// NewAuthorizer builds the role checker from the authz section.
func (c *Config) NewAuthorizer() (*authz.Authorizer, error) {
	mode, err := authz.ParseMode(c.Authz.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Authz.Policy != "" {
		a, err := authz.NewFromFile(c.Authz.Policy, mode)
		if err != nil {
			return nil, fmt.Errorf("%w: authz policy %s: %v", ErrInvalid, c.Authz.Policy, err)
		}
		return a, nil
	}
	return authz.New(mode)
}

// NewLogger builds a slog logger writing to w.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, raw)
	}
	return level, nil
}
