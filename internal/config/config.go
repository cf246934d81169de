// Package config loads hearth.yaml.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Remote drivers.
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type (
	Config struct {
		// Store is the durable task queue.
		Store StoreConfig `yaml:"store"`

		// Remote is the document store tasks replay into.
		Remote RemoteConfig `yaml:"remote"`

		Log  LogConfig  `yaml:"log"`
		HTTP HTTPConfig `yaml:"http"`
		Sync SyncConfig `yaml:"sync"`
	}

	StoreConfig struct {
		// Path is the SQLite file. Created if missing.
		Path string `yaml:"path"`
	}

	RemoteConfig struct {
		// Driver is "memory" or "mongo".
		Driver string `yaml:"driver"`
		// URI and Database are required for the mongo driver.
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
		// Timeout bounds each remote call, including connect.
		Timeout time.Duration `yaml:"timeout"`
		// ProbeInterval is how often reachability is checked.
		ProbeInterval time.Duration `yaml:"probeInterval"`
	}

	LogConfig struct {
		// Level is debug, info, warn or error.
		Level string `yaml:"level"`
		// Format is "text" or "json".
		Format string `yaml:"format"`
	}

	HTTPConfig struct {
		// Address is the control surface listen address. Empty disables it.
		Address      string        `yaml:"address"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
	}

	SyncConfig struct {
		// RefreshRate limits manual refreshes per second. Zero means unlimited.
		RefreshRate  float64 `yaml:"refreshRate"`
		RefreshBurst int     `yaml:"refreshBurst"`

		// Retry re-runs a halted cycle without waiting for a trigger.
		Retry RetryConfig `yaml:"retry"`
	}

	RetryConfig struct {
		Enabled     bool          `yaml:"enabled"`
		Initial     time.Duration `yaml:"initial"`
		Max         time.Duration `yaml:"max"`
		Coefficient float64       `yaml:"coefficient"`
		MaxAttempts int           `yaml:"maxAttempts"`
	}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "hearth.db"},
		Remote: RemoteConfig{
			Driver:        DriverMemory,
			Database:      "hearth",
			Timeout:       10 * time.Second,
			ProbeInterval: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: FormatText},
		HTTP: HTTPConfig{
			Address:      "127.0.0.1:7420",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			RefreshRate:  1,
			RefreshBurst: 3,
			Retry: RetryConfig{
				Initial:     time.Second,
				Max:         time.Minute,
				Coefficient: 2,
			},
		},
	}
}

// Load reads path over Default. Unknown keys are an error.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	d := yaml.NewDecoder(file)
	d.KnownFields(true)
	if err := d.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	switch c.Remote.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Remote.URI == "" {
			errs = append(errs, errors.New("remote.uri is required for the mongo driver"))
		}
		if c.Remote.Database == "" {
			errs = append(errs, errors.New("remote.database is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.driver %q is not one of memory, mongo", c.Remote.Driver))
	}
	// Remote calls run detached from cancellation, so the timeout is the
	// only bound on a hung call.
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Remote.ProbeInterval < 0 {
		errs = append(errs, errors.New("remote.probeInterval must not be negative"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != FormatText && c.Log.Format != FormatJSON {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	if c.Sync.RefreshRate < 0 {
		errs = append(errs, errors.New("sync.refreshRate must not be negative"))
	}
	if c.Sync.RefreshRate > 0 && c.Sync.RefreshBurst < 1 {
		errs = append(errs, errors.New("sync.refreshBurst must be at least 1 when refreshRate is set"))
	}
	if r := c.Sync.Retry; r.Enabled {
		if r.Initial <= 0 {
			errs = append(errs, errors.New("sync.retry.initial must be positive"))
		}
		if r.Max > 0 && r.Max < r.Initial {
			errs = append(errs, errors.New("sync.retry.max must not be below sync.retry.initial"))
		}
		if r.Coefficient < 1 {
			errs = append(errs, errors.New("sync.retry.coefficient must be at least 1"))
		}
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// String renders the effective configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}
	return string(out)
}
