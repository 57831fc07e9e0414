package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/clutch/internal/logging"
)

const (
	// BaseDirName is the directory under $HOME holding all clutch state.
	BaseDirName = ".clutch"

	// FileName is the config file inside the base directory.
	FileName = "config.toml"

	// SessionsDirName holds one signal subdirectory per live session.
	SessionsDirName = "sessions"

	// HomeEnv overrides the base directory (used by tests and side-by-side installs).
	HomeEnv = "CLUTCH_HOME"
)

// Config is the root of config.toml.
type Config struct {
	Sessions SessionSettings  `toml:"sessions"`
	Activity ActivitySettings `toml:"activity"`
	Web      WebSettings      `toml:"web"`
	Logs     LogSettings      `toml:"logs"`
}

// SessionSettings controls PTY sessions and the signal store.
type SessionSettings struct {
	// Dir is the signal store root. Default: <base>/sessions
	Dir string `toml:"dir"`

	// CleanupOnStartup deletes every leftover session dir when the server starts.
	// Leave false when sessions are expected to survive a host restart externally.
	CleanupOnStartup bool `toml:"cleanup_on_startup"`

	// FallbackShell is used when $SHELL is unset. Default depends on platform.
	FallbackShell string `toml:"fallback_shell"`

	DefaultCols int `toml:"default_cols"`
	DefaultRows int `toml:"default_rows"`
}

// ActivitySettings controls the activity poller.
type ActivitySettings struct {
	// PollIntervalMs is the scan period. Default: 500
	PollIntervalMs int `toml:"poll_interval_ms"`

	// UseFsnotify wakes the poller early on filesystem events. Default: true
	UseFsnotify bool `toml:"use_fsnotify"`
}

// WebSettings controls the local control surface.
type WebSettings struct {
	// Listen is the HTTP listen address. Default: 127.0.0.1:7420
	Listen string `toml:"listen"`

	// Token, when set, is required as ?token= or a bearer token.
	Token string `toml:"token"`
}

// LogSettings mirrors logging.Config.
type LogSettings struct {
	Level              string `toml:"level"`
	Format             string `toml:"format"`
	MaxMB              int    `toml:"max_mb"`
	Backups            int    `toml:"backups"`
	RetentionDays      int    `toml:"retention_days"`
	Compress           bool   `toml:"compress"`
	AggregateIntervalS int    `toml:"aggregate_interval_s"`
	PprofAddr          string `toml:"pprof_addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Sessions: SessionSettings{
			DefaultCols: 80,
			DefaultRows: 24,
		},
		Activity: ActivitySettings{
			PollIntervalMs: 500,
			UseFsnotify:    true,
		},
		Web: WebSettings{
			Listen: "127.0.0.1:7420",
		},
		Logs: LogSettings{
			Level:  "info",
			Format: "json",
		},
	}
}

// BaseDir returns ~/.clutch, or $CLUTCH_HOME when set.
func BaseDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, BaseDirName), nil
}

// Path returns the path to config.toml.
func Path() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads config.toml from the base directory. A missing file yields
// defaults. A parse error yields defaults plus the error so the caller can
// report it and keep running.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		cfg := Default()
		return cfg, cfg.resolve()
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.resolve()
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		cfg = Default()
		if rerr := cfg.resolve(); rerr != nil {
			return cfg, rerr
		}
		return cfg, fmt.Errorf("config.toml parse error: %w", err)
	}

	return cfg, cfg.resolve()
}

// resolve fills derived defaults that depend on the environment.
func (c *Config) resolve() error {
	if c.Sessions.Dir == "" {
		base, err := BaseDir()
		if err != nil {
			return err
		}
		c.Sessions.Dir = filepath.Join(base, SessionsDirName)
	}
	var errs []error
	if c.Sessions.DefaultCols > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("sessions.default_cols %d out of range (max %d), using 80",
			c.Sessions.DefaultCols, math.MaxUint16))
		c.Sessions.DefaultCols = 80
	}
	if c.Sessions.DefaultRows > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("sessions.default_rows %d out of range (max %d), using 24",
			c.Sessions.DefaultRows, math.MaxUint16))
		c.Sessions.DefaultRows = 24
	}
	if c.Sessions.DefaultCols <= 0 {
		c.Sessions.DefaultCols = 80
	}
	if c.Sessions.DefaultRows <= 0 {
		c.Sessions.DefaultRows = 24
	}
	if c.Activity.PollIntervalMs <= 0 {
		c.Activity.PollIntervalMs = 500
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:7420"
	}
	return errors.Join(errs...)
}

// DefaultSize returns the initial window size for sessions created without one.
func (c *Config) DefaultSize() (cols, rows uint16) {
	return uint16(c.Sessions.DefaultCols), uint16(c.Sessions.DefaultRows)
}

// PollInterval returns the poller period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Activity.PollIntervalMs) * time.Millisecond
}

// LogConfig converts the [logs] section into a logging.Config rooted at the base dir.
func (c *Config) LogConfig(debug bool) logging.Config {
	lc := logging.Config{
		Level:                 c.Logs.Level,
		Format:                c.Logs.Format,
		MaxSizeMB:             c.Logs.MaxMB,
		MaxBackups:            c.Logs.Backups,
		MaxAgeDays:            c.Logs.RetentionDays,
		Compress:              c.Logs.Compress,
		AggregateIntervalSecs: c.Logs.AggregateIntervalS,
		PprofAddr:             c.Logs.PprofAddr,
		Debug:                 debug,
	}
	if base, err := BaseDir(); err == nil {
		lc.LogDir = base
	}
	if debug {
		lc.Level = "debug"
	}
	return lc
}
