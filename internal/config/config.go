// Package config loads nyashd settings from layered JSONC files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"go.uber.org/zap/zapcore"
)

// Error variables for config loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrConfigExists       = errors.New("config file already exists")
	ErrDBPathEmpty        = errors.New("db_path cannot be empty")
	ErrListenEmpty        = errors.New("listen cannot be empty")
	ErrTimeoutInvalid     = errors.New("timeout must be positive")
	ErrJobLenInvalid      = errors.New("default_job_len must be > 0")
	ErrLogFormatInvalid   = errors.New("log_format must be json or console")
	ErrLogLevelInvalid    = errors.New("unknown log_level")
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	DBPath        string   `json:"db_path"`
	Listen        string   `json:"listen"`
	StaleTimeout  Duration `json:"stale_timeout"`
	OpenTimeout   Duration `json:"open_timeout"`
	DefaultJobLen uint64   `json:"default_job_len"`
	LogLevel      string   `json:"log_level"`
	LogFormat     string   `json:"log_format"`
	Metrics       *bool    `json:"metrics,omitempty"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	DBPathAbs    string `json:"-"` // Absolute path to the ledger file

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// MetricsEnabled reports whether /metrics is served. Defaults to true.
func (c Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// Defaults.
const (
	DefaultDBPath        = "nyash.db"
	DefaultListen        = "127.0.0.1:7878"
	DefaultStaleTimeout  = 1200 * time.Second
	DefaultOpenTimeout   = 10 * time.Second
	DefaultJobLen uint64 = 1 << 32
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		DBPath:        DefaultDBPath,
		Listen:        DefaultListen,
		StaleTimeout:  Duration(DefaultStaleTimeout),
		OpenTimeout:   Duration(DefaultOpenTimeout),
		DefaultJobLen: DefaultJobLen,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// FileName is the project config file name.
const FileName = ".nyashd.json"

// GlobalPath returns $XDG_CONFIG_HOME/nyashd/config.json, falling back to
// ~/.config/nyashd/config.json. Empty if neither variable is set.
func GlobalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "nyashd", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "nyashd", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	DBPathOverride  string            // --db flag value; empty means no override
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/nyashd/config.json)
// 3. Project config (.nyashd.json in the working directory), or the
// explicit file given with -c instead
// 4. CLI overrides.
//
// DBPathAbs is resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Default()

	global := GlobalPath(input.Env)
	if global != "" {
		globalCfg, loaded, err := loadFile(global, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = global
			cfg = merge(cfg, globalCfg)
		}
	}

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	if input.DBPathOverride != "" {
		cfg.DBPath = input.DBPathOverride
	}

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.DBPath) {
		cfg.DBPathAbs = cfg.DBPath
	} else {
		cfg.DBPathAbs = filepath.Join(workDir, cfg.DBPath)
	}

	return cfg, nil
}

// loadProject loads .nyashd.json from workDir, or the explicit file if set.
func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		path := filepath.Join(workDir, FileName)

		cfg, loaded, err := loadFile(path, false)
		if err != nil || !loaded {
			return Config{}, "", err
		}

		return cfg, path, nil
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile reads one config file. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !mustExist && errors.Is(err, os.ErrNotExist) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes one JSONC document. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var cfg Config

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]json.RawMessage

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["db_path"]; ok && string(v) == `""` {
		return Config{}, ErrDBPathEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DBPath != "" {
		base.DBPath = overlay.DBPath
	}

	if overlay.Listen != "" {
		base.Listen = overlay.Listen
	}

	if overlay.StaleTimeout != 0 {
		base.StaleTimeout = overlay.StaleTimeout
	}

	if overlay.OpenTimeout != 0 {
		base.OpenTimeout = overlay.OpenTimeout
	}

	if overlay.DefaultJobLen != 0 {
		base.DefaultJobLen = overlay.DefaultJobLen
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	if overlay.Metrics != nil {
		base.Metrics = overlay.Metrics
	}

	return base
}

// Validate checks a fully merged config.
func Validate(cfg Config) error {
	switch {
	case cfg.DBPath == "":
		return ErrDBPathEmpty
	case cfg.Listen == "":
		return ErrListenEmpty
	case cfg.StaleTimeout < Duration(time.Second):
		return fmt.Errorf("stale_timeout %s: %w", cfg.StaleTimeout, ErrTimeoutInvalid)
	case cfg.OpenTimeout <= 0:
		return fmt.Errorf("open_timeout %s: %w", cfg.OpenTimeout, ErrTimeoutInvalid)
	case cfg.DefaultJobLen == 0:
		return ErrJobLenInvalid
	case cfg.LogFormat != "json" && cfg.LogFormat != "console":
		return fmt.Errorf("%w: %q", ErrLogFormatInvalid, cfg.LogFormat)
	}

	_, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}

	return nil
}

// WriteDefault writes the default config as an annotated JSONC file. It
// refuses to overwrite an existing file.
func WriteDefault(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	err = os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	err = atomic.WriteFile(path, bytes.NewReader(defaultFile()))
	if err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	return nil
}

func defaultFile() []byte {
	d := Default()

	var b bytes.Buffer

	b.WriteString("// nyashd configuration (JSON with comments).\n{\n")
	fmt.Fprintf(&b, "\t// Ledger file, relative to the working directory.\n\t%q: %q,\n", "db_path", d.DBPath)
	fmt.Fprintf(&b, "\t// Address the worker API listens on.\n\t%q: %q,\n", "listen", d.Listen)
	fmt.Fprintf(&b, "\t// Leases older than this are handed to the next worker.\n\t%q: %q,\n", "stale_timeout", d.StaleTimeout)
	fmt.Fprintf(&b, "\t// How long to wait for the ledger file lock.\n\t%q: %q,\n", "open_timeout", d.OpenTimeout)
	fmt.Fprintf(&b, "\t// Job length used when a request does not ask for one.\n\t%q: %d,\n", "default_job_len", d.DefaultJobLen)
	fmt.Fprintf(&b, "\t%q: %q,\n", "log_level", d.LogLevel)
	fmt.Fprintf(&b, "\t// json or console.\n\t%q: %q,\n", "log_format", d.LogFormat)
	fmt.Fprintf(&b, "\t%q: true,\n", "metrics")
	b.WriteString("}\n")

	return b.Bytes()
}

// Duration is a time.Duration written as a Go duration string ("20m").
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"20m\": %w", err)
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)

	return nil
}
