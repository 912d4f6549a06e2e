package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the per-project configuration file looked up from the
// working directory upwards.
const FileName = ".climcp.toml"

const (
	DefaultServerName     = "climcp"
	DefaultTransport      = "stdio"
	DefaultHTTPAddr       = "127.0.0.1:7777"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxTimeout     = 10 * time.Minute
	DefaultGracePeriod    = 2 * time.Second
	DefaultMaxOutputBytes = 10 << 20
	DefaultShellCacheTTL  = 5 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	TransportStdio        = "stdio"
	TransportHTTP         = "http"
)

// Config is the on-disk configuration. Every field is optional; the GetX
// accessors supply defaults so a nil section behaves like an empty one.
type Config struct {
	Server  *ServerConfig  `toml:"server,omitempty"`
	Exec    *ExecConfig    `toml:"exec,omitempty"`
	Shell   *ShellConfig   `toml:"shell,omitempty"`
	Logging *LoggingConfig `toml:"logging,omitempty"`

	// path the configuration was read from, empty for defaults
	source string
}

type ServerConfig struct {
	Name      *string `toml:"name,omitempty"`
	Transport *string `toml:"transport,omitempty"`
	HTTPAddr  *string `toml:"http_addr,omitempty"`
}

type ExecConfig struct {
	DefaultTimeoutSeconds *float64 `toml:"default_timeout_seconds,omitempty"`
	MaxTimeoutSeconds     *float64 `toml:"max_timeout_seconds,omitempty"`
	GracePeriodMs         *int     `toml:"grace_period_ms,omitempty"`
	MaxOutputBytes        *int     `toml:"max_output_bytes,omitempty"`
	WorkDir               *string  `toml:"work_dir,omitempty"`
}

// ShellConfig overrides the platform interpreter defaults. Unset fields keep
// the platform default.
type ShellConfig struct {
	PreferredName   *string  `toml:"preferred_name,omitempty"`
	PreferredPaths  []string `toml:"preferred_paths,omitempty"`
	PreferredArgs   []string `toml:"preferred_args,omitempty"`
	FallbackName    *string  `toml:"fallback_name,omitempty"`
	FallbackPath    *string  `toml:"fallback_path,omitempty"`
	FallbackArgs    []string `toml:"fallback_args,omitempty"`
	CacheTTLSeconds *float64 `toml:"cache_ttl_seconds,omitempty"`
	Watch           *bool    `toml:"watch,omitempty"`
}

type LoggingConfig struct {
	Level     *string `toml:"level,omitempty"`
	Format    *string `toml:"format,omitempty"`
	AuditFile *string `toml:"audit_file,omitempty"`
}

// Default returns an empty configuration that resolves to all defaults.
func Default() *Config {
	return &Config{}
}

// Source returns the file the configuration was loaded from.
func (c *Config) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Effective returns a copy with every defaulted scalar filled in, suitable
// for showing or writing out. Shell paths stay unset when they come from the
// platform defaults.
func (c *Config) Effective() *Config {
	shell := c.GetShell()
	cacheTTL := c.GetShellCacheTTL().Seconds()
	watch := c.GetShellWatch()
	shell.CacheTTLSeconds = &cacheTTL
	shell.Watch = &watch

	name, transport, addr := c.GetServerName(), c.GetTransport(), c.GetHTTPAddr()
	defTimeout, maxTimeout := c.GetDefaultTimeout().Seconds(), c.GetMaxTimeout().Seconds()
	grace := int(c.GetGracePeriod().Milliseconds())
	maxOutput := c.GetMaxOutputBytes()
	workDir := c.GetWorkDir()
	level, format, auditFile := c.GetLogLevel(), c.GetLogFormat(), c.GetAuditFile()

	return &Config{
		Server: &ServerConfig{Name: &name, Transport: &transport, HTTPAddr: &addr},
		Exec: &ExecConfig{
			DefaultTimeoutSeconds: &defTimeout,
			MaxTimeoutSeconds:     &maxTimeout,
			GracePeriodMs:         &grace,
			MaxOutputBytes:        &maxOutput,
			WorkDir:               &workDir,
		},
		Shell:   &shell,
		Logging: &LoggingConfig{Level: &level, Format: &format, AuditFile: &auditFile},
		source:  c.Source(),
	}
}

// Load reads the configuration. An explicit path must exist; otherwise the
// project file is searched from the working directory upwards, then the user
// config directory. No file at all yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}

	wd, err := os.Getwd()
	if err == nil {
		if found := FindConfigFile(wd); found != "" {
			return LoadFile(found)
		}
	}

	if userPath := UserConfigPath(); userPath != "" {
		if _, err := os.Stat(userPath); err == nil {
			return LoadFile(userPath)
		}
	}

	return Default(), nil
}

// LoadFile decodes and validates one TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}
	cfg.source = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// FindConfigFile walks from dir to the filesystem root and returns the first
// FileName found, or "".
func FindConfigFile(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// UserConfigPath returns the per-user configuration file location.
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "climcp", "config.toml")
}

// Save writes the configuration as TOML.
func (c *Config) Save(path string) error {
	if path == "" {
		return errors.New("save config: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return f.Close()
}

// Server accessors

func (c *Config) GetServerName() string {
	if c == nil || c.Server == nil || c.Server.Name == nil {
		return DefaultServerName
	}
	return *c.Server.Name
}

func (c *Config) GetTransport() string {
	if c == nil || c.Server == nil || c.Server.Transport == nil {
		return DefaultTransport
	}
	return *c.Server.Transport
}

func (c *Config) GetHTTPAddr() string {
	if c == nil || c.Server == nil || c.Server.HTTPAddr == nil {
		return DefaultHTTPAddr
	}
	return *c.Server.HTTPAddr
}

// Exec accessors

func (c *Config) GetDefaultTimeout() time.Duration {
	if c == nil || c.Exec == nil || c.Exec.DefaultTimeoutSeconds == nil {
		return DefaultTimeout
	}
	return seconds(*c.Exec.DefaultTimeoutSeconds)
}

func (c *Config) GetMaxTimeout() time.Duration {
	if c == nil || c.Exec == nil || c.Exec.MaxTimeoutSeconds == nil {
		return DefaultMaxTimeout
	}
	return seconds(*c.Exec.MaxTimeoutSeconds)
}

func (c *Config) GetGracePeriod() time.Duration {
	if c == nil || c.Exec == nil || c.Exec.GracePeriodMs == nil {
		return DefaultGracePeriod
	}
	return time.Duration(*c.Exec.GracePeriodMs) * time.Millisecond
}

func (c *Config) GetMaxOutputBytes() int {
	if c == nil || c.Exec == nil || c.Exec.MaxOutputBytes == nil {
		return DefaultMaxOutputBytes
	}
	return *c.Exec.MaxOutputBytes
}

func (c *Config) GetWorkDir() string {
	if c == nil || c.Exec == nil || c.Exec.WorkDir == nil {
		return ""
	}
	return *c.Exec.WorkDir
}

// Shell accessors. Empty results mean "use the platform default".

func (c *Config) GetShell() ShellConfig {
	if c == nil || c.Shell == nil {
		return ShellConfig{}
	}
	return *c.Shell
}

func (c *Config) GetShellCacheTTL() time.Duration {
	if c == nil || c.Shell == nil || c.Shell.CacheTTLSeconds == nil {
		return DefaultShellCacheTTL
	}
	return seconds(*c.Shell.CacheTTLSeconds)
}

func (c *Config) GetShellWatch() bool {
	if c == nil || c.Shell == nil || c.Shell.Watch == nil {
		return true
	}
	return *c.Shell.Watch
}

// Logging accessors

func (c *Config) GetLogLevel() string {
	if c == nil || c.Logging == nil || c.Logging.Level == nil {
		return DefaultLogLevel
	}
	return *c.Logging.Level
}

func (c *Config) GetLogFormat() string {
	if c == nil || c.Logging == nil || c.Logging.Format == nil {
		return DefaultLogFormat
	}
	return *c.Logging.Format
}

func (c *Config) GetAuditFile() string {
	if c == nil || c.Logging == nil || c.Logging.AuditFile == nil {
		return ""
	}
	return *c.Logging.AuditFile
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
