package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultServerName, cfg.GetServerName())
	assert.Equal(t, TransportStdio, cfg.GetTransport())
	assert.Equal(t, 30*time.Second, cfg.GetDefaultTimeout())
	assert.Equal(t, 10*time.Minute, cfg.GetMaxTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetGracePeriod())
	assert.Equal(t, 10<<20, cfg.GetMaxOutputBytes())
	assert.Equal(t, 5*time.Second, cfg.GetShellCacheTTL())
	assert.True(t, cfg.GetShellWatch())
	assert.Equal(t, "info", cfg.GetLogLevel())
	assert.Equal(t, "json", cfg.GetLogFormat())
	assert.Empty(t, cfg.GetAuditFile())
	assert.Empty(t, cfg.GetShell().PreferredPaths)

	var nilCfg *Config
	assert.Equal(t, DefaultTimeout, nilCfg.GetDefaultTimeout())
	assert.NoError(t, nilCfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := `
[server]
transport = "http"
http_addr = "127.0.0.1:9999"

[exec]
default_timeout_seconds = 1.5
max_timeout_seconds = 60
grace_period_ms = 250
max_output_bytes = 1024

[shell]
preferred_name = "zsh"
preferred_paths = ["/usr/bin/zsh"]
preferred_args = ["-c"]
fallback_path = "/bin/sh"
cache_ttl_seconds = 0
watch = false

[logging]
level = "debug"
format = "console"
audit_file = "/tmp/audit.log"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source())
	assert.Equal(t, TransportHTTP, cfg.GetTransport())
	assert.Equal(t, "127.0.0.1:9999", cfg.GetHTTPAddr())
	assert.Equal(t, 1500*time.Millisecond, cfg.GetDefaultTimeout())
	assert.Equal(t, time.Minute, cfg.GetMaxTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.GetGracePeriod())
	assert.Equal(t, 1024, cfg.GetMaxOutputBytes())
	assert.Equal(t, time.Duration(0), cfg.GetShellCacheTTL())
	assert.False(t, cfg.GetShellWatch())
	assert.Equal(t, []string{"/usr/bin/zsh"}, cfg.GetShell().PreferredPaths)
	assert.Equal(t, "zsh", *cfg.GetShell().PreferredName)
	assert.Equal(t, "debug", cfg.GetLogLevel())
	assert.Equal(t, "console", cfg.GetLogFormat())
	assert.Equal(t, "/tmp/audit.log", cfg.GetAuditFile())
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("[exec]\ntimeout = 3\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec.timeout")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
[server]
transport = "websocket"

[exec]
default_timeout_seconds = 0
max_output_bytes = -1

[logging]
level = "verbose"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 4)
}

func TestValidateDefaultAboveMax(t *testing.T) {
	def, maxSecs := 120.0, 60.0
	cfg := &Config{Exec: &ExecConfig{DefaultTimeoutSeconds: &def, MaxTimeoutSeconds: &maxSecs}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot exceed")
}

func TestFindConfigFileWalksUp(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "project", "deep", "subdir")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	projectConfig := filepath.Join(root, "project", FileName)
	require.NoError(t, os.WriteFile(projectConfig, []byte("[logging]\nlevel = \"warn\"\n"), 0o644))

	assert.Equal(t, projectConfig, FindConfigFile(sub))

	// The nearest file wins.
	nearer := filepath.Join(sub, FileName)
	require.NoError(t, os.WriteFile(nearer, []byte("[logging]\nlevel = \"error\"\n"), 0o644))
	assert.Equal(t, nearer, FindConfigFile(sub))
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	level := "warn"
	timeout := 12.0
	cfg := &Config{
		Exec:    &ExecConfig{DefaultTimeoutSeconds: &timeout},
		Logging: &LoggingConfig{Level: &level},
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, loaded.GetDefaultTimeout())
	assert.Equal(t, "warn", loaded.GetLogLevel())
}

func TestEffectiveFillsDefaults(t *testing.T) {
	eff := Default().Effective()

	require.NotNil(t, eff.Exec.DefaultTimeoutSeconds)
	assert.Equal(t, 30.0, *eff.Exec.DefaultTimeoutSeconds)
	assert.Equal(t, 600.0, *eff.Exec.MaxTimeoutSeconds)
	assert.Equal(t, 2000, *eff.Exec.GracePeriodMs)
	assert.Equal(t, TransportStdio, *eff.Server.Transport)
	assert.True(t, *eff.Shell.Watch)
	assert.NoError(t, eff.Validate())

	// Written out and read back it means the same thing.
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, eff.Save(path))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, loaded.GetDefaultTimeout())
	assert.Equal(t, DefaultShellCacheTTL, loaded.GetShellCacheTTL())
}
