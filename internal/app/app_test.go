//go:build !windows

package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/climcp/internal/audit"
	"github.com/standardbeagle/climcp/internal/config"
	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/exectool"
	"github.com/standardbeagle/climcp/internal/process"
	"github.com/standardbeagle/climcp/internal/testutil"
)

func loadConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil, WithVersion("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestEchoHelloEndToEnd(t *testing.T) {
	a := newApp(t, nil)

	resp := a.Dispatcher.Dispatch(context.Background(), dispatch.Request{
		Tool:      exectool.RunCommand,
		Arguments: map[string]interface{}{"command": "echo hello"},
	})

	require.True(t, resp.OK(), "%+v", resp.Error)
	res := resp.Result.(*process.Result)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	require.NotNil(t, res.ReturnCode)
	assert.Equal(t, 0, *res.ReturnCode)
	assert.Contains(t, []string{"bash", "sh"}, res.Interpreter)
}

func TestRegistryHasBothToolNames(t *testing.T) {
	a := newApp(t, nil)
	assert.Equal(t, []string{exectool.RunCommand, exectool.ExecuteSystemCommand}, a.Registry.Names())
}

func TestShellOverridesFromConfig(t *testing.T) {
	cfg := loadConfig(t, `
[shell]
preferred_name = "nothing"
preferred_paths = ["/nonexistent/shell"]
fallback_name = "posix"
fallback_path = "/bin/sh"
cache_ttl_seconds = 0
`)
	opts := ShellOptions(cfg)
	assert.Equal(t, "nothing", opts.PreferredName)
	assert.Equal(t, []string{"/nonexistent/shell"}, opts.PreferredPaths)
	assert.Equal(t, "posix", opts.Fallback.Name)
	assert.Equal(t, []string{"-c"}, opts.Fallback.Args, "unset fields keep platform defaults")
	assert.Zero(t, opts.CacheTTL)

	a := newApp(t, cfg)
	sh := a.Resolver.Resolve()
	assert.False(t, sh.Preferred)
	assert.Equal(t, "posix", sh.Identifier())
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := config.Default()
	level := "loud"
	cfg.Logging = &config.LoggingConfig{Level: &level}

	_, err := New(cfg, nil)
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAuditFileRecordsInvocations(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.ndjson")
	cfg := loadConfig(t, `
[logging]
audit_file = "`+auditPath+`"
`)
	a, err := New(cfg, nil)
	require.NoError(t, err)

	a.Dispatcher.Dispatch(context.Background(), dispatch.Request{
		Tool:      exectool.RunCommand,
		Arguments: map[string]interface{}{"command": "exit 4"},
	})
	a.Dispatcher.Dispatch(context.Background(), dispatch.Request{Tool: "missing"})
	require.NoError(t, a.Close())

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	byTool := map[string]audit.Record{}
	for _, line := range lines {
		var rec audit.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		byTool[rec.Tool] = rec
	}
	run := byTool[exectool.RunCommand]
	assert.Equal(t, "command_failure", run.Status)
	require.NotNil(t, run.ReturnCode)
	assert.Equal(t, 4, *run.ReturnCode)
	assert.Equal(t, "rejected", byTool["missing"].State)
}

func TestIndependentAppsCoexist(t *testing.T) {
	first := newApp(t, nil)
	second := newApp(t, loadConfig(t, "[exec]\ndefault_timeout_seconds = 0.2\ngrace_period_ms = 100\n"))

	slow := second.Dispatcher.Dispatch(context.Background(), dispatch.Request{
		Tool:      exectool.RunCommand,
		Arguments: map[string]interface{}{"command": "sleep 5"},
	})
	fast := first.Dispatcher.Dispatch(context.Background(), dispatch.Request{
		Tool:      exectool.RunCommand,
		Arguments: map[string]interface{}{"command": "echo first"},
	})

	assert.Equal(t, process.OutcomeTimeout, slow.Result.(*process.Result).Status)
	assert.Equal(t, "first\n", fast.Result.(*process.Result).Stdout)
}

func TestServeHTTP(t *testing.T) {
	a := newApp(t, loadConfig(t, "[shell]\nwatch = false\n"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serveListener(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	testutil.RequireEventually(t, 2*time.Second, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "health endpoint should come up")

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"run_command","arguments":{"command":"echo over-http"}}}`
	resp, err := http.Post(url+"/mcp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(data), `over-http\\n`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("http server did not shut down")
	}
}
