// Package app wires configuration into a running server. Everything lives
// on the App value, so independent instances can coexist in one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/climcp/internal/audit"
	"github.com/standardbeagle/climcp/internal/config"
	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/exectool"
	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/internal/mcp"
	"github.com/standardbeagle/climcp/internal/process"
	"github.com/standardbeagle/climcp/internal/shell"
	"github.com/standardbeagle/climcp/internal/tools"
	"github.com/standardbeagle/climcp/pkg/events"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Bus        *events.EventBus
	Audit      *audit.Log
	Resolver   *shell.Resolver
	Supervisor *process.Supervisor
	Registry   *tools.Registry
	Dispatcher *dispatch.Dispatcher
	Server     *mcp.Server

	version string
}

type Option func(*App)

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New builds every component from cfg. A nil cfg means defaults.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logging.OrNop(logger),
		version: mcp.DefaultVersion,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Bus = events.NewEventBusWithConfig(events.WorkerPoolConfig{Logger: a.Logger.Named("events")})
	a.subscribeLogger()

	if path := cfg.GetAuditFile(); path != "" {
		auditLog, err := audit.Open(path, a.Logger.Named("audit"))
		if err != nil {
			a.Bus.Shutdown()
			return nil, err
		}
		auditLog.Subscribe(a.Bus)
		a.Audit = auditLog
	}

	shellOpts := ShellOptions(cfg)
	shellOpts.Bus = a.Bus
	shellOpts.Logger = a.Logger.Named("shell")
	a.Resolver = shell.NewResolver(shellOpts)

	a.Supervisor = process.New(process.Options{
		DefaultTimeout: cfg.GetDefaultTimeout(),
		GracePeriod:    cfg.GetGracePeriod(),
		MaxOutputBytes: cfg.GetMaxOutputBytes(),
		WorkDir:        cfg.GetWorkDir(),
		Bus:            a.Bus,
		Logger:         a.Logger.Named("process"),
	})

	execTool := exectool.New(a.Resolver, a.Supervisor, exectool.Options{
		DefaultTimeout: cfg.GetDefaultTimeout(),
		MaxTimeout:     cfg.GetMaxTimeout(),
		Logger:         a.Logger.Named("exec"),
	})
	registry, err := tools.NewRegistry(execTool.Entries()...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	a.Registry = registry

	a.Dispatcher = dispatch.New(registry, dispatch.Options{Bus: a.Bus, Logger: a.Logger.Named("dispatch")})
	a.Server = mcp.NewServer(a.Dispatcher, mcp.Options{
		Name:    cfg.GetServerName(),
		Version: a.version,
		Logger:  a.Logger.Named("mcp"),
	})
	return a, nil
}

// ShellOptions applies the [shell] overrides to the platform defaults.
func ShellOptions(cfg *config.Config) shell.Options {
	opts := shell.DefaultOptions()
	sc := cfg.GetShell()

	if sc.PreferredName != nil {
		opts.PreferredName = *sc.PreferredName
	}
	if len(sc.PreferredPaths) > 0 {
		opts.PreferredPaths = append([]string(nil), sc.PreferredPaths...)
	}
	if len(sc.PreferredArgs) > 0 {
		opts.PreferredArgs = append([]string(nil), sc.PreferredArgs...)
	}
	if sc.FallbackName != nil {
		opts.Fallback.Name = *sc.FallbackName
	}
	if sc.FallbackPath != nil {
		opts.Fallback.Path = *sc.FallbackPath
	}
	if len(sc.FallbackArgs) > 0 {
		opts.Fallback.Args = append([]string(nil), sc.FallbackArgs...)
	}
	opts.CacheTTL = cfg.GetShellCacheTTL()
	return opts
}

// Serve runs the configured transport until ctx is cancelled or stdin closes.
func (a *App) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	switch a.Config.GetTransport() {
	case config.TransportHTTP:
		return a.ServeHTTP(ctx, a.Config.GetHTTPAddr())
	default:
		return a.ServeStdio(ctx, stdin, stdout)
	}
}

func (a *App) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	a.startWatching(ctx)
	return a.Server.ServeStdio(ctx, stdin, stdout)
}

// ServeHTTP listens on addr and serves until ctx is cancelled.
func (a *App) ServeHTTP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return a.serveListener(ctx, ln)
}

func (a *App) serveListener(ctx context.Context, ln net.Listener) error {
	a.startWatching(ctx)

	srv := &http.Server{
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("serving MCP over HTTP", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) startWatching(ctx context.Context) {
	if !a.Config.GetShellWatch() {
		return
	}
	if err := a.Resolver.Watch(ctx); err != nil {
		a.Logger.Warn("interpreter watcher disabled", zap.Error(err))
	}
}

// subscribeLogger logs every lifecycle event at debug level.
func (a *App) subscribeLogger() {
	log := a.Logger.Named("events")
	handler := func(e events.Event) {
		fields := []zap.Field{zap.String("type", string(e.Type))}
		if e.InvocationID != "" {
			fields = append(fields, zap.String("invocation", e.InvocationID))
		}
		for k, v := range e.Data {
			if k == "result" {
				continue
			}
			fields = append(fields, zap.Any(k, v))
		}
		log.Debug("event", fields...)
	}
	for _, t := range []events.EventType{
		events.InvocationReceived,
		events.InvocationRejected,
		events.InvocationCompleted,
		events.ShellResolved,
		events.ProcessStarted,
		events.ProcessExited,
		events.ProcessTimedOut,
	} {
		a.Bus.Subscribe(t, handler)
	}
}

// Close stops the watcher, flushes pending events and releases the audit
// file. Safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.Resolver != nil {
		errs = append(errs, a.Resolver.Close())
	}
	if a.Bus != nil {
		a.Bus.Drain()
		a.Bus.Shutdown()
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	return errors.Join(errs...)
}
