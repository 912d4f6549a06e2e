// Package exectool exposes the process supervisor as callable tools.
package exectool

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/internal/process"
	"github.com/standardbeagle/climcp/internal/shell"
	"github.com/standardbeagle/climcp/internal/tools"
)

const (
	// RunCommand is the primary tool name.
	RunCommand = "run_command"
	// ExecuteSystemCommand is kept for clients of the earlier server.
	ExecuteSystemCommand = "execute_system_command"

	DefaultMaxTimeout = 600 * time.Second
)

// Resolver picks the interpreter for a call.
type Resolver interface {
	Resolve() shell.Shell
}

// Executor runs a command line to completion.
type Executor interface {
	Execute(ctx context.Context, req process.Request) *process.Result
}

type Options struct {
	// DefaultTimeout applies when the caller gives none.
	DefaultTimeout time.Duration
	// MaxTimeout clamps caller supplied timeouts.
	MaxTimeout time.Duration
	Logger     *zap.Logger
}

// Tool is the command execution handler shared by both tool names.
type Tool struct {
	resolver Resolver
	executor Executor
	opts     Options
	logger   *zap.Logger
}

func New(resolver Resolver, executor Executor, opts Options) *Tool {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = process.DefaultTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = DefaultMaxTimeout
	}
	if opts.DefaultTimeout > opts.MaxTimeout {
		opts.DefaultTimeout = opts.MaxTimeout
	}
	return &Tool{
		resolver: resolver,
		executor: executor,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Entries returns the registry entries for run_command and its legacy alias.
func (t *Tool) Entries() []tools.Entry {
	return []tools.Entry{
		{
			Spec: tools.Spec{
				Name: RunCommand,
				Description: "Run a command line in the host's command interpreter and return its " +
					"stdout, stderr and exit code. The interpreter is chosen automatically " +
					"(PowerShell 7 or Windows PowerShell on Windows, bash or sh elsewhere). " +
					"Nonzero exit codes are returned as data, not errors.",
				Params: []tools.Param{
					{
						Name:        "command",
						Type:        tools.TypeString,
						Required:    true,
						Description: "Command line passed verbatim to the interpreter",
					},
					{
						Name: "timeout",
						Type: tools.TypeNumber,
						Description: fmt.Sprintf("Time budget in seconds (default %s, max %s). "+
							"The process tree is killed when it runs out.",
							t.opts.DefaultTimeout, t.opts.MaxTimeout),
					},
				},
			},
			Handler: t.handler(RunCommand),
		},
		{
			Spec: tools.Spec{
				Name: ExecuteSystemCommand,
				Description: "Execute a system command such as file, process or network operations. " +
					"Uses PowerShell 7 when installed, otherwise the default Windows PowerShell " +
					"(bash or sh on other systems). Same behaviour as " + RunCommand + ".",
				Params: []tools.Param{
					{
						Name:        "command",
						Type:        tools.TypeString,
						Required:    true,
						Description: "Command string to execute, e.g. dir, Get-Process, ping localhost",
					},
					{
						Name: "timeout",
						Type: tools.TypeInteger,
						Description: fmt.Sprintf("Timeout in seconds, default %d; the command is "+
							"forcibly terminated after it", int(t.opts.DefaultTimeout.Seconds())),
					},
				},
			},
			Handler: t.handler(ExecuteSystemCommand),
		},
	}
}

func (t *Tool) handler(name string) tools.HandlerFunc {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return t.run(ctx, name, args)
	}
}

func (t *Tool) run(ctx context.Context, name string, args map[string]interface{}) (*process.Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, dispatch.InvalidArgument(name, "command", "must not be empty")
	}

	timeout, err := t.timeout(name, args["timeout"])
	if err != nil {
		return nil, err
	}

	sh := t.resolver.Resolve()
	return t.executor.Execute(ctx, process.Request{
		Shell:        sh,
		Command:      command,
		Timeout:      timeout,
		InvocationID: dispatch.InvocationID(ctx),
	}), nil
}

// timeout converts the optional seconds argument into a bounded duration.
func (t *Tool) timeout(name string, raw interface{}) (time.Duration, error) {
	if raw == nil {
		return t.opts.DefaultTimeout, nil
	}
	secs, ok := dispatch.AsFloat(raw)
	if !ok {
		return 0, dispatch.InvalidArgument(name, "timeout", "must be a number of seconds")
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, dispatch.InvalidArgument(name, "timeout", "must be a positive number of seconds")
	}

	if secs > t.opts.MaxTimeout.Seconds() {
		t.logger.Warn("timeout above maximum, clamping",
			zap.String("tool", name),
			zap.Float64("requested_seconds", secs),
			zap.Duration("max", t.opts.MaxTimeout))
		return t.opts.MaxTimeout, nil
	}

	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		// Sub-nanosecond budgets must not round down to zero.
		d = time.Nanosecond
	}
	return d, nil
}
