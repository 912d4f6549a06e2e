package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/standardbeagle/climcp/internal/app"
	"github.com/standardbeagle/climcp/internal/config"
	"github.com/standardbeagle/climcp/internal/logging"
)

// Version is set at build time
var Version = "dev"

// cli holds flag values and the streams commands talk to.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "climcp",
		Short: "MCP server that runs command lines in the host shell",
		Long: `climcp exposes a command execution tool over the Model Context Protocol.

Each call runs one command line in the host's interpreter (PowerShell 7 or
Windows PowerShell on Windows, bash or sh elsewhere) under a time budget and
returns stdout, stderr and the exit code.

Basic Usage:
  climcp                        # Serve MCP over stdio
  climcp serve --http :7777     # Serve MCP over HTTP (POST /mcp)
  climcp run -- ls -la          # Run one command and print the result
  climcp tools                  # Show the tool schemas
  climcp resolve                # Show which interpreter would be used`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd, "")
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Configuration file (default: .climcp.toml upwards, then user config)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Log format: json or console (overrides config)")

	root.AddCommand(
		c.serveCmd(),
		c.runCmd(),
		c.toolsCmd(),
		c.resolveCmd(),
		c.configCmd(),
	)
	return root
}

// setup loads configuration and builds the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := cfg.GetLogLevel()
	if c.logLevel != "" {
		level = c.logLevel
	}
	format := cfg.GetLogFormat()
	if c.logFormat != "" {
		format = c.logFormat
	}
	logger, err := logging.NewWithWriter(level, format, c.stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	if src := cfg.Source(); src != "" {
		logger.Debug("loaded configuration", zap.String("path", src))
	}
	return nil
}

func (c *cli) newApp() (*app.App, error) {
	return app.New(c.cfg, c.logger, app.WithVersion(Version))
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
