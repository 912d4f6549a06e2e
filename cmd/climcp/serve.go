package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/climcp/internal/config"
)

func (c *cli) serveCmd() *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio, or over HTTP with --http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd, httpAddr)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve HTTP on this address instead of stdio")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, httpAddr string) error {
	a, err := c.newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if httpAddr == "" && c.cfg.GetTransport() == config.TransportHTTP {
		httpAddr = c.cfg.GetHTTPAddr()
	}
	if httpAddr != "" {
		return a.ServeHTTP(ctx, httpAddr)
	}
	return a.ServeStdio(ctx, c.stdin, c.stdout)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
