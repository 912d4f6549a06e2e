package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/climcp/internal/dispatch"
	"github.com/standardbeagle/climcp/internal/exectool"
)

func (c *cli) runCmd() *cobra.Command {
	var timeout float64
	cmd := &cobra.Command{
		Use:   "run [--timeout seconds] -- <command line>",
		Short: "Run one command line and print the JSON result",
		Long: `Run one command line through the same validation and supervision as the
MCP tool and print the result. A nonzero exit or a timeout is still printed
as a result; the exit status is only nonzero when the invocation is rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			arguments := map[string]interface{}{"command": strings.Join(args, " ")}
			if cmd.Flags().Changed("timeout") {
				arguments["timeout"] = timeout
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			resp := a.Dispatcher.Dispatch(ctx, dispatch.Request{
				Tool:      exectool.RunCommand,
				Arguments: arguments,
			})

			enc := json.NewEncoder(c.stdout)
			enc.SetIndent("", "  ")
			if !resp.OK() {
				if err := enc.Encode(resp); err != nil {
					return err
				}
				return errors.New(resp.Error.Message)
			}
			return enc.Encode(resp.Result)
		},
	}
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 0, "Time budget in seconds (default from config)")
	return cmd
}
