package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/climcp/internal/app"
	"github.com/standardbeagle/climcp/internal/config"
	"github.com/standardbeagle/climcp/internal/shell"
)

func (c *cli) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool specifications as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return c.printJSON(a.Registry.List())
		},
	}
}

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the interpreter commands would run under",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.ShellOptions(c.cfg)
			opts.Logger = c.logger
			r := shell.NewResolver(opts)
			sh := r.Resolve()
			return c.printJSON(map[string]interface{}{
				"name":       sh.Identifier(),
				"path":       sh.Path,
				"args":       sh.Args,
				"mode":       sh.Mode(),
				"candidates": r.Candidates(),
			})
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if src := c.cfg.Source(); src != "" {
				fmt.Fprintf(c.stdout, "# loaded from %s\n", src)
			} else {
				fmt.Fprintln(c.stdout, "# no configuration file found, showing defaults")
			}
			return toml.NewEncoder(c.stdout).Encode(c.cfg.Effective())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file (default " + config.FileName + ")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := c.cfg.Effective().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
