package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/maypaper/maypaper/internal/ipc"
)

const sendTimeout = 5 * time.Second

func setCmd(g *globals) *cobra.Command {
	var monitor, url, path string

	cmd := &cobra.Command{
		Use:   "set (--url URL | --path PATH) [--monitor NAME]",
		Short: "Show a URL or local path on one or all monitors",
		Example: `  mypctl set --url https://example.com
  mypctl set --monitor DP-1 --path ~/wallpapers/aurora`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := buildCommand(monitor, url, path)
			if err != nil {
				return err
			}
			cfg, err := g.resolve()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()
			if err := ipc.Send(ctx, cfg.Socket, command); err != nil {
				return fmt.Errorf("is maypaper running? %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&monitor, "monitor", "m", "", "Connector name, e.g. DP-1 (default all)")
	cmd.Flags().StringVarP(&url, "url", "u", "", "URL to display")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Local file or directory to display")
	cmd.MarkFlagsMutuallyExclusive("url", "path")
	cmd.MarkFlagsOneRequired("url", "path")
	return cmd
}

// buildCommand makes path absolute, since the daemon resolves paths
// against its own working directory.
func buildCommand(monitor, url, path string) (ipc.Command, error) {
	var cmd ipc.Command
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return ipc.Command{}, fmt.Errorf("resolving %s: %w", path, err)
		}
		cmd = ipc.NewSetPath(monitor, abs)
	} else {
		cmd = ipc.NewSetURL(monitor, url)
	}
	if err := cmd.Validate(); err != nil {
		return ipc.Command{}, err
	}
	return cmd, nil
}
