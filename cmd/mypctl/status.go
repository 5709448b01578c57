package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maypaper/maypaper/internal/client"
	"github.com/maypaper/maypaper/internal/tui"
)

func statusCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectors, their content and local servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, token, err := g.bridgeBase()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()

			st, err := client.NewHTTPClient(base, token).State(ctx)
			if err != nil {
				return fmt.Errorf("fetching state: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderState(*st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}
