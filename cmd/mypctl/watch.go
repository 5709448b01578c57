package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/maypaper/maypaper/internal/client"
	"github.com/maypaper/maypaper/internal/tui"
)

func watchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow session changes live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, token, err := g.bridgeBase()
			if err != nil {
				return err
			}
			ws := client.NewWSClient(client.WatchURL(base), token)
			p := tea.NewProgram(tui.NewModel(ws),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, err = p.Run()
			return err
		},
	}
}
