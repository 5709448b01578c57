package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/maypaper/maypaper/internal/client"
	"github.com/maypaper/maypaper/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// globals are the flags shared by every subcommand.
type globals struct {
	configPath string
	socket     string
	bridge     string
	token      string
}

// resolve merges the config file, environment and flags.
func (g *globals) resolve() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if g.socket != "" {
		cfg.Socket = g.socket
	}
	if g.bridge != "" {
		cfg.Bridge.Listen = g.bridge
	}
	if g.token != "" {
		cfg.Bridge.Token = g.token
	}
	return cfg, nil
}

func (g *globals) bridgeBase() (string, string, error) {
	cfg, err := g.resolve()
	if err != nil {
		return "", "", err
	}
	if cfg.Bridge.Listen == "" {
		return "", "", fmt.Errorf("bridge is disabled; set bridge.listen or pass --bridge")
	}
	return client.BaseURL(cfg.Bridge.Listen), cfg.Bridge.Token, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "mypctl",
		Short: "Control the maypaper wallpaper daemon",
		Long: `mypctl sends commands to a running maypaper daemon over its control
socket, and reads daemon state from its bridge.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", config.DefaultPath(), "Path to config file")
	flags.StringVarP(&g.socket, "socket", "s", "", "Control socket path (default from config)")
	flags.StringVar(&g.bridge, "bridge", "", "Bridge address for status and watch (default from config)")
	flags.StringVar(&g.token, "token", "", "Bridge auth token")

	root.AddCommand(
		setCmd(g),
		statusCmd(g),
		watchCmd(g),
		versionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mypctl: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mypctl %s (%s)\n", version, commit)
		},
	}
}
