package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/maypaper/maypaper/internal/config"
	"github.com/maypaper/maypaper/internal/daemon"
	"github.com/maypaper/maypaper/internal/logging"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath(), "Path to config file")
	socket := pflag.String("socket", "", "Override control socket path")
	listen := pflag.String("listen", "", "Override bridge listen address (\"off\" disables the bridge)")
	logLevel := pflag.String("log-level", "", "Override log level (debug, info, warn, error)")
	logFormat := pflag.String("log-format", "", "Override log format (text, json)")
	pflag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "maypaper: loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "maypaper: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *socket, *listen, *logLevel, *logFormat)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "maypaper: invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, socket, listen, level, format string) {
	if socket != "" {
		cfg.Socket = socket
	}
	switch listen {
	case "":
	case "off":
		cfg.Bridge.Listen = ""
	default:
		cfg.Bridge.Listen = listen
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if format != "" {
		cfg.Logging.Format = format
	}
}
