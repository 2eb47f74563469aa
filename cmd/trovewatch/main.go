// Command trovewatch scans the MUSD trove registry for redemption targets,
// serves redemption hints over HTTP and optionally submits redemptions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/trovewatch/internal/app"
	"github.com/alanyoungcy/trovewatch/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trovewatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	mode := fs.String("mode", "", "override the configured mode (scan, monitor, redeem, server, full)")
	printConfig := fs.Bool("print-config", false, "print the effective configuration with secrets redacted and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config %s: %v\n", *configPath, err)
		return 1
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if *printConfig {
		if err := toml.NewEncoder(stdout).Encode(config.RedactedConfig(cfg)); err != nil {
			fmt.Fprintf(stderr, "print config: %v\n", err)
			return 1
		}
		return 0
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	err = application.Run(ctx)
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("trovewatch exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("trovewatch stopped")
	return 0
}

// newLogger returns a JSON logger at level. Unknown levels log at info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
