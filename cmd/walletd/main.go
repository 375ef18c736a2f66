package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nous-labs/walletd/internal/daemon"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config file (.json, .jsonc or .yaml)")
	showVersion := pflag.Bool("version", false, "Show version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("walletd %s (%s)\n", version, commit)
		os.Exit(0)
	}

	cp := *configPath
	if cp == "" {
		cp = os.Getenv("WALLETD_CONFIG_PATH")
	}

	cfg, err := daemon.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("walletd starting",
		"version", version,
		"store", cfg.StorePath,
		"embedder", cfg.Intent.Embedder,
		"backend", cfg.Wallet.Backend,
	)

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}

	slog.Info("walletd stopped")
}
