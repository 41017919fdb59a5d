package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"basegraph.app/courier/common/logger"
	"basegraph.app/courier/core/config"
	"basegraph.app/courier/internal/cli"
)

func main() {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(cli.ExitCommandError)
	}

	// command output owns stdout
	if cfg.LogLvl == "" {
		cfg.LogLvl = "warn"
	}
	slog.SetDefault(slog.New(logger.NewTraceHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(cli.RootOptions{
		QueueDir:    cfg.Queue.Dir,
		LedgerDSN:   cfg.Ledger.DSN,
		RepairGrace: cfg.Queue.RepairGrace,
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Debug("queuectl failed", "error", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
