package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/cli"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/config"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/logging"
)

func main() {
	logger := logging.NewLogger()

	cfg, err := config.Load(config.DefaultConfigDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
