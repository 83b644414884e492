package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/collivery/internal/server"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "collivery",
	Short:   "Collivery courier client - quotes, validation and waybills",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := setup(ctx, "stdout")
	if err != nil {
		return err
	}
	defer env.close(ctx)

	env.logger.Info("Starting Collivery bridge",
		zap.Int("port", env.cfg.Port),
		zap.String("version", env.cfg.Version),
		zap.String("cache_backend", env.cfg.CacheBackend),
	)

	srv := server.New(server.Config{Port: env.cfg.Port}, env.newClient, env.logger, env.metrics)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
