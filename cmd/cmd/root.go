// Package cmd defines the CLI commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/niyazmukh/content-pipeline-sub001/internal/artifacts"
	"github.com/niyazmukh/content-pipeline-sub001/internal/config"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
	"github.com/niyazmukh/content-pipeline-sub001/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Weekly intelligence briefing pipeline",
	Long:  "Staged news retrieval, clustering, outline generation, targeted research and article synthesis behind an HTTP API with SSE progress streaming.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var store artifacts.Store
		if cfg.ServerlessHost() {
			store = artifacts.NewNoopStore()
		} else {
			store = artifacts.NewFSStore(cfg.Persistence.OutputsDir, cfg.Persistence.NormalizedDir)
		}

		srv := server.New(cfg, store)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case s := <-sig:
			logger.Info("signal received, shutting down", "signal", s.String())
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
