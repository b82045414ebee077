package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/convsync/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service with health and metrics endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		unified, err := buildUnified(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := unified.Close(); err != nil {
				log.Printf("close: %v", err)
			}
		}()

		if err := unified.Start(); err != nil {
			return err
		}

		observability.InitMetrics()
		checker := observability.NewHealthChecker()
		checker.RegisterCheck(observability.BackendCheck("primary", unified.Ping))

		obsServer := observability.NewServer(cfg.Observability.Port, checker, func() any {
			return unified.GetSyncStatus()
		})

		errChan := make(chan error, 1)
		go func() {
			log.Printf("Starting observability server on :%d", cfg.Observability.Port)
			if err := obsServer.Start(); err != nil {
				errChan <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errChan:
			log.Printf("Error: %v", err)
		case <-quit:
			log.Println("Shutting down...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return obsServer.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
