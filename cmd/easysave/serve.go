package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the central log ingestion server",
		Long: `Run the HTTP server that backup machines post their transfer log entries
to when logging.target is server or both. Entries are stored in the local
database and can be listed with GET /Logs.

By default, the server listens on the address configured in the config file
(default: 0.0.0.0:8080). Use --listen to override.`,
		Example: `  easysave serve
  easysave serve --listen 127.0.0.1:9000`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	if n, err := globalStore.CountLogEntries(); err == nil {
		log.Info("log store opened", "db", globalCfg.DatabasePath(), "entries", n)
	}

	srv := server.NewServer(globalStore, server.Options{
		RequestsPerSecond: globalCfg.Server.RequestsPerSecond,
		Burst:             globalCfg.Server.Burst,
	}, logger)

	errChan := make(chan error, 1)
	go func() {
		fmt.Printf("Accepting log entries on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
	}

	return nil
}
