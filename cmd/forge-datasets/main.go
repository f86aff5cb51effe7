// Command forge-datasets runs the training-job control plane's
// DatasetAssembly endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/makr-code/loraforge/internal/app"
	"github.com/makr-code/loraforge/internal/server"
)

func main() {
	configPath := os.Getenv("LORAFORGE_CONFIG")

	a, err := app.New(configPath, app.EnabledKinds{DatasetAssembly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	a.Start()

	srv := server.New(a.Config.Server.DatasetBindAddr, a.Manager, a.Hub, a.Gate, a.Metrics, a.Config, a.Logger)

	go func() {
		if err := srv.Start(); err != nil {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().Str("addr", a.Config.Server.DatasetBindAddr).Msg("forge-datasets ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	a.Logger.Info().Msg("forge-datasets stopped")
}
