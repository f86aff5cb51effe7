// Command forge-trainer runs the training-job control plane's LoRA/QLoRA
// and Continuous trainer endpoint.
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

	a, err := app.New(configPath, app.EnabledKinds{LoRA: true, QLoRA: true, Continuous: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	a.Start()

	srv := server.New(a.Config.Server.TrainingBindAddr, a.Manager, a.Hub, a.Gate, a.Metrics, a.Config, a.Logger)

	go func() {
		if err := srv.Start(); err != nil {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().Str("addr", a.Config.Server.TrainingBindAddr).Msg("forge-trainer ready")

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
	a.Logger.Info().Msg("forge-trainer stopped")
}
