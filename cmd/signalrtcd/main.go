// Command signalrtcd runs the signalling engine as a standalone process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zurustar/signalrtc/internal/config"
	"github.com/zurustar/signalrtc/internal/host"
	"github.com/zurustar/signalrtc/internal/logging"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	svc, err := host.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", logging.String("signal", sig.String()))
		cancel()
	}()

	runErr := svc.Run(ctx)
	if err := svc.Stop(); err != nil {
		logger.Error("error during shutdown", logging.Err(err))
	}
	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
