package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/seliseblocks/lmt/config"
	"github.com/seliseblocks/lmt/logging"
	"github.com/seliseblocks/lmt/pipeline"
	"github.com/seliseblocks/lmt/receiver"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "lmt.yaml", "path to the YAML configuration file")
	listenAddr := flag.String("listen", ":4319", "HTTP ingest listen address")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lmtd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("failed to load config", logging.F("error", err.Error(), "path", *configPath))
		os.Exit(1)
	}
	logging.SetService(cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pipeline.New(cfg)
	if err != nil {
		logging.Error("failed to create pipeline", logging.F("error", err.Error()))
		os.Exit(1)
	}
	if err := p.Start(ctx); err != nil {
		logging.Error("failed to start pipeline", logging.F("error", err.Error()))
		os.Exit(1)
	}

	rcv := receiver.NewHTTP(*listenAddr, p)
	go func() {
		if err := rcv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Error("http receiver error", logging.F("error", err.Error()))
		}
	}()

	logging.Info("lmtd started", logging.F(
		"version", version,
		"listen_addr", *listenAddr,
		"service", cfg.ServiceName,
		"sink", cfg.Sink.Kind,
	))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")

	// Stop accepting new records before draining the pipeline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := rcv.Stop(shutdownCtx); err != nil {
		logging.Warn("http receiver shutdown error", logging.F("error", err.Error()))
	}
	if err := p.Stop(context.Background()); err != nil {
		logging.Warn("pipeline shutdown error", logging.F("error", err.Error()))
	}

	logging.Info("shutdown complete")
}
