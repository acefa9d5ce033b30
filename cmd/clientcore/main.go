// Package main runs the client core as a standalone process: session
// lifecycle, token lifecycle and counter sync, with metrics exposed over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/promptlift/clientcore/internal/app"
	"github.com/promptlift/clientcore/internal/config"
	"github.com/promptlift/clientcore/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config/client.yaml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9100")
	flag.Parse()

	if v := os.Getenv("CLIENTCORE_CONFIG"); v != "" {
		*configPath = v
	}
	if v := os.Getenv("CLIENTCORE_METRICS_ADDR"); v != "" {
		*metricsAddr = v
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Printf("config %s unavailable (%v); using defaults", *configPath, err)
		cfg = config.Default()
	}

	application, err := app.New(cfg, app.Options{})
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	log.Println("Client core started")

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		log.Printf("Metrics listening on %s", *metricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Client core stopped")
}
