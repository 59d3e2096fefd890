// scrutinyd: Scrutiny device-interaction daemon
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/scrutinydebugger/scrutiny-core/internal/config"
	"github.com/scrutinydebugger/scrutiny-core/internal/datalog"
	"github.com/scrutinydebugger/scrutiny-core/internal/datastore"
	"github.com/scrutinydebugger/scrutiny-core/internal/device"
	"github.com/scrutinydebugger/scrutiny-core/internal/storage"
)

const tickInterval = 10 * time.Millisecond

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scrutinyd",
	Short: "Scrutiny device-interaction daemon",
	Long: `scrutinyd drives the Scrutiny wire protocol against a single embedded
target: it searches for the device, establishes a session, polls its
capabilities, and then services watch/write/datalogging requests until the
link is lost, at which point it starts over.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML/TOML config file (default: built-in defaults + SCRUTINY_* env vars)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("scrutinyd: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	linkCfg, err := cfg.Link.ToLinkConfig()
	if err != nil {
		return err
	}

	var store datalog.AcquisitionStore
	if cfg.Storage.Path != "" {
		s, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	ds := datastore.New()
	handler, err := device.New(linkCfg, ds, store)
	if err != nil {
		return err
	}

	var metrics *device.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = device.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("scrutinyd: metrics server stopped: %v", err)
			}
		}()
		log.Printf("scrutinyd: metrics listening on %s", cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Printf("scrutinyd: starting with link kind %q", cfg.Link.Kind)

	for {
		select {
		case <-ctx.Done():
			log.Printf("scrutinyd: shutting down")
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				metricsServer.Shutdown(shutdownCtx)
			}
			return nil
		case <-ticker.C:
			handler.Process()
			if metrics != nil {
				metrics.Update(handler)
			}
		}
	}
}
