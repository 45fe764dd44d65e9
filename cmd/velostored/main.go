// velostored is the bike-share telemetry storage daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/velostore/velostore/internal/engine"
	"github.com/velostore/velostore/internal/logging"
	"github.com/velostore/velostore/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "velostore.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	dryRunRetention := flag.Bool("retention-dry-run", false, "report what retention would expire, then exit")
	flag.Parse()

	logging.Init(logging.ParseLevel(*logLevel), *logJSON)
	log := logging.Component("main")
	log.Info("velostored starting", "version", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = config.DefaultConfig()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	eng, err := engine.New(cfg, logging.Component("engine"))
	if err != nil {
		log.Error("create engine", "error", err)
		os.Exit(1)
	}

	if *dryRunRetention {
		for _, res := range eng.Storage().Retention().DryRun() {
			fmt.Printf("%s: %d chunks, %d rows would expire\n",
				res.Stream.String(), res.ChunksExpired, res.RowsDropped)
		}
		eng.Stop()
		return
	}

	if err := eng.Start(); err != nil {
		log.Error("start engine", "error", err)
		eng.Stop()
		os.Exit(1)
	}

	log.Info("velostored running",
		"data_dir", cfg.DataDir,
		"status_retention", cfg.Retention.Status,
		"weather_retention", cfg.Retention.Weather,
		"prediction_retention", cfg.Retention.Predictions)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if err := eng.Stop(); err != nil {
		log.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
