// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command tetherd is the tethering orchestrator daemon: it loads the
// carrier/interface configuration, wires the master and per-interface
// state machines to the local network-management stand-in, and serves the
// orchestrator over HTTP and gRPC until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/tetherd/internal/clock"
	"grimm.is/tetherd/internal/config"
	"grimm.is/tetherd/internal/install"
	"grimm.is/tetherd/internal/logging"
	"grimm.is/tetherd/internal/supervisor"
	"grimm.is/tetherd/internal/tether"
	tetherapi "grimm.is/tetherd/internal/tether/api"
	"grimm.is/tetherd/internal/tether/eventbus"
	"grimm.is/tetherd/internal/tether/linkwatch"
	tethermetrics "grimm.is/tetherd/internal/tether/metrics"
	"grimm.is/tetherd/internal/tether/nms"
	"grimm.is/tetherd/internal/tether/upstream"
)

func main() {
	configFile := flag.String("config", install.GetConfigFile(), "path to configuration file")
	httpAddr := flag.String("http", ":8741", "HTTP API listen address (empty disables)")
	grpcAddr := flag.String("grpc", ":8742", "gRPC API listen address (empty disables)")
	flag.Parse()

	if err := run(*configFile, *httpAddr, *grpcAddr); err != nil {
		fmt.Fprintln(os.Stderr, "tetherd:", err)
		os.Exit(1)
	}
}

func run(configFile, httpAddr, grpcAddr string) error {
	if err := install.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure install dirs: %w", err)
	}

	result, err := config.LoadFileWithOptions(configFile, config.DefaultLoadOptions())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := result.Config
	if cfg.Tethering == nil {
		cfg.Tethering = config.DefaultTethering()
	}

	logCfg := logging.DefaultConfig()
	log := logging.New(logCfg)
	logging.SetDefault(log)

	if cfg.Syslog != nil && cfg.Syslog.Enabled {
		w, err := logging.NewSyslogWriter(*cfg.Syslog)
		if err != nil {
			log.Warn("syslog sink unavailable", "error", err)
		} else {
			log.AddSink(w)
		}
	}

	for _, warning := range result.Warnings {
		log.Warn("config warning", "message", warning)
	}

	sup := supervisor.New(install.GetStateDir(), supervisor.DefaultConfig())
	if !supervisor.ShouldSkipDetection() && sup.ShouldEnterSafeMode() {
		log.Warn("repeated crashes detected, entering safe mode: provisioning checks will not be bypassed")
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sup.RecordExit(2, 0, true)
			panic(r)
		}
	}()

	registry := tether.NewRegistry()
	nmsCli := nms.NewLocal(log)
	monitor := upstream.NewNetlinkMonitor(log)
	bus := eventbus.New()

	reg := prometheus.NewRegistry()
	metricsSink := tethermetrics.New(reg)

	master := tether.NewMaster(cfg.Tethering, registry, nmsCli, monitor, nil, nil, metricsSink, clock.Real, log)
	orch := tether.NewOrchestrator(registry, master, nmsCli, bus, nil, nil, nil, nil, cfg.Tethering, log)
	svc := orch.AsService()

	watcher, err := linkwatch.New(bus, log)
	if err != nil {
		log.Warn("link watcher unavailable", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start %s service: %w", svc.Name(), err)
	}
	if watcher != nil {
		go watcher.Run(ctx)
	}

	apiSrv, err := tetherapi.NewServer(tetherapi.ServerConfig{HTTPAddr: httpAddr, GRPCAddr: grpcAddr}, orch, log)
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}
	apiSrv.Start()
	log.Info("tetherd started", "http", httpAddr, "grpc", grpcAddr, "config", configFile)
	sup.StartStabilityTimer()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	apiSrv.Stop(shutdownCtx)
	if watcher != nil {
		watcher.Stop()
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warn("service stop error", "service", svc.Name(), "error", err)
	}
	cancel()
	_ = sup.RecordExit(0, 0, false)
	return nil
}
