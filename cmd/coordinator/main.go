package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucidgrid/raidfive/internal/catalog"
	"github.com/lucidgrid/raidfive/internal/config"
	"github.com/lucidgrid/raidfive/internal/coordinator"
	"github.com/lucidgrid/raidfive/internal/coordinatorserver"
	"github.com/lucidgrid/raidfive/internal/health"
	"github.com/lucidgrid/raidfive/internal/transport"
	"github.com/lucidgrid/raidfive/pkg/model"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyConfigPath = "configPath"
	logKeySignal     = "signal"
	logKeyError      = "error"

	httpShutdownTimeout = 10 * time.Second
)

func main() {
	cfg := parseFlags()

	logLevel := slog.LevelInfo
	if cfg.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(context.Background(), "coordinator error", logKeyError, err)
		os.Exit(1)
	}
}

type coordinatorConfig struct {
	configPath string
	listenAddr string
	statusPath string
	debug      bool
}

func parseFlags() coordinatorConfig {
	cfg := coordinatorConfig{}
	flag.StringVar(&cfg.configPath, "config", "./cluster.yaml", "Path to cluster configuration YAML file")
	flag.StringVar(&cfg.listenAddr, "listen", ":8080", "Address to listen on for client requests")
	flag.StringVar(&cfg.statusPath, "status-path", "", "Optional path to write a status snapshot after each status.raid request")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg coordinatorConfig, logger *slog.Logger) error {
	clusterCfg, err := config.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.InfoContext(ctx, "starting coordinator",
		logKeyListenAddr, cfg.listenAddr,
		logKeyConfigPath, cfg.configPath)

	clients := make(map[model.NodeID]*transport.Client, len(clusterCfg.Nodes))
	for _, n := range clusterCfg.Nodes {
		clients[model.NodeID(n.ID)] = transport.New(transport.Config{
			BaseURL:         n.Endpoint,
			Timeout:         clusterCfg.RequestTimeout(),
			MaxAttempts:     clusterCfg.MaxRetryAttempts,
			RetryDelay:      clusterCfg.RetryDelay(),
			Compress:        clusterCfg.CompressionEnabled,
			CompressMinSize: clusterCfg.CompressionThreshold,
		})
	}

	cat, err := catalog.Open(catalog.Config{Path: clusterCfg.CatalogPath})
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	monitor := health.New(health.Config{
		Clients:    clients,
		Interval:   clusterCfg.HealthCheckInterval(),
		StaleAfter: clusterCfg.NodeFailureWindow(),
		Logger:     logger,
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	go logHealthEvents(ctx, monitor, logger)

	coord := coordinator.New(coordinator.Deps{
		Config:  clusterCfg,
		Clients: clients,
		Catalog: cat,
		Health:  monitor,
	})

	srv := coordinatorserver.New(coord, monitor,
		coordinatorserver.WithLogger(logger),
		coordinatorserver.WithStatusPath(cfg.statusPath))

	httpSrv := &http.Server{Addr: cfg.listenAddr, Handler: srv}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(context.Background(), "coordinator http server failed", logKeyError, err)
		}
	}()

	logger.InfoContext(ctx, "coordinator started", logKeyListenAddr, cfg.listenAddr)
	<-ctx.Done()

	logger.InfoContext(ctx, "coordinator shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func logHealthEvents(ctx context.Context, monitor *health.Monitor, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-monitor.Events():
			logger.WarnContext(ctx, "node health transition",
				"nodeId", ev.NodeID, "kind", eventKindString(ev.Kind))
		}
	}
}

func eventKindString(kind health.EventKind) string {
	if kind == health.NodeRecovery {
		return "recovery"
	}
	return "failure"
}
