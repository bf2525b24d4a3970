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

	"github.com/lucidgrid/raidfive/internal/blockstore"
	"github.com/lucidgrid/raidfive/internal/nodeserver"
)

const (
	logKeyNodeID     = "nodeId"
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
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
		logger.ErrorContext(context.Background(), "node error", logKeyError, err)
		os.Exit(1)
	}
}

type nodeConfig struct {
	nodeID     int
	listenAddr string
	dataPath   string
	debug      bool
}

func parseFlags() nodeConfig {
	cfg := nodeConfig{}
	flag.IntVar(&cfg.nodeID, "id", 0, "This node's id in [1..4]")
	flag.StringVar(&cfg.listenAddr, "listen", ":9001", "Address to listen on for coordinator requests")
	flag.StringVar(&cfg.dataPath, "data", "./data/node", "Path to this node's block storage directory")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg nodeConfig, logger *slog.Logger) error {
	if cfg.nodeID < 1 || cfg.nodeID > 4 {
		return fmt.Errorf("node id must be in [1..4], got %d", cfg.nodeID)
	}

	if err := os.MkdirAll(cfg.dataPath, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := blockstore.Open(blockstore.Config{Path: cfg.dataPath})
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}
	defer store.Close()

	srv := nodeserver.New(cfg.nodeID, store, nodeserver.WithLogger(logger))

	httpSrv := &http.Server{Addr: cfg.listenAddr, Handler: srv}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(context.Background(), "node http server failed", logKeyError, err)
		}
	}()

	logger.InfoContext(ctx, "node started",
		logKeyNodeID, cfg.nodeID,
		logKeyListenAddr, cfg.listenAddr,
		logKeyDataPath, cfg.dataPath)
	<-ctx.Done()

	logger.InfoContext(ctx, "node shutting down", logKeyNodeID, cfg.nodeID)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
