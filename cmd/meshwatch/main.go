package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshtools/meshwatch/internal/aredn"
	"github.com/meshtools/meshwatch/internal/collector"
	"github.com/meshtools/meshwatch/internal/config"
	"github.com/meshtools/meshwatch/internal/crawler"
	"github.com/meshtools/meshwatch/internal/dnscache"
	"github.com/meshtools/meshwatch/internal/httpapi"
	"github.com/meshtools/meshwatch/internal/logging"
	"github.com/meshtools/meshwatch/internal/poller"
	"github.com/meshtools/meshwatch/internal/storage"
	"github.com/meshtools/meshwatch/internal/topology"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New(slog.LevelInfo).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}
	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	names := dnscache.New(cfg.LocalNode, cfg.DNSCacheTTL)
	source := topology.New(cfg.LocalNode, cfg.NodeTimeout, nil, logger)
	crawl := crawler.New(cfg.Concurrency, cfg.NodeTimeout, names, logger)
	svc := collector.New(source, crawl, repo, cfg.Thresholds, logger)

	hub := httpapi.NewHub(logger)
	runPoller := poller.New(svc, cfg.PollPeriod, logger)
	runPoller.OnRun(hub.Broadcast)
	go runPoller.Run(ctx)

	versions := aredn.NewVersionChecker(cfg.StableFirmware, cfg.StableAPI)
	api := httpapi.New(repo, runPoller, versions, hub, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr, "local_node", cfg.LocalNode)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
