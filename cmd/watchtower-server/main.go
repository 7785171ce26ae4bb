package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/watchtower-noc/watchtower/internal/config"
	"github.com/watchtower-noc/watchtower/internal/model"
	"github.com/watchtower-noc/watchtower/internal/server/aggregator"
	"github.com/watchtower-noc/watchtower/internal/server/alerts"
	"github.com/watchtower-noc/watchtower/internal/server/api"
	"github.com/watchtower-noc/watchtower/internal/server/broadcast"
	"github.com/watchtower-noc/watchtower/internal/server/cache"
	"github.com/watchtower-noc/watchtower/internal/server/metrics"
	"github.com/watchtower-noc/watchtower/internal/server/poller"
	"github.com/watchtower-noc/watchtower/internal/sources"
	"github.com/watchtower-noc/watchtower/internal/sources/librenms"
	"github.com/watchtower-noc/watchtower/internal/sources/netdisco"
	"github.com/watchtower-noc/watchtower/internal/sources/proxmox"
	"github.com/watchtower-noc/watchtower/internal/sources/snmp"
	"github.com/watchtower-noc/watchtower/internal/sources/speedtest"
	"github.com/watchtower-noc/watchtower/internal/topology"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	topologyPath := pflag.StringP("topology", "t", "", "path to the topology file (overrides topology.path)")
	listen := pflag.StringP("listen", "l", "", "HTTP listen address (overrides server.listen)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *topologyPath != "" {
		cfg.Topology.Path = *topologyPath
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	// Initialize structured logger.
	var logger *zap.Logger
	if cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting watchtower",
		zap.String("listen", cfg.Server.Listen),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("topology", cfg.Topology.Path),
	)

	store, err := newStore(cfg.Cache, logger)
	if err != nil {
		logger.Fatal("failed to create cache store", zap.Error(err))
	}
	cacheClient := cache.NewClient(store, logger)

	skeleton := topology.NewFile(cfg.Topology.Path, logger)
	if _, err := skeleton.Skeleton(context.Background()); err != nil {
		logger.Warn("topology file not loadable yet, snapshots will fail until it is",
			zap.Error(err),
		)
	}

	aggService := aggregator.NewService(skeleton, cacheClient, logger)
	hub := broadcast.NewHub(broadcast.DefaultQueueSize, broadcast.DefaultWriteTimeout, logger)
	publisher := broadcast.NewPublisher(aggService, cacheClient, hub, snapshotTTL(cfg.Polling), logger)

	// Upstream adapters.
	ds := cfg.DataSources
	libre := librenms.New(ds.LibreNMS, logger)
	nd := netdisco.New(ds.Netdisco, logger)
	prober := snmp.New(ds.SNMP, skeleton, logger)
	speed := speedtest.New(ds.SpeedTest, logger)

	hypervisors := make([]model.HypervisorSource, 0, len(ds.Proxmox))
	pveClients := make([]*proxmox.Client, 0, len(ds.Proxmox))
	for _, pc := range ds.Proxmox {
		c := proxmox.New(pc, logger)
		hypervisors = append(hypervisors, c)
		pveClients = append(pveClients, c)
	}

	jobs := poller.NewJobs(poller.Sources{
		LibreNMS:    libre,
		Devices:     []model.DeviceSource{nd, prober},
		Hypervisors: hypervisors,
		SpeedTest:   speed,
	}, cacheClient, publisher, hub, cfg.Polling, logger)

	pollStats := metrics.NewPollStats(cacheClient, metrics.DefaultFlushInterval, logger)
	pollStats.Start()

	scheduler := poller.NewScheduler(cfg.Polling, jobs.Map(), cacheClient, hub, logger)
	scheduler.SetObserver(pollStats)
	scheduler.Start()

	deriver := alerts.NewDeriver(aggService, cacheClient, alerts.NewMemoryStateStore(), logger)

	checkers := map[string]api.Checker{
		model.SourceLibreNMS: libre,
		model.SourceNetdisco: nd,
		model.SourceProxmox:  proxmoxChecker(pveClients),
		"speedtest":          speed,
	}

	// Initialize REST API + WebSocket handler.
	apiHandler := api.NewHandler(aggService, deriver, scheduler, hub, cacheClient, checkers, cfg, logger)

	httpServer := &http.Server{
		Addr:        cfg.Server.Listen,
		Handler:     apiHandler.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal or startup error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server startup error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stops the poll loops and closes every websocket subscriber.
	scheduler.Stop()
	pollStats.Stop()

	if err := store.Close(); err != nil {
		logger.Error("failed to close cache store", zap.Error(err))
	}

	logger.Info("watchtower stopped")
}

func newStore(cfg config.CacheConfig, logger *zap.Logger) (cache.Store, error) {
	if cfg.Backend != "redis" {
		return cache.NewMemory(cfg.KeyPrefix), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cache.NewRedis(ctx, cache.RedisConfig{
		URL:       cfg.RedisURL,
		KeyPrefix: cfg.KeyPrefix,
	}, logger)
}

// snapshotTTL keeps the published snapshot for three of the fastest poll
// intervals, and at least a minute.
func snapshotTTL(p config.PollingConfig) time.Duration {
	ttl := 3 * p.ShortestInterval()
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// proxmoxChecker checks every instance and sums their node counts. It fails
// only when every configured instance fails.
func proxmoxChecker(clients []*proxmox.Client) api.Checker {
	return api.CheckerFunc(func(ctx context.Context) (int, error) {
		if len(clients) == 0 {
			return 0, sources.ErrNotConfigured
		}
		var (
			total   int
			lastErr error
			ok      bool
		)
		for _, c := range clients {
			n, err := c.Check(ctx)
			if err != nil {
				lastErr = err
				continue
			}
			total += n
			ok = true
		}
		if !ok {
			return 0, lastErr
		}
		return total, nil
	})
}
