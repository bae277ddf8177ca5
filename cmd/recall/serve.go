package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/api"
	"github.com/goclaw/recall/pkg/api/handlers"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/metrics"
	"github.com/goclaw/recall/pkg/notify"
	"github.com/goclaw/recall/pkg/telemetry/tracing"
	"github.com/goclaw/recall/pkg/version"
)

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	defer log.Close()
	logger.SetGlobal(log)

	log.Info("Starting recall", "version", version.Version, "commit", version.GitCommit)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metricsManager := metrics.NewManager(cfg.Metrics.ToMetricsConfig())

	comp, err := buildComponents(cfg, log, metricsManager)
	if err != nil {
		return err
	}
	log.Info("Initialized storage", "type", cfg.Storage.Type)

	if comp.redis != nil {
		if err := comp.redis.Ping(ctx).Err(); err != nil {
			log.Warn("Redis result cache unreachable, retrieval will run uncached until it recovers",
				"address", cfg.Redis.Address, "error", err)
		}
	}

	if metricsManager.Enabled() {
		if err := metricsManager.RegisterIndexStats(comp.retriever); err != nil {
			log.Warn("Failed to register index metrics", "error", err)
		}
		if comp.lru != nil {
			if err := metricsManager.RegisterCacheStats(comp.lru); err != nil {
				log.Warn("Failed to register cache metrics", "error", err)
			}
		}
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	if err := comp.hub.Start(ctx); err != nil {
		comp.Close()
		return fmt.Errorf("failed to start memory hub: %w", err)
	}

	var wg sync.WaitGroup

	if cfg.Notify.Enabled {
		consumer, err := notify.NewKafkaConsumer(notify.KafkaConfig{
			Brokers:       cfg.Notify.Brokers,
			Topic:         cfg.Notify.Topic,
			ConsumerGroup: cfg.Notify.ConsumerGroup,
		}, notify.NewApplier(notify.HubSink{Hub: comp.hub}, log), log)
		if err != nil {
			comp.Close()
			return fmt.Errorf("failed to create notification consumer: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Notification consumer stopped", "error", err)
			}
		}()
	}

	if path := c.String("config"); path != "" {
		watcher, err := config.NewWatcher(path, config.NewLoader(), config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		} else {
			watcher.OnChange(hotReload(log, comp, config.ExtractHotReloadable(cfg)))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("Config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	healthHandler := newHealthHandler(comp)
	apiHandlers := &api.Handlers{
		Memory:  handlers.NewMemoryHandler(comp.hub, cfg.Retrieval.DefaultRetrieveOptions(), log),
		Health:  healthHandler,
		Metrics: metricsManager,
	}
	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", httpServer.Addr())
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	log.Info("Recall is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
		"cache", cfg.Cache.Type,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case serveErr = <-serverErrChan:
		log.Error("HTTP server error", "error", serveErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	wg.Wait()

	log.Info("Stopping memory hub")
	if err := comp.hub.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping memory hub", "error", err)
	}
	if err := comp.Close(); err != nil {
		log.Error("Error releasing resources", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error flushing traces", "error", err)
	}

	log.Info("Recall stopped gracefully")
	return serveErr
}

// hotReload applies the reloadable subset of a changed configuration file.
func hotReload(log logger.Logger, comp *components, current config.HotReloadableConfig) func(*config.Config) {
	var mu sync.Mutex
	return func(cfg *config.Config) {
		mu.Lock()
		defer mu.Unlock()

		next := config.ExtractHotReloadable(cfg)
		if !next.Changed(current) {
			return
		}
		if next.LogLevel != current.LogLevel {
			log.SetLevel(logger.ParseLevel(next.LogLevel))
		}
		if next.CacheTTL != current.CacheTTL && comp.lru != nil {
			comp.lru.SetTTL(next.CacheTTL)
		}
		log.Info("Configuration reloaded", "log_level", next.LogLevel, "cache_ttl", next.CacheTTL)
		current = next
	}
}

func newHealthHandler(comp *components) *handlers.HealthHandler {
	h := handlers.NewHealthHandler()
	h.AddCheck("storage", true, func(ctx context.Context) error {
		_, err := comp.store.Users(ctx)
		return err
	})
	if comp.embedder != nil {
		h.AddCheck("embedder", false, func(context.Context) error {
			if !comp.embedder.Ready() {
				return errors.New("embedder in cooldown")
			}
			return nil
		})
	}
	if comp.scorer != nil {
		h.AddCheck("reranker", false, func(context.Context) error {
			if !comp.scorer.Ready() {
				return errors.New("reranker scorer in cooldown")
			}
			return nil
		})
	}
	if comp.redis != nil {
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return comp.redis.Ping(ctx).Err()
		})
	}
	return h
}
