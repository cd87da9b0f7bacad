package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/frostdev-ops/pma-hub-go/internal/adapters/homeassistant"
	"github.com/frostdev-ops/pma-hub-go/internal/api"
	"github.com/frostdev-ops/pma-hub-go/internal/config"
	"github.com/frostdev-ops/pma-hub-go/internal/core/cache"
	"github.com/frostdev-ops/pma-hub-go/internal/core/state"
	"github.com/frostdev-ops/pma-hub-go/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Select the cache backend
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		redisStore, err := cache.NewRedisStore(cache.RedisOptions{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			UseTLS:    cfg.Redis.UseTLS,
			PoolSize:  cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize redis cache backend: ", err)
		}
		store = redisStore
	default:
		memStore := cache.NewMemoryStore(cfg.Cache.MaxEntries)
		store = memStore

		// Periodic sweep so expired entries don't linger between reads
		sweeper := cron.New()
		if _, err := sweeper.AddFunc(cfg.Cache.SweepSchedule, func() {
			if removed := memStore.SweepExpired(); removed > 0 {
				log.WithField("removed", removed).Debug("Swept expired cache entries")
			}
		}); err != nil {
			log.WithError(err).Warn("Invalid cache sweep schedule, sweep disabled")
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	cacheManager := cache.NewManager(store, cfg.Cache.Backend, log)
	defer cacheManager.Close()

	// Transport clients
	restClient := homeassistant.NewRESTClient(homeassistant.RESTOptions{
		BaseURL:   cfg.HomeAssistant.URL,
		Token:     cfg.HomeAssistant.Token,
		VerifyTLS: cfg.HomeAssistant.VerifyTLS,
		Timeout:   cfg.HomeAssistant.RequestTimeoutDuration(),
	}, log)

	wsClient := homeassistant.NewWSClient(homeassistant.WSOptions{
		BaseURL:          cfg.HomeAssistant.URL,
		Token:            cfg.HomeAssistant.Token,
		VerifyTLS:        cfg.HomeAssistant.VerifyTLS,
		RequestTimeout:   cfg.HomeAssistant.WebSocket.RequestTimeoutDuration(),
		ReconnectMinWait: cfg.HomeAssistant.WebSocket.ReconnectMinWaitDuration(),
		ReconnectMaxWait: cfg.HomeAssistant.WebSocket.ReconnectMaxWaitDuration(),
		PendingMaxWait:   cfg.HomeAssistant.WebSocket.PendingMaxWaitDuration(),
	}, log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := wsClient.Connect(connectCtx); err != nil {
		// The session reconnects in the background; REST still serves reads.
		log.WithError(err).Warn("WebSocket session unavailable at startup")
	}
	connectCancel()
	defer wsClient.Close()

	// State access layer
	stateService := state.NewService(restClient, wsClient, cacheManager, &cfg.Cache, log)
	defer stateService.Close()

	// Push notifications invalidate stale cache entries
	wsClient.OnEvent(stateService.HandleStateChanged)

	sseCtx, sseCancel := context.WithCancel(context.Background())
	defer sseCancel()
	if cfg.HomeAssistant.SSE.Enabled {
		sseClient := homeassistant.NewSSEClient(homeassistant.SSEOptions{
			BaseURL:       cfg.HomeAssistant.URL,
			Path:          cfg.HomeAssistant.SSE.Path,
			Token:         cfg.HomeAssistant.Token,
			VerifyTLS:     cfg.HomeAssistant.VerifyTLS,
			ReconnectWait: cfg.HomeAssistant.SSE.ReconnectWaitDuration(),
		}, log)
		sseClient.OnEvent(stateService.HandleStateChanged)
		go sseClient.Run(sseCtx)
	}

	// Initialize router
	router := api.NewRouter(cfg, stateService, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		log.Infof("Starting PMA Hub on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}
