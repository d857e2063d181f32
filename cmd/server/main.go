package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eroaming/hub/internal/api"
	"github.com/eroaming/hub/internal/broadcast"
	"github.com/eroaming/hub/internal/circuitbreaker"
	"github.com/eroaming/hub/internal/config"
	"github.com/eroaming/hub/internal/crypto"
	"github.com/eroaming/hub/internal/events"
	"github.com/eroaming/hub/internal/middleware"
	"github.com/eroaming/hub/internal/partner"
	"github.com/eroaming/hub/internal/partnerclient"
)

func main() {
	log.Println("🔥 Starting eRoaming broadcast gateway...")

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfigOrDefault(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY must be set")
	}
	codec, err := crypto.NewCodec(encryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize crypto codec: %v", err)
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL must be set")
	}
	repo, err := partner.NewPostgresRepository(cfg.Database.URL, codec)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure partner schema: %v", err)
	}

	cache := partner.NewCache(repo, cfg.Cache.MaxSize, cfg.CacheTTL())
	cache.Preload(ctx)

	breakerCfg := circuitbreaker.Config{
		SlidingWindowSize:     cfg.CircuitBreaker.SlidingWindowSize,
		MinimumCalls:          cfg.CircuitBreaker.MinimumCalls,
		FailureRateThreshold:  cfg.CircuitBreaker.FailureRateThreshold,
		SlowCallRateThreshold: cfg.CircuitBreaker.SlowCallRateThreshold,
		SlowCallThreshold:     time.Duration(cfg.CircuitBreaker.SlowCallThresholdMs) * time.Millisecond,
		OpenStateDuration:     time.Duration(cfg.CircuitBreaker.OpenStateDurationMs) * time.Millisecond,
		HalfOpenMaxCalls:      cfg.CircuitBreaker.HalfOpenMaxCalls,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Printf("[CircuitBreaker:%s] State change: %s -> %s", name, from, to)
		},
	}
	registry := circuitbreaker.NewRegistry(breakerCfg,
		time.Duration(cfg.CircuitBreaker.EvictionThresholdHours)*time.Hour,
		time.Duration(cfg.CircuitBreaker.SweepIntervalMinutes)*time.Minute)

	clientMetrics := partnerclient.NewMetrics(prometheus.DefaultRegisterer)
	client := partnerclient.New(registry, clientMetrics, cfg.BroadcastDeadline())

	pool := broadcast.NewWorkerPool(
		cfg.Broadcast.Pool.CoreWorkers,
		cfg.Broadcast.Pool.MaxWorkers,
		cfg.Broadcast.Pool.QueueSize)

	broadcastMetrics := broadcast.NewMetrics(prometheus.DefaultRegisterer)
	orchestrator := broadcast.NewOrchestrator(cache, client, pool, broadcastMetrics, cfg.BroadcastDeadline())

	// Cross-instance cache invalidation is optional: without Redis the
	// gateway runs standalone and sibling caches converge via TTL.
	var bus *events.Bus
	if cfg.Redis.Addr != "" {
		bus, err = events.NewBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, running with local-only cache invalidation: %v", err)
			bus = nil
		} else {
			err := bus.SubscribePartnerChanged(func(partnerID string) {
				if partnerID == "" {
					cache.Refresh(context.Background())
				} else {
					cache.Invalidate(partnerID)
				}
			})
			if err != nil {
				log.Printf("⚠️ Event subscription failed: %v", err)
			}
		}
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.MaxCallsPerMinute, cfg.RateLimit.BurstSize)

	var publisher api.ChangePublisher
	if bus != nil {
		publisher = bus
	}
	server := api.NewServer(orchestrator, cache, publisher, limiter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: stop accepting broadcasts, drain workers, then
	// release the breaker sweeper and the event bus.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		orchestrator.Shutdown(cfg.ShutdownGrace())
		registry.Close()
		if bus != nil {
			bus.Close()
		}
	}()

	log.Printf("🚀 eRoaming broadcast gateway listening on port %s", cfg.Server.Port)
	log.Printf("📊 Health check: http://localhost:%s/health", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}
