package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"orderlive/internal/core/ports"
	"orderlive/internal/core/services"
	handlers "orderlive/internal/handlers/http"
	"orderlive/internal/infrastructure/distributed"
	"orderlive/internal/infrastructure/middleware"
	"orderlive/internal/infrastructure/monitoring"
	wsignal "orderlive/internal/infrastructure/signal"
	"orderlive/pkg/config"
	"orderlive/pkg/logger"
	"orderlive/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := os.Getenv("ORDERLIVE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("could not load configuration: %v", err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "orderlive-gateway",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core wiring: registry and bus are process-local; the broadcaster is
	// the only bus subscriber besides the optional redis bridge.
	registry := services.NewConnectionRegistry(sugar)
	bus := services.NewEventBus(sugar)
	collector := monitoring.NewPrometheusCollector()

	var auth ports.AuthService
	if cfg.Auth.Enabled {
		auth = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	}

	wsOpts := wsignal.Options{
		PingInterval: cfg.Gateway.PingInterval,
		PongTimeout:  cfg.Gateway.PongTimeout,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	}
	if cfg.RateLimiting.Enabled {
		wsOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsOpts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := wsignal.NewWebSocketServer(registry, auth, wsOpts, sugar)

	broadcaster := services.NewBroadcaster(registry, wsServer, collector, sugar)
	bus.Subscribe(broadcaster.Publish)

	statsTicker := monitoring.NewStatsTicker(registry, bus, collector, cfg.Monitoring.MetricsInterval, sugar)
	go statsTicker.Run(ctx)

	if cfg.Redis.Enabled {
		redisClient, err := distributed.NewRedisClient(
			cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)
		if err != nil {
			sugar.Fatalw("failed to connect to redis", "error", err)
		}
		bridge := distributed.NewEventBridge(redisClient, bus, uuid.New().String(), sugar)
		if err := bridge.Start(ctx); err != nil {
			sugar.Fatalw("failed to start event bridge", "error", err)
		}
		defer bridge.Close()
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	eventHandler := handlers.NewEventHandler(bus, auth, collector, logger.NewContextLogger(zapLogger))

	api := router.Group("/api/v1")
	if auth != nil {
		eventHandler.SetupAuthRoutes(api)
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(auth))
		eventHandler.SetupRoutes(protected)
	} else {
		eventHandler.SetupRoutes(api)
	}

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", gin.WrapF(wsServer.HealthCheck))
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sugar.Infow("starting orderlive gateway", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server shutdown failed", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("tracer shutdown failed", "error", err)
	}
}
