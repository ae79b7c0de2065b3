package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/adapter/facade"
	"github.com/rl1809/stockbridge/internal/adapter/handler"
	"github.com/rl1809/stockbridge/internal/adapter/metrics"
	"github.com/rl1809/stockbridge/internal/adapter/notifier"
	"github.com/rl1809/stockbridge/internal/adapter/storage"
	"github.com/rl1809/stockbridge/internal/config"
	"github.com/rl1809/stockbridge/internal/core/service"
	"github.com/rl1809/stockbridge/internal/logger"
	"github.com/rl1809/stockbridge/internal/port"
	"github.com/rl1809/stockbridge/internal/telemetry"
)

const trackingFacadeName = "tracking"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "stockbridge", cfg.OTELEndpoint)
	if err != nil {
		log.Fatal("failed to set up tracing", zap.Error(err))
	}

	// Initialize SQL store
	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("failed to open database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	log.Info("connected to database", zap.String("driver", cfg.DBDriver))

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	redisAdapter := storage.NewRedisAdapter(rdb)

	stores := service.Stores{
		Tx:            store,
		Items:         store,
		Orders:        store,
		StorageEvents: storage.NewStorageEventLog(store),
		CatalogEvents: storage.NewCatalogEventLog(store),
	}

	// Storage systems
	httpClient := &http.Client{Timeout: cfg.FacadeTimeout}
	breakerCfg := facade.BreakerConfig{
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
	}
	var (
		facades     []port.StorageFacade
		stockMirror port.StockMirror
	)
	for _, wh := range cfg.Warehouses {
		facades = append(facades, facade.NewBreaker(facade.NewHTTPWarehouse(wh, httpClient, log), breakerCfg, log))
		log.Info("storage system configured", zap.String("facade", wh.Name), zap.Strings("locations", wh.Locations))
	}
	if cfg.TrackingEnabled {
		tracking := facade.NewTracking(trackingFacadeName, redisAdapter, cfg.TrackingLocations, log)
		facades = append(facades, tracking)
		stockMirror = tracking
		log.Info("storage system configured", zap.String("facade", trackingFacadeName), zap.Strings("locations", cfg.TrackingLocations))
	}
	if len(facades) == 0 {
		log.Warn("no storage systems configured, storage events will be acknowledged without delivery")
	}

	// Notifications
	notify := notifier.NewDedupe(notifier.Fanout{
		notifier.NewCallback(httpClient),
		notifier.NewEmail(notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, cfg.StorageEmail),
	}, redisAdapter, log)

	// Dispatchers
	prom := metrics.NewPrometheus()
	opts := []service.DispatcherOption{
		service.WithDispatcherConfig(service.DispatcherConfig{
			Workers:           cfg.DispatchWorkers,
			DeadLetterAfter:   cfg.DeadLetterAfter,
			RepositoryTimeout: cfg.RepositoryTimeout,
		}),
		service.WithDispatchMetrics(prom),
	}
	router := service.NewStorageRouter(facades, store, cfg.FacadeTimeout, log)
	scheduler := service.NewScheduler(cfg.PollInterval, log,
		service.NewStorageDispatcher(stores.StorageEvents, service.NewStorageEventProcessor(router, store, notify, log), log, opts...),
		service.NewCatalogDispatcher(stores.CatalogEvents, service.NewCatalogEventProcessor(notify, stockMirror, log), log, opts...),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil {
			log.Error("scheduler failed", zap.Error(err))
		}
	}()

	// Command services
	items := service.NewItemService(stores, log)
	orders := service.NewOrderService(stores, log)

	// Initialize gRPC server
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(items, orders, log))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(items, orders, map[string]handler.HealthCheck{
		"database": store.Ping,
		"redis":    redisAdapter.Ping,
	}, log).Register(mux)
	mux.Handle("GET /metrics", prom.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Stop the scheduler after the last command has been accepted; any event
	// left unprocessed is picked up on the next start.
	cancel()
	wg.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
	rdb.Close()
	store.Close()
	log.Info("connections closed")
}
