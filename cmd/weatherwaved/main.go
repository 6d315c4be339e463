package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weatherwave/weatherwave/internal/api"
	"github.com/weatherwave/weatherwave/internal/cache"
	"github.com/weatherwave/weatherwave/internal/config"
	"github.com/weatherwave/weatherwave/internal/httpapi"
	"github.com/weatherwave/weatherwave/internal/location"
	"github.com/weatherwave/weatherwave/internal/netstate"
	"github.com/weatherwave/weatherwave/internal/observability"
	"github.com/weatherwave/weatherwave/internal/resolver"
	"github.com/weatherwave/weatherwave/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	backendClient, err := api.NewBackendClientWithRetry(
		cfg.BackendBaseURL,
		cfg.BackendToken,
		cfg.FacetTimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("backend client", zap.Error(err))
	}

	var kv store.Store
	var storePing func() error
	var closeStore func() error
	switch cfg.StoreBackend {
	case "memcached":
		mc, err := store.NewMemcachedStore(cfg.MemcachedAddrs, cfg.SweepMaxAge, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached store", zap.Error(err))
		}
		kv = mc
		storePing = mc.Ping
		closeStore = mc.Close
		logger.Info("store backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "memory":
		kv = store.NewMemoryStore()
		logger.Info("store backend: memory")
	default:
		db, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite store", zap.Error(err))
		}
		kv = db
		storePing = db.Ping
		closeStore = db.Close
		logger.Info("store backend: sqlite", zap.String("path", cfg.SQLitePath))
	}

	bundleCache := cache.New(kv, cfg.CacheTTL)

	// One opportunistic sweep per start, not a background timer.
	janitor := cache.NewJanitor(kv, cfg.SweepMaxAge, logger)
	sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
	janitor.Sweep(sweepCtx)
	sweepCancel()

	monitor := netstate.NewMonitor(cfg.ProbeURL, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go monitor.Run(monitorCtx)

	geo := location.NewIPGeolocator(cfg.GeolocateURL, cfg.GeolocateTimeout)

	res := resolver.New(backendClient, bundleCache, monitor, logger,
		resolver.WithGeolocator(geo, cfg.GeolocateTimeout),
		resolver.WithOutcomeRecorder(monitor),
	)

	handler := httpapi.NewHandler(res, bundleCache, monitor, logger)
	handler.StorePing = storePing

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(httpapi.CorrelationIDMiddleware(logger))
	router.Use(httpapi.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/cache", handler.GetCacheInfo).Methods("GET")
	router.HandleFunc("/cache", handler.ClearCache).Methods("DELETE")
	bundleRouter := router.PathPrefix("/bundle").Subrouter()
	bundleRouter.Use(httpapi.RateLimitMiddleware(limiter))
	bundleRouter.Use(httpapi.TimeoutMiddleware(cfg.RequestTimeout))
	bundleRouter.HandleFunc("/{location}", handler.GetBundle).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	monitorCancel()
	if closeStore != nil {
		if err := closeStore(); err != nil {
			logger.Error("store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
