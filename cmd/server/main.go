package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/fabioitj/gatherin/internal/api"
	"github.com/fabioitj/gatherin/internal/auth"
	"github.com/fabioitj/gatherin/internal/brapi"
	"github.com/fabioitj/gatherin/internal/config"
	"github.com/fabioitj/gatherin/internal/health"
	"github.com/fabioitj/gatherin/internal/metrics"
	"github.com/fabioitj/gatherin/internal/pricing"
	"github.com/fabioitj/gatherin/internal/recommend"
	"github.com/fabioitj/gatherin/internal/search"
	"github.com/fabioitj/gatherin/internal/store"
	"github.com/fabioitj/gatherin/internal/valuation"
	"github.com/fabioitj/gatherin/internal/wallet"
)

func main() {
	cfg, err := config.Load("gatherin.toml")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logging.NewLogger())

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := store.NewPool(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.GetTTL())
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.GetTTL())
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Market data provider ---
	quotes := brapi.NewClient(cfg.Brapi.Token,
		brapi.WithBaseURL(cfg.Brapi.BaseURL),
		brapi.WithRateLimit(cfg.Brapi.RateLimit),
		brapi.WithTimeout(cfg.Brapi.GetTimeout()),
	)

	// --- Services ---
	pricingOpts := []pricing.Option{
		pricing.WithRetryBackoff(cfg.Pricing.GetRetryBackoff()),
		pricing.WithStaleAfter(cfg.Pricing.GetStaleAfter()),
	}
	if cfg.Pricing.FallbackOnCacheError {
		pricingOpts = append(pricingOpts, pricing.WithFallback(quotes))
	}
	prices := pricing.NewService(st, pricingOpts...)

	secret := cfg.Auth.JWTSecret
	if secret == "" || secret == config.DefaultJWTSecret {
		if cfg.IsProduction() {
			slog.Error("GATHERIN_JWT_SECRET is required in production")
			os.Exit(1)
		}
		slog.Warn("using development JWT secret")
		secret = config.DefaultJWTSecret
	}
	authn := auth.New(secret)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	var server *api.Server
	monitor := health.NewMonitor(st, cfg.Pricing.GetStaleAfter(), func(rep *health.Report) {
		server.BroadcastHealth(rep)
	})

	server = api.NewServer(api.Deps{
		Search:    search.NewService(st, quotes),
		Wallet:    wallet.NewService(st),
		Valuation: valuation.NewEngine(prices),
		Recs:      recommend.NewService(st),
		Health:    monitor,
		Hub:       wsHub,
	})

	if err := monitor.Start(cfg.Health.Schedule); err != nil {
		slog.Error("health monitor failed to start", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"gatherin"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	server.Mount(r, authn)

	// --- Server ---
	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gatherin listening", "addr", addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down gatherin...")
	monitor.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	wsHub.Close()
	fmt.Println("gatherin stopped")
}
