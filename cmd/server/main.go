package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/papertrade/engine/internal/alert"
	"github.com/papertrade/engine/internal/bus"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/quote"
	"github.com/papertrade/engine/internal/relay"
	"github.com/papertrade/engine/internal/store"
	"github.com/papertrade/engine/internal/trade"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	apiKey := os.Getenv("FINNHUB_API_KEY")
	if apiKey == "" {
		slog.Warn("FINNHUB_API_KEY not set, quotes and streaming will fail")
	}
	quotes := quote.NewClient(apiKey)

	// --- Notification bus ---
	events := bus.New()

	// --- Services ---
	engine := trade.NewEngine(st, quotes, events)
	alerts := alert.NewService(st, events)
	rt := relay.New(events, apiKey, os.Getenv("FINNHUB_WS_URL"))

	// --- Alert monitor ---
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := alert.NewMonitor(st, quotes, events)
	go monitor.Run(monitorCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Realtime endpoints stay outside the request timeout.
	r.Get("/ws/trades", rt.HandleTrades)
	r.Get("/events", rt.HandleEvents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Market data.
		r.Get("/quote", engine.GetQuote)
		r.Get("/search", engine.SearchSymbols)

		// Trading and account.
		r.Post("/trade", engine.ExecuteTrade)
		r.Post("/deposit", engine.HandleDeposit)
		r.Get("/portfolio", engine.GetPortfolio)
		r.Get("/orders", engine.ListOrders)

		// Price alerts.
		r.Post("/alerts", alerts.Create)
		r.Get("/alerts", alerts.List)
		r.Delete("/alerts/{alertID}", alerts.Delete)
		r.Post("/alerts/{alertID}/trigger", alerts.Trigger)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop the monitor first, then drain connections.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
