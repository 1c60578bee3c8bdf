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
	"github.com/redis/go-redis/v9"

	"github.com/predictionmkt/engine/internal/httpapi"
	"github.com/predictionmkt/engine/internal/market"
	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/model"
	"github.com/predictionmkt/engine/internal/risk"
	"github.com/predictionmkt/engine/internal/store"
)

func main() {
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

	// --- Exposure limits ---
	maxPerMarket := envInt("MAX_PER_MARKET_EXPOSURE", 1000)
	maxPerEvent := envInt("MAX_PER_EVENT_EXPOSURE", 5000)
	limiter := risk.NewExposureLimiter(maxPerMarket, maxPerEvent)

	// --- Trading engine ---
	svc := market.NewService(st, limiter, logger)

	// Rebuild every ACTIVE market's order book from persisted resting
	// orders before accepting traffic, per the crash recovery policy.
	restoreActiveMarkets(svc)

	h := httpapi.New(svc)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Market management.
		r.Get("/markets", h.ListMarkets)
		r.Post("/markets", h.CreateMarket)
		r.Get("/markets/{marketID}", h.GetMarket)
		r.Get("/markets/{marketID}/book", h.GetBook)
		r.Get("/markets/{marketID}/trades", h.GetTrades)
		r.Get("/markets/{marketID}/history", h.GetHistory)
		r.Post("/markets/{marketID}/mint", h.MintSet)
		r.Post("/markets/{marketID}/redeem", h.RedeemSet)
		r.Post("/markets/{marketID}/settle", h.SettleMarket)

		// Order intake and cancellation.
		r.Post("/orders", h.PlaceOrder)
		r.Delete("/orders/{orderID}", h.CancelOrder)

		// Portfolio queries.
		r.Get("/users/{userID}/positions", h.GetPositions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", port)
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

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}

// restoreActiveMarkets restarts a matching.Loop for every market the
// store still considers ACTIVE, replaying its resting orders back into
// the book in (price, sequence) order.
func restoreActiveMarkets(svc *market.Service) {
	ctx := context.Background()
	markets, err := svc.ListMarkets(ctx)
	if err != nil {
		slog.Error("failed to list markets for recovery", "err", err)
		return
	}
	for _, m := range markets {
		if m.Status != model.MarketActive {
			continue
		}
		if err := svc.RestoreMarket(ctx, m.ID); err != nil {
			slog.Error("failed to restore market", "market_id", m.ID, "err", err)
		}
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
