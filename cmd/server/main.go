// KAYA - conversational dispatch server for the Landkreis Oldenburg
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/kaya/internal/api"
	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/config"
	"github.com/ashureev/kaya/internal/dispatcher"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/gateway"
	"github.com/ashureev/kaya/internal/identity"
	"github.com/ashureev/kaya/internal/knowledge"
	"github.com/ashureev/kaya/internal/metrics"
	"github.com/ashureev/kaya/internal/middleware"
	"github.com/ashureev/kaya/internal/router"
	"github.com/ashureev/kaya/internal/scheduler"
	"github.com/ashureev/kaya/internal/session"
	"github.com/ashureev/kaya/internal/store"
)

const archiveWriteTimeout = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_provider", cfg.Gateway.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session archive.
	var archive *store.SQLiteStore
	if cfg.Archive.Enabled {
		archive, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := archive.Close(); closeErr != nil {
				slog.Error("Failed to close archive", "error", closeErr)
			}
		}()
		if err := archive.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Session archive connected", "path", cfg.DBPath)
	}

	// Classifier.
	tables, err := classifier.DefaultTables()
	if cfg.ClassifierTables != "" {
		tables, err = classifier.LoadTablesFile(cfg.ClassifierTables)
	}
	if err != nil {
		slog.Error("Failed to load classifier tables", "error", err)
		os.Exit(1)
	}
	cls, err := classifier.New(tables)
	if err != nil {
		slog.Error("Failed to compile classifier tables", "error", err)
		os.Exit(1)
	}

	// Agent knowledge.
	know := knowledge.NewCache(cfg.Knowledge.DataDir, logger)
	if _, err := know.Reload(ctx); err != nil {
		slog.Error("Initial dataset load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Knowledge.Watch {
		watcher, err := knowledge.NewWatcher(cfg.Knowledge.DataDir, know, cfg.Knowledge.Debounce, logger)
		if err == nil {
			err = watcher.Start(ctx)
		}
		if err != nil {
			slog.Warn("Dataset watcher unavailable, relying on polling", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	rt := router.New(know, router.Options{Logger: logger})
	rt.Watch(ctx, know)

	// Generation gateway.
	gw, redisCache := newGateway(ctx, cfg, logger)
	if redisCache != nil {
		defer func() { _ = redisCache.Close() }()
	}
	gw.Cache().StartSweeper(ctx, time.Minute, "llm_response")

	// Live sessions and their sockets.
	conns := api.NewConnManager()
	sessions := session.NewStore(session.Options{
		IdleTimeout: cfg.Session.IdleTimeout,
		MaxSessions: cfg.Session.MaxSessions,
		Logger:      logger,
		OnEvict: func(snap session.Snapshot, reason string) {
			if reason != domain.ArchiveReasonEnded {
				conns.Close(snap.ID)
			}
			archiveSession(archive, snap, reason)
		},
	})
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	disp := dispatcher.New(cls, sessions, rt, gw, dispatcher.Options{
		RequireGrounding: cfg.Gateway.RequireGrounding,
		Logger:           logger,
	})

	// Scheduled jobs.
	sched := scheduler.New(ctx, 5*time.Minute, logger)
	if err := sched.Add("dataset_poll", cfg.Knowledge.PollSchedule, know.PollOnce); err != nil {
		slog.Error("Failed to schedule dataset poll", "error", err)
		os.Exit(1)
	}
	if archive != nil {
		retention := cfg.Archive.Retention
		err := sched.Add("archive_retention", cfg.Archive.Schedule, func(ctx context.Context) {
			n, err := archive.DeleteArchivedBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				slog.Error("Archive retention failed", "error", err)
				return
			}
			if n > 0 {
				slog.Info("Archive retention removed sessions", "count", n, "retention", retention)
			}
		})
		if err != nil {
			slog.Error("Failed to schedule archive retention", "error", err)
			os.Exit(1)
		}
	}
	sched.Start()

	// Handlers.
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	limiter.StartEviction(ctx)

	var archiveReader api.ArchiveReader
	checks := map[string]api.Pinger{}
	if archive != nil {
		archiveReader = archive
		checks["database"] = archive
	}
	if redisCache != nil {
		checks["redis"] = redisCache
	}

	baseHandler := api.NewHandler(api.Deps{
		Dispatcher: disp,
		Sessions:   sessions,
		Archive:    archiveReader,
		Knowledge:  know,
		Gateway:    gw,
		Router:     rt,
	})
	healthHandler := api.NewHealthHandler(checks)
	wsHandler := api.NewWebSocketHandler(disp, conns, sessions, cfg.FrontendURL, cfg.IsDevelopment()).
		WithLimiter(limiter)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	baseHandler.RegisterRoutes(r, limiter.Middleware)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	sched.Stop()

	snaps := sessions.Snapshots()
	for _, snap := range snaps {
		archiveSession(archive, snap, domain.ArchiveReasonShutdown)
	}
	metrics.ActiveSessions.Set(0)
	slog.Info("Live sessions archived", "count", len(snaps))

	slog.Info("Server stopped successfully")
}

func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway.Gateway, *gateway.RedisCache) {
	gc := cfg.Gateway
	var (
		transport gateway.Transport
		err       error
	)
	if cfg.LLMEnabled() {
		transport, err = gateway.NewTransport(ctx, gateway.ProviderConfig{
			Provider:      gc.Provider,
			OpenAIAPIKey:  gc.OpenAIAPIKey,
			OpenAIBaseURL: gc.OpenAIBaseURL,
			OpenAIModel:   gc.OpenAIModel,
			GeminiAPIKey:  gc.GeminiAPIKey,
			GeminiModel:   gc.GeminiModel,
		}, &http.Client{})
		if err != nil {
			slog.Warn("LLM transport unavailable, answering from templates only", "provider", gc.Provider, "error", err)
			transport = nil
		}
	} else {
		slog.Info("LLM disabled, answering from templates only")
	}

	model := ""
	if transport != nil {
		model = transport.Model()
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithBreaker(gateway.NewCircuitBreaker(gateway.BreakerConfig{
			FailureThreshold: gc.BreakerThreshold,
			Cooldown:         gc.BreakerCooldown,
			OnStateChange: func(from, to gateway.CircuitState) {
				logger.Warn("LLM circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		})),
		gateway.WithBudget(gateway.NewBudget(gateway.BudgetConfig{
			RequestsPerMinute: gc.RequestsPerMin,
			DailyUSD:          gc.DailyBudgetUSD,
			MonthlyUSD:        gc.MonthlyBudgetUSD,
			Pricing:           gateway.PricingFor(model),
		}, logger)),
	}

	var redisCache *gateway.RedisCache
	if gc.RedisAddr != "" {
		redisCache, err = gateway.NewRedisCache(gateway.RedisConfig{
			Addr:     gc.RedisAddr,
			Password: gc.RedisPassword,
			DB:       gc.RedisDB,
		})
		if err != nil {
			slog.Warn("Redis response cache unavailable, using in-process cache only", "error", err)
			redisCache = nil
		} else {
			opts = append(opts, gateway.WithSecondLevel(redisCache))
			slog.Info("Redis response cache connected", "addr", gc.RedisAddr)
		}
	}

	gw := gateway.New(transport, gateway.Config{
		MaxTokens:       gc.MaxTokens,
		Temperature:     gc.Temperature,
		Timeout:         gc.Timeout,
		CacheTTL:        gc.CacheTTL,
		CacheMaxEntries: gc.CacheMaxEntries,
	}, opts...)
	slog.Info("Generation gateway initialized", "enabled", gw.Enabled(), "model", model)
	return gw, redisCache
}

func archiveSession(archive *store.SQLiteStore, snap session.Snapshot, reason string) {
	if archive == nil || len(snap.History) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := archive.SaveSession(ctx, snap.Archive(reason, time.Now())); err != nil {
		slog.Error("Failed to archive session", "session_id", snap.ID, "reason", reason, "error", err)
	}
}
