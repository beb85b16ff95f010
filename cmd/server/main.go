// Videa - training advisor conversation server
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

	"github.com/ashureev/videa/internal/api"
	"github.com/ashureev/videa/internal/catalog"
	"github.com/ashureev/videa/internal/config"
	"github.com/ashureev/videa/internal/conversation"
	"github.com/ashureev/videa/internal/identity"
	"github.com/ashureev/videa/internal/llm"
	"github.com/ashureev/videa/internal/locks"
	"github.com/ashureev/videa/internal/middleware"
	"github.com/ashureev/videa/internal/persona"
	"github.com/ashureev/videa/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	levelVar := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelVar,
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
	level, _ := config.ParseLevel(cfg.LogLevel)
	levelVar.Set(level)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_provider", cfg.LLM.Provider)

	// The catalog is validated before anything else so a broken one never serves traffic.
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	profiles, bundles := cat.Counts()
	slog.Info("Catalog loaded", "personas", profiles, "bundles", bundles)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gateway, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		Addr:     cfg.LLM.Addr,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		slog.Warn("Language model unavailable, falling back to canned questions", "error", err)
		gateway = llm.Disabled{}
	}
	if closer, ok := gateway.(interface{ Close() }); ok {
		defer closer.Close()
	}

	var locker locks.Locker = locks.NewKeyedMutex()
	if cfg.Lock.Backend == "redis" {
		rl, err := locks.NewRedisLocker(ctx, locks.RedisConfig{Addr: cfg.Lock.RedisAddr, TTL: cfg.Lock.TTL}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rl.Close(); closeErr != nil {
				slog.Error("Failed to close redis locker", "error", closeErr)
			}
		}()
		locker = rl
		slog.Info("Using redis session locks", "addr", cfg.Lock.RedisAddr, "ttl", cfg.Lock.TTL)
	}

	convLog, err := conversation.NewConversationLogger(conversation.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	engine := conversation.NewEngine(conversation.Deps{
		Repo:    repo,
		Catalog: cat,
		Gateway: gateway,
		Locker:  locker,
		ConvLog: convLog,
		Logger:  logger,
	}, conversation.Config{
		MaxExchanges: cfg.Match.MaxExchanges,
		LLMTimeout:   cfg.LLM.Timeout,
		Match: persona.Config{
			MinPredicates: cfg.Match.MinPredicates,
			MinWeight:     cfg.Match.MinWeight,
		},
	})

	monitor := conversation.NewHealthMonitor(gateway, cfg.HealthInterval, logger)
	monitor.Start(ctx)

	baseHandler := api.NewHandler(engine, logger)
	chatHandler := api.NewChatHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, monitor)
	wsHandler := api.NewWebSocketHandler(baseHandler, cfg.AllowedOrigins()[0], cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// A turn can take two gateway calls, so the write timeout leaves room for both.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
