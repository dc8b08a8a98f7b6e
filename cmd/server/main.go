// Career guidance API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/careerguide/internal/api"
	"github.com/ashureev/careerguide/internal/assistant"
	"github.com/ashureev/careerguide/internal/config"
	"github.com/ashureev/careerguide/internal/identity"
	"github.com/ashureev/careerguide/internal/middleware"
	"github.com/ashureev/careerguide/internal/shared"
	"github.com/ashureev/careerguide/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger, err := shared.NewLogger(cfg.LogLevel, "stdout")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("No .env file found, using environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting server", zap.String("port", cfg.Server.Port), zap.Bool("dev", cfg.IsDevelopment()))

	repo, err := store.NewSQLite(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", zap.Error(closeErr))
		}
	}()
	logger.Info("Database connected", zap.String("path", cfg.Server.DBPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	responder := newResponder(ctx, cfg, logger)
	h := api.NewHandler(repo, responder, cfg.Server.TokenTTL, logger.Named("api"))

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	h.RegisterRoutes(r)

	// Chat replies stream for as long as the model talks, so there is no
	// WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		identity.RunExpiryWorker(gctx, repo, cfg.Server.SweepEvery, logger.Named("expiry"))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newResponder uses Gemini when a key is configured and the canned
// responder otherwise.
func newResponder(ctx context.Context, cfg *config.Config, logger *zap.Logger) assistant.Responder {
	if cfg.Server.GeminiAPIKey == "" {
		logger.Info("GEMINI_API_KEY not set, chat uses the canned responder")
		return assistant.Canned{Delay: 20 * time.Millisecond}
	}

	g, err := assistant.NewGemini(ctx, cfg.Server.GeminiAPIKey, cfg.Server.GeminiModel, logger.Named("gemini"))
	if err != nil {
		logger.Warn("Failed to initialize Gemini, chat uses the canned responder", zap.Error(err))
		return assistant.Canned{Delay: 20 * time.Millisecond}
	}
	logger.Info("Chat backed by Gemini", zap.String("model", cfg.Server.GeminiModel))
	return g
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.Server.FrontendURL == "" || cfg.IsDevelopment() {
		origins := []string{"http://localhost:3000", "http://localhost:5173"}
		if cfg.Server.FrontendURL != "" {
			origins = append(origins, cfg.Server.FrontendURL)
		}
		return origins
	}
	return []string{cfg.Server.FrontendURL}
}
