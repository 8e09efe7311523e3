package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mrmushfiq/llm0-gateway/internal/gateway/admission"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/credits"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/security"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/docstore"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/logging"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logrus.WithFields(logrus.Fields{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Starting LLM Gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logrus.Info("Connected to PostgreSQL")

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		logrus.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logrus.Info("Connected to Redis")

	// Initialize the document store. Conversation content capture is optional;
	// billing facts go to PostgreSQL either way.
	var docs usage.DocumentStore
	if cfg.MinioEndpoint != "" {
		store, err := docstore.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logrus.Fatalf("Failed to connect to MinIO: %v", err)
		}
		docs = store
		logrus.Info("Connected to MinIO")
	} else {
		logrus.Warn("MINIO_ENDPOINT not set, conversation content capture disabled")
	}

	// Initialize pipeline components
	gate := security.NewGate(cfg.IPAllowlist, cfg.IPBlocklist)
	registry := providers.NewRegistry(cfg)
	logrus.WithField("providers", registry.Configured()).Info("Initialized LLM providers")

	admissionCtl := admission.NewController(redisClient, cfg.RateLimitEnabled)
	ledger := credits.NewLedger(db)
	recorder := usage.NewRecorder(db, docs)

	// Initialize handlers
	timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
	inference := handlers.NewInferenceHandler(registry, admissionCtl, ledger, recorder, db, timeout)
	analytics := handlers.NewAnalyticsHandler(recorder)
	middleware := handlers.NewMiddleware(db, gate)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.SecurityMiddleware)

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes (with auth)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)

		r.Post("/chat/completions", inference.HandleChat)
		r.Post("/completions", inference.HandleCompletion)
		r.Post("/embeddings", inference.HandleEmbedding)
		r.Post("/images/generations", inference.HandleImage)

		r.Get("/analytics/usage", analytics.HandleUsage)
		r.Get("/analytics/sessions", analytics.HandleSessions)
		r.Get("/analytics/models", analytics.HandleModels)
	})

	// HTTP server. Write timeout stays generous so long streams survive.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logrus.Infof("Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logrus.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown error: %v", err)
	}

	logrus.Info("Server stopped")
}
