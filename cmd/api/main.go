// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voicelab-ai/testbench/internal/config"
	"github.com/voicelab-ai/testbench/internal/handler"
	"github.com/voicelab-ai/testbench/internal/llm"
	"github.com/voicelab-ai/testbench/internal/middleware"
	natsclient "github.com/voicelab-ai/testbench/internal/nats"
	"github.com/voicelab-ai/testbench/internal/service"
	"github.com/voicelab-ai/testbench/internal/store"
	"github.com/voicelab-ai/testbench/pkg/logger"
	"github.com/voicelab-ai/testbench/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "testbench", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize LLM client. The testing loop cannot run without one, so a
	// missing key is a startup failure, not a degraded mode.
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	} else {
		log.Error("no LLM API key configured (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}

	// Open the session store
	sessionStore, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	defer sessionStore.Close()

	// Initialize services
	platform := service.NewPlatform(cfg.Testing, llmClient, sessionStore, log)
	liveSession := service.NewLiveSession(cfg.Testing, llmClient, sessionStore, log)
	personaGen := service.NewPersonaGenerator(cfg.Testing, llmClient, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	testingHandler := handler.NewTestingHandler(platform, streamManager, log)
	personaHandler := handler.NewPersonaHandler(personaGen, cfg.Testing.PersonaTypes, log)
	sessionHandler := handler.NewSessionHandler(sessionStore, log)
	liveHandler := handler.NewLiveHandler(liveSession, cfg.Testing.PersonaTypes, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/test-runs", testingHandler.Run)
		r.Get("/test-runs/stream", testingHandler.Stream)

		r.Post("/personas", personaHandler.Generate)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.Get("/{id}", sessionHandler.Get)
			r.Get("/{id}/iterations/{n}", sessionHandler.Iteration)
		})
		r.Get("/conversations/{id}", sessionHandler.Conversation)

		r.Get("/live", liveHandler.Stream)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
