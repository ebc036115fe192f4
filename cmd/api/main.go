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

	"github.com/civicstack/certificate-portal/internal/chat"
	"github.com/civicstack/certificate-portal/internal/config"
	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/handler"
	"github.com/civicstack/certificate-portal/internal/middleware"
	natsclient "github.com/civicstack/certificate-portal/internal/nats"
	"github.com/civicstack/certificate-portal/pkg/logger"
	"github.com/civicstack/certificate-portal/pkg/tracing"
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
		tp, err := tracing.InitTracer(ctx, "certificate-portal", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Document store: in-process, optionally relayed over NATS so multiple
	// instances see each other's writes.
	var store docstore.Store = docstore.NewMemory()

	var nc *natsclient.Client
	if cfg.NATSEnabled {
		nc, err = natsclient.Connect(ctx, natsclient.Config{
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
		defer nc.Close()
		store = docstore.NewRelay(store, nc.Conn())
	}

	// Initialize the chat core
	messages := chat.NewMessages(store)
	directory := chat.NewDirectory(store, log)
	marker := chat.NewReadMarker(store, log)
	unread := chat.NewUnreadCounter(store, directory, log)

	manager := chat.NewManager(chat.SessionDeps{
		Store:    store,
		Messages: messages,
		Dir:      directory,
		Unread:   unread,
		Marker:   marker,
		Log:      log,
		PageSize: cfg.ChatPageSize,
	}, cfg.SessionIdleTimeout, log)

	managerCtx, stopManager := context.WithCancel(ctx)
	defer stopManager()
	go manager.Run(managerCtx)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(nc)
	requestHandler := handler.NewRequestHandler(directory, messages, marker, unread, log)
	sessionHandler := handler.NewSessionHandler(manager, log)

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Stream-URL", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Stateless surface
		r.Get("/unread", requestHandler.Unread)
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", requestHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", requestHandler.Get)
				r.Get("/messages", requestHandler.Messages)
				r.Post("/messages", requestHandler.Send)
				r.Post("/read", requestHandler.Read)
			})
		})

		// Stateful sessions
		r.Route("/chat/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)

			r.Route("/{sid}", func(r chi.Router) {
				r.Delete("/", sessionHandler.Delete)
				r.Get("/stream", sessionHandler.Stream)
				r.Post("/select", sessionHandler.Select)
				r.Post("/older", sessionHandler.Older)
				r.Post("/latest", sessionHandler.Latest)
				r.Post("/filter", sessionHandler.Filter)
				r.Post("/messages", sessionHandler.Send)
				r.Post("/read", sessionHandler.Read)
			})
		})
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

	manager.CloseAll()

	log.Info("server stopped")
}
