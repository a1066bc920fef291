// Package main is the entry point for the pixelmint-api server.
// Note: User identity, sessions, and sign-up are handled by Clerk; payments
// by Stripe Checkout. The API owns generations, the token ledger, usage
// accounting, and provider dispatch.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pixelmint/pixelmint-api/internal/auth"
	"github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/database"
	"github.com/pixelmint/pixelmint-api/internal/http/handlers"
	"github.com/pixelmint/pixelmint-api/internal/http/mw"
	"github.com/pixelmint/pixelmint-api/internal/logging"
	"github.com/pixelmint/pixelmint-api/internal/repository"
	"github.com/pixelmint/pixelmint-api/internal/service"
	"github.com/pixelmint/pixelmint-api/internal/version"
	"github.com/pixelmint/pixelmint-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting pixelmint-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations (with logging for each migration applied)
	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	if applied, err := database.GetAppliedMigrations(db); err != nil {
		logger.Warn("failed to read migration state", "error", err)
	} else {
		logger.Info("database schema ready", "migrations_applied", len(applied))
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize services
	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Fail generations stuck in processing from previous server runs. Their
	// webhooks were lost while the server was down.
	if swept, err := services.Generation.SweepStaleProcessing(context.Background(), cfg.StaleProcessingAge); err != nil {
		logger.Warn("failed to sweep stale generations", "error", err)
	} else if swept > 0 {
		logger.Info("failed stale generations from previous run", "count", swept)
	}

	// Initialize Clerk verifier for JWT validation
	var clerkVerifier *auth.ClerkVerifier
	if cfg.ClerkIssuerURL != "" {
		clerkVerifier = auth.NewClerkVerifier(cfg.ClerkIssuerURL)
		logger.Info("clerk authentication enabled", "issuer", cfg.ClerkIssuerURL)
	} else {
		logger.Warn("CLERK_ISSUER_URL not set - JWT authentication will fail")
	}

	// Start background worker for generation dispatch
	genWorker := worker.New(
		repos.Generation,
		services.Generation,
		services.Provider,
		worker.Config{
			PollInterval: cfg.WorkerPollInterval,
			Concurrency:  cfg.WorkerConcurrency,
			StaleAge:     cfg.StaleProcessingAge,
		},
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	genWorker.Start(ctx)

	// Start scheduled cleanup if enabled
	if cfg.CleanupEnabled {
		go services.Cleanup.RunScheduled(ctx, cfg.UsageRetention, cfg.CleanupInterval)
		logger.Info("cleanup service started",
			"retention", cfg.UsageRetention.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())

	// Request timeout middleware with different timeouts per endpoint type
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:  30 * time.Second,
		Extended: 2 * time.Minute,
		// Storage transfers and cleanup runs take longer
		ExtendedPatterns: []string{"/files", "/cleanup"},
		// Webhook ingestion manages its own read limits
		SkipPatterns: []string{"/webhooks"},
	}))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - prevent large payload attacks
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Global rate limit by IP (fallback for unauthenticated requests)
	// Authenticated users get per-user limits applied later
	router.Use(mw.RateLimitByIP(100))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(100))

	// Create Huma API config for main API with OpenAPI docs
	humaConfig := huma.DefaultConfig("Pixelmint API", v.Version)
	humaConfig.Info.Description = "AI image generation API with token-metered billing, async provider dispatch, and webhook settlement."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	// Add security scheme for Bearer auth
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "Clerk session JWT. Include it in the Authorization header as `Bearer <token>`.",
		},
	}

	// Main API with OpenAPI docs
	api := humachi.New(router, humaConfig)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("Pixelmint API", v.Version)
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	// Config for protected routes (no separate docs - served by the main API)
	protectedConfig := huma.DefaultConfig("Pixelmint API", v.Version)
	protectedConfig.Info.Description = humaConfig.Info.Description
	protectedConfig.Servers = humaConfig.Servers
	protectedConfig.Components.SecuritySchemes = humaConfig.Components.SecuritySchemes
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	// Health check (public, shown in docs)
	mw.PublicGet(api, "/api/v1/health", handlers.HealthCheck,
		mw.WithOperationID("health-check"),
		mw.WithSummary("Health check"),
		mw.WithTags("system"),
	)

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(hiddenAPI, "/healthz", handlers.Livez)
	readyzHandler := handlers.NewReadyzHandler(db)
	mw.HiddenGet(hiddenAPI, "/readyz", readyzHandler.Readyz)

	// Webhooks are raw HTTP handlers: signatures cover the exact request
	// bytes, so bodies must not pass through Huma's decoder. They share a
	// global rate limit since all deliveries come from a handful of senders.
	router.Group(func(r chi.Router) {
		r.Use(mw.RateLimitGlobal(600))

		if cfg.ProviderWebhookSecret != "" {
			providerWebhook := handlers.NewProviderWebhookHandler(cfg.ProviderWebhookSecret, services.Generation, logger)
			r.Post("/api/v1/webhooks/provider", providerWebhook.HandleWebhook)
			logger.Info("provider webhook endpoint enabled")
		}

		if cfg.StripeWebhookSecret != "" {
			stripeWebhook := handlers.NewStripeWebhookHandler(cfg, services.Ledger, logger)
			r.Post("/api/v1/webhooks/stripe", stripeWebhook.HandleWebhook)
			logger.Info("stripe webhook endpoint enabled")
		}

		if cfg.ClerkWebhookSecret != "" {
			clerkWebhook := handlers.NewClerkWebhookHandler(cfg, services.Account, logger)
			r.Post("/api/v1/webhooks/clerk", clerkWebhook.HandleWebhook)
			logger.Info("clerk webhook endpoint enabled")
		}
	})

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(clerkVerifier))
		r.Use(mw.RateLimitByUser(mw.DefaultRateLimitConfig()))

		protectedAPI := humachi.New(r, protectedConfig)

		// Generation routes
		generationsHandler := handlers.NewGenerationsHandler(services.Generation, services.Storage, logger)
		mw.ProtectedPost(protectedAPI, "/api/v1/generations", generationsHandler.CreateGeneration,
			mw.WithStatus(http.StatusCreated),
			mw.WithTags("generations"),
			mw.WithSummary("Create a generation"),
		)
		mw.ProtectedGet(protectedAPI, "/api/v1/generations", generationsHandler.ListGenerations,
			mw.WithTags("generations"))
		mw.ProtectedGet(protectedAPI, "/api/v1/generations/{id}", generationsHandler.GetGeneration,
			mw.WithTags("generations"))
		mw.ProtectedDelete(protectedAPI, "/api/v1/generations/{id}", generationsHandler.DeleteGeneration,
			mw.WithStatus(http.StatusNoContent),
			mw.WithTags("generations"),
			mw.WithSummary("Delete a generation"),
		)
		mw.ProtectedGet(protectedAPI, "/api/v1/generations/{id}/files", generationsHandler.GetGenerationFiles,
			mw.WithTags("generations"))
		mw.ProtectedPost(protectedAPI, "/api/v1/generations/{id}/cancel", generationsHandler.CancelGeneration,
			mw.WithTags("generations"),
			mw.WithSummary("Cancel a generation"),
		)
		mw.ProtectedPost(protectedAPI, "/api/v1/generations/{id}/retry", generationsHandler.RetryGeneration,
			mw.WithTags("generations"),
			mw.WithSummary("Retry a failed generation"),
		)

		// Account routes
		accountHandler := handlers.NewAccountHandler(services.Account, services.Ledger, services.Usage, logger)
		mw.ProtectedGet(protectedAPI, "/api/v1/account/profile", accountHandler.GetProfile,
			mw.WithTags("account"))
		mw.ProtectedGet(protectedAPI, "/api/v1/account/balance", accountHandler.GetBalance,
			mw.WithTags("account"))
		mw.ProtectedGet(protectedAPI, "/api/v1/account/purchases", accountHandler.GetPurchases,
			mw.WithTags("account"))
		mw.ProtectedGet(protectedAPI, "/api/v1/account/usage", accountHandler.GetUsageHistory,
			mw.WithTags("account"))
		mw.ProtectedGet(protectedAPI, "/api/v1/account/activity", accountHandler.GetActivitySummary,
			mw.WithTags("account"))

		// File routes (return 503 when object storage is not configured)
		filesHandler := handlers.NewFilesHandler(services.Storage, logger)
		mw.ProtectedPost(protectedAPI, "/api/v1/files/upload-url", filesHandler.CreateUploadURL,
			mw.WithTags("files"),
			mw.WithSummary("Create a presigned upload URL"),
		)
		mw.ProtectedGet(protectedAPI, "/api/v1/files", filesHandler.ListFiles,
			mw.WithTags("files"))
		mw.ProtectedGet(protectedAPI, "/api/v1/files/{id}/download-url", filesHandler.CreateDownloadURL,
			mw.WithTags("files"))
		mw.ProtectedDelete(protectedAPI, "/api/v1/files/{id}", filesHandler.DeleteFile,
			mw.WithTags("files"))
	})

	// Admin routes (requires admin flag in Clerk public_metadata)
	if cfg.AdminEnabled {
		router.Group(func(r chi.Router) {
			r.Use(mw.Auth(clerkVerifier))
			r.Use(mw.RequireAdmin())

			adminAPI := humachi.New(r, protectedConfig)
			adminHandler := handlers.NewAdminHandler(
				services.Generation,
				services.Account,
				services.Ledger,
				services.Usage,
				services.Credential,
				services.Cleanup,
				cfg.UsageRetention,
				logger,
			)

			mw.ProtectedGet(adminAPI, "/api/v1/admin/generations", adminHandler.ListAllGenerations,
				mw.WithTags("admin"))
			mw.ProtectedGet(adminAPI, "/api/v1/admin/stats", adminHandler.GetSystemStats,
				mw.WithTags("admin"))
			mw.ProtectedGet(adminAPI, "/api/v1/admin/analytics", adminHandler.GetUsageAnalytics,
				mw.WithTags("admin"))
			mw.ProtectedGet(adminAPI, "/api/v1/admin/metrics", adminHandler.GetGenerationMetrics,
				mw.WithTags("admin"))
			mw.ProtectedGet(adminAPI, "/api/v1/admin/popular-models", adminHandler.GetPopularModels,
				mw.WithTags("admin"))
			mw.ProtectedGet(adminAPI, "/api/v1/admin/credentials", adminHandler.ListCredentials,
				mw.WithTags("admin"))
			mw.ProtectedPost(adminAPI, "/api/v1/admin/credentials", adminHandler.SetCredential,
				mw.WithTags("admin"),
				mw.WithSummary("Set a provider API credential"),
			)
			mw.ProtectedPost(adminAPI, "/api/v1/admin/adjustments", adminHandler.AdjustTokens,
				mw.WithTags("admin"),
				mw.WithSummary("Manually adjust a user's token balance"),
			)
			mw.ProtectedPost(adminAPI, "/api/v1/admin/cleanup", adminHandler.RunCleanup,
				mw.WithTags("admin"),
				mw.WithSummary("Run retention cleanup now"),
			)
		})
		logger.Info("admin API enabled")
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the worker first so in-flight dispatches finish
		cancel()
		stopped := make(chan struct{})
		go func() {
			genWorker.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.WorkerShutdownGracePeriod):
			logger.Warn("worker did not stop within grace period", "grace_period", cfg.WorkerShutdownGracePeriod.String())
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL, "provider", cfg.ProviderName)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
