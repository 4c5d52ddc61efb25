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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/consumers"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/events"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/handler"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/service"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/config"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/database"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/httputil"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("allocation-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("allocation-service", cfg.Server.Environment)
	log.Info().Msg("starting Allocation Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewAllocationEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	materialRepo := repository.NewMaterialRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	eventRepo := repository.NewEventRepository(db)
	snapshotRepo := repository.NewMaterialSnapshotRepository(db)

	// Initialize services
	availabilityService := service.NewAvailabilityService(materialRepo, allocationRepo, log)
	conflictService := service.NewConflictService(allocationRepo, eventRepo, log)
	materialService := service.NewMaterialService(materialRepo, publisher, log)
	reservationService := service.NewReservationService(
		db, materialRepo, allocationRepo, eventRepo,
		availabilityService, conflictService, publisher, log,
	)
	lifecycleService := service.NewLifecycleService(db, materialRepo, allocationRepo, eventRepo, publisher, log)

	// Initialize handlers
	materialHandler := handler.NewMaterialHandler(materialService, availabilityService, log)
	allocationHandler := handler.NewAllocationHandler(reservationService, lifecycleService, allocationRepo, log)
	conflictHandler := handler.NewConflictHandler(conflictService, log)

	// Start catalog change feed consumer
	catalogConsumer, err := consumers.NewCatalogConsumer(rmq, snapshotRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create catalog consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := catalogConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start catalog consumer")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "allocation-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		materialHandler.RegisterRoutes(r)
		allocationHandler.RegisterRoutes(r)
		conflictHandler.RegisterRoutes(r)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
