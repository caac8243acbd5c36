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
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/chatsync/internal/config"
	"github.com/prudhvinik1/chatsync/internal/database"
	"github.com/prudhvinik1/chatsync/internal/handlers"
	"github.com/prudhvinik1/chatsync/internal/repositories"
	"github.com/prudhvinik1/chatsync/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	// Repositories
	accountRepo := repositories.NewPostgresAccountRepository(postgresPool)
	deviceRepo := repositories.NewPostgresDeviceRepository(postgresPool)
	eventRepo := repositories.NewPostgresSyncEventRepository(postgresPool)
	configRepo := repositories.NewPostgresSyncConfigRepository(postgresPool)
	entityStore := repositories.NewPostgresEntityStore(postgresPool)
	sessionRepo := repositories.NewRedisSessionRepository(redisClient)
	conflictRepo := repositories.NewRedisConflictRepository(redisClient)
	txRunner := repositories.NewPgxTxRunner(postgresPool)

	// Services
	authService := services.NewAuthService(accountRepo, deviceRepo, sessionRepo, cfg.JWTSecret, cfg.JWTExpiry)
	detector := services.NewTimeWindowDetector(eventRepo, cfg.ConflictWindow)
	pullService := services.NewPullService(deviceRepo, eventRepo, entityStore, detector, logger)
	pushService := services.NewPushService(deviceRepo, eventRepo, entityStore, conflictRepo, detector, txRunner, logger)
	resolverService := services.NewResolverService(conflictRepo, eventRepo, entityStore, txRunner, logger)
	optimizerService := services.NewOptimizerService(deviceRepo, eventRepo, cfg.LogRetention, logger)
	syncService := services.NewSyncService(deviceRepo, eventRepo, conflictRepo, configRepo, entityStore, logger)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	syncHandler := handlers.NewSyncHandler(syncService, pullService, pushService, resolverService, optimizerService)

	// Initialize HTTP Server
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		r.Route("/sync", func(r chi.Router) {
			r.Use(handlers.RequireAuth(authService))
			syncHandler.Routes(r)
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		logger.Infof("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// Log compaction runs out-of-band and never blocks sync traffic.
	group.Go(func() error {
		err := optimizerService.Run(groupCtx, cfg.OptimizerInterval)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}
