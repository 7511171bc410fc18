package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/m3upanel/internal/config"
	"github.com/prudhvinik1/m3upanel/internal/database"
	"github.com/prudhvinik1/m3upanel/internal/handlers"
	"github.com/prudhvinik1/m3upanel/internal/payments"
	"github.com/prudhvinik1/m3upanel/internal/repositories"
	"github.com/prudhvinik1/m3upanel/internal/services"
	"github.com/prudhvinik1/m3upanel/internal/session"
	"github.com/prudhvinik1/m3upanel/internal/utils"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("Failed to create postgres pool", err)
	}
	defer postgresPool.Close()

	if err := database.Migrate(ctx, postgresPool); err != nil {
		fatal("Failed to migrate database", err)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		fatal("Failed to create redis client", err)
	}
	defer redisClient.Close()

	// Repositories
	deviceRepo := repositories.NewPostgresDeviceRepository(postgresPool)
	sessionRepo := repositories.NewRedisSessionRepository(redisClient)
	presenceRepo := repositories.NewRedisPresenceRepository(redisClient)
	webhookRepo := repositories.NewRedisWebhookEventRepository(redisClient)
	limiter := repositories.NewRedisRateLimiter(redisClient)

	// Services
	codec, err := session.NewCodec(cfg.SessionSecret, cfg.IsProduction())
	if err != nil {
		fatal("Failed to create session codec", err)
	}
	gateway := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.LicensePriceCents, cfg.LicenseCurrency)

	deviceService := services.NewDeviceService(deviceRepo, presenceRepo, utils.BcryptCost)
	authService := services.NewAuthService(deviceRepo, sessionRepo, limiter, cfg.SessionTTL, services.LoginPolicy{
		Limit:  cfg.LoginRateLimit,
		Window: cfg.LoginRateWindow,
	})
	paymentService := services.NewPaymentService(deviceRepo, webhookRepo, gateway, cfg.StripeWebhookSecret, cfg.AppURL)

	h := handlers.NewHandler(deviceService, authService, paymentService, codec,
		handlers.HealthCheck{Name: "postgres", Check: postgresPool.Ping},
		handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
	)

	router := handlers.NewRouter(h, handlers.RouterOptions{
		CORSOrigins:  cfg.CORSAllowedOrigins,
		TrustedProxy: cfg.TrustedProxy,
	})

	// Start Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting server", "port", cfg.ServerPort, "env", cfg.Environment)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		fatal("Server error", err)
	}

	slog.Info("Server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
