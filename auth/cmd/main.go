package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"url_shortener/auth/internal/handlers"
	"url_shortener/auth/internal/repositories"
	"url_shortener/auth/internal/service"
	"url_shortener/pkg/auth"
	"url_shortener/pkg/config"
	"url_shortener/pkg/db"
	"url_shortener/pkg/events"
	"url_shortener/pkg/httpx"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

type Config struct {
	config.Server
	config.Database
	config.Broker
	config.JWT

	TrustGateway  bool   `env:"TRUST_GATEWAY_HEADERS" envDefault:"false"`
	AuthRateLimit string `env:"AUTH_RATE_LIMIT" envDefault:"20-M"`
}

func main() {
	cfg, err := config.Load[Config]()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logging.New("auth-service", cfg.LogrusLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// База данных
	logger.Info("Connecting to database...")
	conn, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer conn.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.Database.URL, cfg.MigrationsDir); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
	}
	logger.Info("Database connected successfully")

	// Шина событий: подключение идет в фоне, HTTP стартует сразу
	bus := messaging.NewClient(
		messaging.NewClientConfig(events.ServiceAuth, cfg.Broker, events.Exchanges()...),
		messaging.WithLogger(logger),
	)

	// Репозитории и сервисы
	userRepo := repositories.NewUserRepository(conn)
	countRepo := repositories.NewURLCountRepository(conn)

	tokens := auth.NewJWTService(cfg.Secret, cfg.ExpiresIn)
	emitter := events.NewEmitter(bus, logger)
	authService := service.NewAuthService(userRepo, tokens, emitter, logger)
	countService := service.NewURLCountService(countRepo, logger)

	// Потребители событий url-service
	registry := messaging.NewRegistry(events.ServiceAuth)
	if err := handlers.NewConsumerHandler(countService).Register(registry); err != nil {
		logger.WithError(err).Fatal("Failed to register consumers")
	}
	registry.Install(bus)
	bus.Connect(ctx)

	// HTTP
	limit, err := httpx.RateLimit(cfg.AuthRateLimit, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid AUTH_RATE_LIMIT")
	}

	e := httpx.NewEcho(logger, cfg.CORSOrigins)
	e.GET("/health", httpx.Health("auth-service", map[string]httpx.Check{
		"rabbitmq": bus.IsConnected,
		"postgres": func() bool { return conn.PingContext(ctx) == nil },
	}))

	authn := auth.Authenticate(tokens, auth.MiddlewareConfig{TrustGateway: cfg.TrustGateway})
	handlers.NewAuthHandler(authService).RegisterRoutes(e, authn, limit)

	if err := httpx.Serve(ctx, e, ":"+cfg.Port, logger); err != nil {
		logger.WithError(err).Error("HTTP server stopped with error")
	}

	if err := bus.Close(); err != nil {
		logger.WithError(err).Error("Failed to close RabbitMQ client")
	}
	logger.Info("Server stopped gracefully")
}
