package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"url_shortener/pkg/auth"
	"url_shortener/pkg/config"
	"url_shortener/pkg/db"
	"url_shortener/pkg/events"
	"url_shortener/pkg/httpx"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
	"url_shortener/urls/internal/cache"
	"url_shortener/urls/internal/handlers"
	"url_shortener/urls/internal/repositories"
	"url_shortener/urls/internal/service"
)

type Config struct {
	config.Server
	config.Database
	config.Broker
	config.Redis
	config.JWT

	BaseURL           string        `env:"BASE_URL" envDefault:"http://localhost:8082"`
	DefaultExpiryDays int           `env:"DEFAULT_EXPIRY_DAYS" envDefault:"30"`
	CacheTTL          time.Duration `env:"URL_CACHE_TTL" envDefault:"1h"`
	TrustGateway      bool          `env:"TRUST_GATEWAY_HEADERS" envDefault:"false"`
	ShortenRateLimit  string        `env:"SHORTEN_RATE_LIMIT" envDefault:"60-M"`
}

func main() {
	cfg, err := config.Load[Config]()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logging.New("url-service", cfg.LogrusLevel())

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

	// Redis
	rdb, err := db.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Шина событий: подключение идет в фоне, HTTP стартует сразу
	bus := messaging.NewClient(
		messaging.NewClientConfig(events.ServiceURL, cfg.Broker, events.Exchanges()...),
		messaging.WithLogger(logger),
	)

	// Репозитории и сервисы
	urlRepo := repositories.NewURLRepository(conn)
	urlCache := cache.New(rdb, cfg.CacheTTL, cfg.ExpiresIn)
	emitter := events.NewEmitter(bus, logger)
	urlService := service.NewURLService(urlRepo, urlCache, emitter, service.Config{
		BaseURL:       cfg.BaseURL,
		DefaultExpiry: time.Duration(cfg.DefaultExpiryDays) * 24 * time.Hour,
	}, logger)

	// Потребители событий auth-service
	registry := messaging.NewRegistry(events.ServiceURL)
	if err := handlers.NewConsumerHandler(urlService).Register(registry); err != nil {
		logger.WithError(err).Fatal("Failed to register consumers")
	}
	registry.Install(bus)
	bus.Connect(ctx)

	// HTTP
	limit, err := httpx.RateLimit(cfg.ShortenRateLimit, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid SHORTEN_RATE_LIMIT")
	}

	e := httpx.NewEcho(logger, cfg.CORSOrigins)
	e.GET("/health", httpx.Health("url-service", map[string]httpx.Check{
		"rabbitmq": bus.IsConnected,
		"postgres": func() bool { return conn.PingContext(ctx) == nil },
		"redis":    func() bool { return rdb.Ping(ctx).Err() == nil },
	}))

	authn := auth.Authenticate(auth.NewJWTService(cfg.Secret, cfg.ExpiresIn), auth.MiddlewareConfig{
		TrustGateway: cfg.TrustGateway,
		Roles:        urlService.RoleOf,
	})
	handlers.NewURLHandler(urlService).RegisterRoutes(e, authn, limit)

	if err := httpx.Serve(ctx, e, ":"+cfg.Port, logger); err != nil {
		logger.WithError(err).Error("HTTP server stopped with error")
	}

	if err := bus.Close(); err != nil {
		logger.WithError(err).Error("Failed to close RabbitMQ client")
	}
	logger.Info("Server stopped gracefully")
}
