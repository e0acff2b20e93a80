package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"url_shortener/auth/internal/repositories"
	"url_shortener/auth/internal/service"
	"url_shortener/pkg/auth"
	"url_shortener/pkg/config"
	"url_shortener/pkg/db"
	"url_shortener/pkg/events"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

type Config struct {
	config.Server
	config.Database
	config.Broker
	config.JWT

	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@urlshortener.com"`
	AdminPassword string `env:"ADMIN_PASSWORD" envDefault:"Admin@123"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Admin User"`
}

// seed создает администратора или повышает существующего пользователя до admin.
func main() {
	cfg, err := config.Load[Config]()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := logging.New("auth-seed", cfg.LogrusLevel())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

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

	// повышение роли публикует user.role_updated, поэтому пробуем дождаться брокера
	bus := messaging.NewClient(
		messaging.NewClientConfig(events.ServiceAuth, cfg.Broker, events.Exchanges()...),
		messaging.WithLogger(logger),
	)
	defer bus.Close()
	bus.Connect(ctx)

	select {
	case <-bus.Ready():
	case <-time.After(10 * time.Second):
		logger.Warn("RabbitMQ is not available, role change events will not be published")
	}

	svc := service.NewAuthService(
		repositories.NewUserRepository(conn),
		auth.NewJWTService(cfg.Secret, cfg.ExpiresIn),
		events.NewEmitter(bus, logger),
		logger,
	)

	created, err := svc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName)
	if err != nil {
		logger.WithError(err).Error("Failed to seed admin user")
		os.Exit(1)
	}

	if created {
		logger.WithField("email", cfg.AdminEmail).Warn("Admin user created, change the password after first login")
	} else {
		logger.WithField("email", cfg.AdminEmail).Info("Admin user already exists")
	}
}
