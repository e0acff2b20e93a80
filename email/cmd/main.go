package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"url_shortener/email/internal/handlers"
	"url_shortener/email/internal/mailer"
	"url_shortener/email/internal/service"
	"url_shortener/email/internal/templates"
	"url_shortener/pkg/config"
	"url_shortener/pkg/db"
	"url_shortener/pkg/dedupe"
	"url_shortener/pkg/events"
	"url_shortener/pkg/httpx"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

type Config struct {
	config.Server
	config.Broker
	config.Redis

	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`
	FromEmail            string `env:"FROM_EMAIL" envDefault:"noreply@urlshortener.com"`
	AppName              string `env:"APP_NAME" envDefault:"URL Shortener"`
	SendURLCreatedEmails bool   `env:"SEND_URL_CREATED_EMAILS" envDefault:"false"`
}

func main() {
	cfg, err := config.Load[Config]()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logging.New("email-service", cfg.LogrusLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := db.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	renderer, err := templates.New()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load email templates")
	}

	var sender mailer.Sender
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST is not set, emails will only be logged")
		sender = mailer.NewLogSender(logger)
	} else {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromEmail,
			FromName: cfg.AppName,
		}, logger)
	}

	notifier := service.NewNotifier(sender, renderer, service.Config{
		AppName:              cfg.AppName,
		SendURLCreatedEmails: cfg.SendURLCreatedEmails,
	}, logger)
	guard := dedupe.NewGuard(rdb, "email:sent", dedupe.DefaultTTL, logger)

	bus := messaging.NewClient(
		messaging.NewClientConfig(events.ServiceEmail, cfg.Broker, events.Exchanges()...),
		messaging.WithLogger(logger),
	)

	registry := messaging.NewRegistry(events.ServiceEmail)
	if err := handlers.NewConsumerHandler(notifier, guard).Register(registry); err != nil {
		logger.WithError(err).Fatal("Failed to register consumers")
	}
	registry.Install(bus)
	bus.Connect(ctx)

	e := httpx.NewEcho(logger, cfg.CORSOrigins)
	e.GET("/health", httpx.Health("email-service", map[string]httpx.Check{
		"rabbitmq": bus.IsConnected,
		"redis":    func() bool { return rdb.Ping(ctx).Err() == nil },
	}))

	if err := httpx.Serve(ctx, e, ":"+cfg.Port, logger); err != nil {
		logger.WithError(err).Error("HTTP server stopped with error")
	}

	if err := bus.Close(); err != nil {
		logger.WithError(err).Error("Failed to close RabbitMQ client")
	}
	logger.Info("Server stopped gracefully")
}
