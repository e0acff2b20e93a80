package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"url_shortener/pkg/config"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

type Config struct {
	config.Broker
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
}

// app - общее состояние команд: конфигурация и способ подключиться к брокеру.
type app struct {
	dialer  messaging.Dialer
	timeout time.Duration
	load    func() (*Config, error)
}

func newApp() *app {
	return &app{
		timeout: 10 * time.Second,
		load:    config.Load[Config],
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ops",
		Short:         "Operations tool for the URL shortener event bus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", a.timeout, "How long to wait for RabbitMQ")

	cmd.AddCommand(
		newPublishCmd(a),
		newDLQCmd(a),
		newTopologyCmd(),
	)
	return cmd
}

// connect подключается к брокеру и ждет готовности канала.
func (a *app) connect(ctx context.Context) (*messaging.Client, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	opts := []messaging.Option{messaging.WithLogger(logging.New("ops", level))}
	if a.dialer != nil {
		opts = append(opts, messaging.WithDialer(a.dialer))
	}

	client := messaging.NewClient(messaging.NewClientConfig("ops", cfg.Broker), opts...)
	client.Connect(ctx)

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case <-client.Ready():
		return client, nil
	case <-timer.C:
		client.Close()
		return nil, fmt.Errorf("RabbitMQ at %s is not reachable after %s", cfg.Broker.URL, a.timeout)
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}
}
