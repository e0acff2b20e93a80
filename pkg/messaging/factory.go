package messaging

import (
	"url_shortener/pkg/config"
)

// NewClientConfig собирает настройки клиента из окружения сервиса.
func NewClientConfig(service string, broker config.Broker, exchanges ...string) ClientConfig {
	return ClientConfig{
		Service: service,
		Connection: ConnectionConfig{
			URL:       broker.URL,
			Exchanges: exchanges,
			Reconnect: BackoffPolicy{
				Initial:    broker.ReconnectInitial,
				Max:        broker.ReconnectMax,
				Multiplier: broker.ReconnectMultiplier,
				Jitter:     broker.ReconnectJitter,
			},
			PublisherConfirms: broker.PublisherConfirms,
		},
		Consumer: ConsumerConfig{
			PrefetchCount:    broker.Prefetch,
			DeadLetterQueues: broker.DeadLetterQueues,
			HandlerTimeout:   broker.HandlerTimeout,
		},
	}
}
