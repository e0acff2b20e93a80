package events

import (
	"context"
	"encoding/json"
	"fmt"

	"url_shortener/pkg/messaging"
)

// On превращает типизированный обработчик в messaging.Handler.
// Тело, которое не декодируется в T, считается ошибкой обработки.
func On[T any](fn func(ctx context.Context, msg messaging.Message, evt T) error) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		var evt T
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", msg.RoutingKey, err)
		}
		return fn(ctx, msg, evt)
	}
}

// Register добавляет в registry очередь {service}_{event} с точным routing key.
func Register(registry *messaging.Registry, routingKey string, handler messaging.Handler) error {
	exchange, ok := ExchangeFor(routingKey)
	if !ok {
		return fmt.Errorf("unknown routing key %q", routingKey)
	}
	return registry.Register(exchange, routingKey, QueueName(registry.Service(), routingKey), handler)
}
