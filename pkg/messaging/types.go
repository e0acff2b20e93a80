package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	ExchangeKindTopic = "topic"
	ContentTypeJSON   = "application/json"

	deadLetterExchangeSuffix = "_dlx"
	deadLetterQueueSuffix    = "_dlq"
)

var (
	ErrNotConnected         = errors.New("not connected to RabbitMQ")
	ErrShutdown             = errors.New("connection is shutting down")
	ErrConfirmsDisabled     = errors.New("publisher confirms are disabled")
	ErrNacked               = errors.New("message was nacked by broker")
	ErrSubscriptionConflict = errors.New("queue is already subscribed with a different binding")
)

// Message - доставленное событие: тело уже проверено как JSON.
type Message struct {
	Exchange    string
	RoutingKey  string
	MessageID   string
	Redelivered bool
	Timestamp   time.Time
	Body        json.RawMessage
}

// Handler обрабатывает событие. Ошибка или паника приводят к nack без requeue.
type Handler func(ctx context.Context, msg Message) error

// DeadLetterExchange возвращает имя DLX для exchange.
func DeadLetterExchange(exchange string) string {
	return exchange + deadLetterExchangeSuffix
}

// DeadLetterQueue возвращает имя очереди, куда попадают отклоненные сообщения queue.
func DeadLetterQueue(queue string) string {
	return queue + deadLetterQueueSuffix
}
