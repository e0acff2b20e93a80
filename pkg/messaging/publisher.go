package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher сериализует события в JSON и отправляет их в exchange текущего канала.
type Publisher struct {
	conn *Connection
	log  *logrus.Entry
	now  func() time.Time
}

func NewPublisher(conn *Connection, log *logrus.Entry) *Publisher {
	return &Publisher{
		conn: conn,
		log:  log,
		now:  time.Now,
	}
}

// Publish отправляет payload без ожидания подтверждения брокера.
// Без живого канала сразу возвращает ErrNotConnected.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	msg, err := p.build(payload)
	if err != nil {
		return p.fail(exchange, routingKey, err)
	}
	return p.PublishRaw(ctx, exchange, routingKey, msg)
}

// PublishRaw отправляет готовое сообщение, сохраняя его MessageId и заголовки.
func (p *Publisher) PublishRaw(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return p.fail(exchange, routingKey, err)
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return p.fail(exchange, routingKey, fmt.Errorf("failed to publish: %w", err))
	}

	p.succeed(exchange, routingKey, msg.MessageId)
	return nil
}

// PublishConfirmed отправляет payload и ждет ack брокера (publisher confirms).
// Работает только при включенном PublisherConfirms.
func (p *Publisher) PublishConfirmed(ctx context.Context, exchange, routingKey string, payload any) error {
	if !p.conn.config.PublisherConfirms {
		return p.fail(exchange, routingKey, ErrConfirmsDisabled)
	}

	msg, err := p.build(payload)
	if err != nil {
		return p.fail(exchange, routingKey, err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return p.fail(exchange, routingKey, err)
	}

	confirmation, err := ch.PublishConfirmed(ctx, exchange, routingKey, msg)
	if err != nil {
		return p.fail(exchange, routingKey, fmt.Errorf("failed to publish: %w", err))
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return p.fail(exchange, routingKey, fmt.Errorf("failed to wait for confirmation: %w", err))
	}
	if !acked {
		return p.fail(exchange, routingKey, ErrNacked)
	}

	p.succeed(exchange, routingKey, msg.MessageId)
	return nil
}

// build собирает persistent JSON сообщение с уникальным MessageId.
func (p *Publisher) build(payload any) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return amqp.Publishing{
		ContentType:  ContentTypeJSON,
		Body:         body,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now().UTC(),
		DeliveryMode: amqp.Persistent,
	}, nil
}

func (p *Publisher) fail(exchange, routingKey string, err error) error {
	getMetrics().publishedTotal.WithLabelValues(exchange, routingKey, resultError).Inc()
	p.log.WithError(err).WithFields(logrus.Fields{
		"exchange":    exchange,
		"routing_key": routingKey,
	}).Error("Failed to publish event")
	return err
}

func (p *Publisher) succeed(exchange, routingKey, messageID string) {
	getMetrics().publishedTotal.WithLabelValues(exchange, routingKey, resultOK).Inc()
	p.log.WithFields(logrus.Fields{
		"exchange":    exchange,
		"routing_key": routingKey,
		"message_id":  messageID,
	}).Debug("Event published")
}
