package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer открывает соединение с брокером по URL.
type Dialer func(url string) (Conn, error)

// Conn - минимальная часть amqp.Connection, которой пользуется клиент.
type Conn interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Channel - минимальная часть amqp.Channel, которой пользуется клиент.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error)
	Confirm(noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Confirmation ожидает подтверждение публикации от брокера.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// AMQPDialer подключается к настоящему RabbitMQ.
func AMQPDialer(url string) (Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConn{Connection: conn}, nil
}

type amqpConn struct {
	*amqp.Connection
}

func (c *amqpConn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{Channel: ch}, nil
}

type amqpChannel struct {
	*amqp.Channel
}

func (c *amqpChannel) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	// nil приходит, если канал не переведен в confirm-режим
	if dc == nil {
		return nil, ErrConfirmsDisabled
	}
	return dc, nil
}
