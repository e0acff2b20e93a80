package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

const maxRetryDelay = 30 * time.Second

type ConsumerConfig struct {
	PrefetchCount int
	// DeadLetterQueues объявляет для каждой очереди {queue}_dlq, привязанную к {exchange}_dlx.
	DeadLetterQueues bool
	// HandlerTimeout ограничивает время обработки одного сообщения, 0 - без ограничения.
	HandlerTimeout time.Duration
	// RetryDelay - пауза перед повторным запуском consume после ошибки,
	// удваивается при повторных неудачах подряд.
	RetryDelay time.Duration
}

// Consumer читает одну очередь в своей горутине и подтверждает каждое сообщение
// ровно один раз: ack при успехе, nack без requeue при ошибке.
type Consumer struct {
	Exchange string
	Pattern  string
	Queue    string

	conn    *Connection
	config  ConsumerConfig
	handler Handler
	tag     string
	log     *logrus.Entry
	done    chan struct{}
}

func NewConsumer(conn *Connection, config ConsumerConfig, exchange, pattern, queue string, handler Handler, log *logrus.Entry) *Consumer {
	return &Consumer{
		Exchange: exchange,
		Pattern:  pattern,
		Queue:    queue,
		conn:     conn,
		config:   config,
		handler:  handler,
		tag:      queue + "-" + uuid.NewString()[:8],
		log: log.WithFields(logrus.Fields{
			"exchange": exchange,
			"pattern":  pattern,
			"queue":    queue,
		}),
		done: make(chan struct{}),
	}
}

// Declare идемпотентно объявляет exchange, DLX, очередь и привязку.
func (c *Consumer) Declare(ch Channel) error {
	if err := declareExchange(ch, c.Exchange); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", c.Exchange, err)
	}

	dlx := DeadLetterExchange(c.Exchange)
	// аргументы очереди не зависят от DeadLetterQueues: RabbitMQ не дает
	// переобъявить существующую очередь с другими аргументами.
	// У каждой очереди своя DLQ, поэтому ключ DLX - имя очереди.
	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": c.Queue,
	}

	if c.config.DeadLetterQueues {
		if err := declareExchange(ch, dlx); err != nil {
			return fmt.Errorf("failed to declare dead letter exchange %s: %w", dlx, err)
		}
		dlq := DeadLetterQueue(c.Queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead letter queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, c.Queue, dlx, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead letter queue %s: %w", dlq, err)
		}
	}

	if _, err := ch.QueueDeclare(
		c.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		args,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.Queue, err)
	}

	if err := ch.QueueBind(c.Queue, c.Pattern, c.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s with %s: %w", c.Queue, c.Exchange, c.Pattern, err)
	}
	return nil
}

// Start читает очередь до отмены ctx, переживая переподключения.
func (c *Consumer) Start(ctx context.Context) {
	defer close(c.done)

	failures := 0
	for {
		started, err := c.consume(ctx)
		if ctx.Err() != nil {
			c.log.Info("Consumer stopped")
			return
		}
		if started {
			failures = 0
		}
		failures++
		delay := c.retryDelay(failures)
		c.log.WithError(err).WithField("delay", delay.String()).Warn("Consumer interrupted, waiting for connection")

		if !sleepContext(ctx, delay) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.conn.Ready():
		}
	}
}

// Done закрывается после выхода из Start.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// retryDelay удваивает RetryDelay на каждую подряд неудачную попытку, не больше maxRetryDelay.
func (c *Consumer) retryDelay(failures int) time.Duration {
	delay := c.config.RetryDelay
	for i := 1; i < failures && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// consume читает очередь на собственном канале: ошибка объявления или
// отмена consumer брокером не затрагивают общий канал публикации.
// started сообщает, успел ли consumer начать чтение.
func (c *Consumer) consume(ctx context.Context) (started bool, err error) {
	ch, err := c.conn.openChannel()
	if err != nil {
		return false, err
	}
	// неподтвержденные сообщения вернутся в очередь при закрытии канала
	defer func() { _ = ch.Close() }()

	if err := c.Declare(ch); err != nil {
		return false, err
	}

	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return false, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	deliveries, err := ch.Consume(
		c.Queue,
		c.tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume: %w", err)
	}

	c.log.Info("Started consuming")

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(c.tag, false)
			return true, nil
		case delivery, ok := <-deliveries:
			if !ok {
				return true, errDeliveriesClosed
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	start := time.Now()
	log := c.log.WithFields(logrus.Fields{
		"routing_key": delivery.RoutingKey,
		"message_id":  delivery.MessageId,
		"redelivered": delivery.Redelivered,
	})

	if !json.Valid(delivery.Body) {
		log.Error("Failed to decode message body, rejecting")
		c.reject(delivery, log)
		c.observe(resultMalformed, start)
		return
	}

	msg := Message{
		Exchange:    delivery.Exchange,
		RoutingKey:  delivery.RoutingKey,
		MessageID:   delivery.MessageId,
		Redelivered: delivery.Redelivered,
		Timestamp:   delivery.Timestamp,
		Body:        json.RawMessage(delivery.Body),
	}

	// остановка сервиса не должна прерывать уже начатую обработку
	hctx := context.WithoutCancel(ctx)
	if c.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, c.config.HandlerTimeout)
		defer cancel()
	}

	if err := c.invoke(hctx, msg); err != nil {
		log.WithError(err).Error("Failed to handle message, rejecting")
		c.reject(delivery, log)
		c.observe(resultRejected, start)
		return
	}

	if err := delivery.Ack(false); err != nil {
		log.WithError(err).Error("Failed to ack message")
		return
	}
	c.observe(resultAcked, start)
	log.Debug("Message handled")
}

func (c *Consumer) invoke(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) reject(delivery amqp.Delivery, log *logrus.Entry) {
	if err := delivery.Nack(false, false); err != nil {
		log.WithError(err).Error("Failed to nack message")
	}
}

func (c *Consumer) observe(result string, start time.Time) {
	m := getMetrics()
	m.consumedTotal.WithLabelValues(c.Queue, result).Inc()
	m.handlerLatency.WithLabelValues(c.Queue, result).Observe(time.Since(start).Seconds())
}
