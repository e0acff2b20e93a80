package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type ClientConfig struct {
	Service    string
	Connection ConnectionConfig
	Consumer   ConsumerConfig
	// CloseTimeout - сколько Close ждет завершения обрабатываемых сообщений.
	CloseTimeout time.Duration
}

type Option func(*Client)

func WithDialer(dial Dialer) Option {
	return func(c *Client) { c.dial = dial }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// Client - общий для процесса клиент шины событий: одно соединение, один канал,
// публикация и подписки поверх них.
type Client struct {
	config ClientConfig
	dial   Dialer
	log    *logrus.Entry

	conn      *Connection
	publisher *Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mutex     sync.Mutex
	consumers map[string]*Consumer
	closed    bool
}

func NewClient(config ClientConfig, opts ...Option) *Client {
	c := &Client{
		config:    config,
		dial:      AMQPDialer,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		consumers: make(map[string]*Consumer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "messaging")
	if c.config.CloseTimeout <= 0 {
		c.config.CloseTimeout = 10 * time.Second
	}

	c.conn = NewConnection(config.Connection, c.dial, c.log)
	c.publisher = NewPublisher(c.conn, c.log)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Connect запускает фоновое подключение и не ждет его завершения.
func (c *Client) Connect(ctx context.Context) {
	c.conn.Start(ctx)
}

// OnConnect выполняет hook после каждого (пере)подключения.
func (c *Client) OnConnect(hook func(ctx context.Context) error) {
	c.conn.OnConnect(hook)
}

func (c *Client) Ready() <-chan struct{} {
	return c.conn.Ready()
}

func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

func (c *Client) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	return c.publisher.Publish(ctx, exchange, routingKey, payload)
}

func (c *Client) PublishConfirmed(ctx context.Context, exchange, routingKey string, payload any) error {
	return c.publisher.PublishConfirmed(ctx, exchange, routingKey, payload)
}

func (c *Client) publishRaw(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return c.publisher.PublishRaw(ctx, exchange, routingKey, msg)
}

// Subscribe объявляет очередь queue, привязывает ее к exchange по pattern и
// запускает для нее фоновый consumer. Повторная подписка с той же привязкой ничего не делает.
func (c *Client) Subscribe(exchange, pattern, queue string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for queue %s", queue)
	}
	if err := ValidatePattern(pattern); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrShutdown
	}

	if existing, ok := c.consumers[queue]; ok {
		if existing.Exchange == exchange && existing.Pattern == pattern {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSubscriptionConflict, queue)
	}

	consumer := NewConsumer(c.conn, c.consumerConfig(), exchange, pattern, queue, handler, c.log)
	if c.config.Service != "" {
		consumer.tag = c.config.Service + "-" + consumer.tag
	}
	if err := c.conn.withChannel(consumer.Declare); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"exchange": exchange,
			"pattern":  pattern,
			"queue":    queue,
		}).Error("Failed to declare queue, subscription skipped")
		return err
	}

	c.consumers[queue] = consumer
	go consumer.Start(c.ctx)
	return nil
}

func (c *Client) consumerConfig() ConsumerConfig {
	cfg := c.config.Consumer
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = c.config.Connection.Reconnect.base(1)
	}
	return cfg
}

// Close останавливает consumers, дожидается текущих обработчиков и закрывает соединение.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	consumers := make([]*Consumer, 0, len(c.consumers))
	for _, consumer := range c.consumers {
		consumers = append(consumers, consumer)
	}
	c.mutex.Unlock()

	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.CloseTimeout)
	defer cancel()
	for _, consumer := range consumers {
		select {
		case <-consumer.Done():
		case <-ctx.Done():
			c.log.WithField("queue", consumer.Queue).Warn("Consumer did not stop in time")
		}
	}

	return c.conn.Close()
}
