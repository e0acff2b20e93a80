package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type ConnectionConfig struct {
	URL string
	// Exchanges объявляются (topic, durable) при каждом подключении.
	Exchanges         []string
	Reconnect         BackoffPolicy
	PublisherConfirms bool
}

// Connection владеет одним соединением и общим каналом публикации к RabbitMQ и
// переподключается в фоне, пока его не закроют. Топология очередей и consumers
// живут на отдельных каналах того же соединения.
type Connection struct {
	config ConnectionConfig
	dial   Dialer
	log    *logrus.Entry

	mutex   sync.RWMutex
	conn    Conn
	channel Channel
	ready   chan struct{}
	hooks   []func(ctx context.Context) error
	started bool
	closed  bool
	cancel  context.CancelFunc
}

func NewConnection(config ConnectionConfig, dial Dialer, log *logrus.Entry) *Connection {
	if dial == nil {
		dial = AMQPDialer
	}
	return &Connection{
		config: config,
		dial:   dial,
		log:    log,
		ready:  make(chan struct{}),
	}
}

// Start запускает цикл подключения и сразу возвращает управление:
// недоступный брокер не должен задерживать старт HTTP сервера.
func (c *Connection) Start(ctx context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started || c.closed {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// OnConnect регистрирует функцию, которая выполняется после каждого успешного подключения.
func (c *Connection) OnConnect(hook func(ctx context.Context) error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *Connection) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		lost, err := c.connect()
		if err != nil {
			if errors.Is(err, ErrShutdown) {
				return
			}
			attempt++
			delay := c.config.Reconnect.Delay(attempt)
			c.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Error("Failed to connect to RabbitMQ")
			if !sleepContext(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		c.runHooks(ctx)

		select {
		case <-ctx.Done():
			return
		case amqpErr := <-lost:
			if ctx.Err() != nil {
				return
			}
			c.disconnect()
			getMetrics().reconnectsTotal.Inc()

			attempt = 1
			delay := c.config.Reconnect.Delay(attempt)
			c.log.WithFields(logrus.Fields{
				"reason": closeReason(amqpErr),
				"delay":  delay.String(),
			}).Warn("RabbitMQ connection closed, reconnecting")
			if !sleepContext(ctx, delay) {
				return
			}
		}
	}
}

func (c *Connection) connect() (<-chan *amqp.Error, error) {
	conn, err := c.dial(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if c.config.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	for _, exchange := range c.config.Exchanges {
		if err := declareExchange(ch, exchange); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	lost := watchClose(conn, ch)

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		ch.Close()
		conn.Close()
		return nil, ErrShutdown
	}
	c.conn = conn
	c.channel = ch
	close(c.ready)
	c.mutex.Unlock()

	getMetrics().connected.Set(1)
	c.log.WithField("exchanges", c.config.Exchanges).Info("Connected to RabbitMQ")
	return lost, nil
}

// watchClose объединяет уведомления о закрытии соединения и канала:
// потеря канала тоже требует переподключения.
func watchClose(conn Conn, ch Channel) <-chan *amqp.Error {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	lost := make(chan *amqp.Error, 1)
	go func() {
		var err *amqp.Error
		select {
		case err = <-connClosed:
		case err = <-chClosed:
		}
		lost <- err
	}()
	return lost
}

func (c *Connection) disconnect() {
	c.mutex.Lock()
	conn, ch := c.conn, c.channel
	c.conn, c.channel = nil, nil
	if !c.closed {
		c.ready = make(chan struct{})
	}
	c.mutex.Unlock()

	getMetrics().connected.Set(0)

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

func (c *Connection) runHooks(ctx context.Context) {
	c.mutex.RLock()
	hooks := make([]func(ctx context.Context) error, len(c.hooks))
	copy(hooks, c.hooks)
	c.mutex.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			c.log.WithError(err).Error("Connection hook failed")
		}
	}
}

// Channel возвращает текущий канал или ErrNotConnected, если подключения еще нет.
func (c *Connection) Channel() (Channel, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return nil, ErrShutdown
	}
	if c.channel == nil {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// openChannel открывает отдельный канал на текущем соединении.
func (c *Connection) openChannel() (Channel, error) {
	c.mutex.RLock()
	conn, closed := c.conn, c.closed
	c.mutex.RUnlock()

	if closed {
		return nil, ErrShutdown
	}
	if conn == nil {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// withChannel выполняет fn на короткоживущем канале. Channel exception внутри fn
// (например PRECONDITION_FAILED при объявлении очереди) закрывает только его,
// общий канал публикации остается открытым.
func (c *Connection) withChannel(fn func(ch Channel) error) error {
	ch, err := c.openChannel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	return fn(ch)
}

// Ready возвращает канал, закрытый пока соединение установлено.
func (c *Connection) Ready() <-chan struct{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

func (c *Connection) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.conn != nil && !c.conn.IsClosed() && !c.closed
}

func (c *Connection) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn, ch := c.conn, c.channel
	c.conn, c.channel = nil, nil
	c.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	getMetrics().connected.Set(0)

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func declareExchange(ch Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		ExchangeKindTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

func closeReason(err *amqp.Error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
