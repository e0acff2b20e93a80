// Package messagingtest содержит брокер в памяти с семантикой RabbitMQ,
// достаточной для тестов клиента: topic маршрутизация, durable очереди,
// ручные ack/nack, dead-lettering, рестарт и обрыв соединений.
package messagingtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"url_shortener/pkg/messaging"
)

const deliveryBuffer = 256

type exchange struct {
	name     string
	kind     string
	durable  bool
	bindings []binding
}

type binding struct {
	queue string
	key   string
}

type message struct {
	exchange    string
	routingKey  string
	publishing  amqp.Publishing
	redelivered bool
}

type queue struct {
	name      string
	durable   bool
	args      amqp.Table
	messages  []message
	consumers []*consumer
	next      int
}

type consumer struct {
	tag        string
	queue      string
	channel    *Channel
	deliveries chan amqp.Delivery
	prefetch   int
	unacked    int
}

type unacked struct {
	queue    string
	msg      message
	consumer *consumer
}

// Broker - брокер в памяти. Нулевое значение не готово, используйте NewBroker.
type Broker struct {
	mutex     sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*queue
	conns     map[*Conn]struct{}
	dialErr   error
	dials     int
	nackAll   bool
}

func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		conns:     make(map[*Conn]struct{}),
	}
}

// Dialer возвращает messaging.Dialer, подключающийся к этому брокеру.
func (b *Broker) Dialer() messaging.Dialer {
	return func(string) (messaging.Conn, error) {
		return b.Dial()
	}
}

func (b *Broker) Dial() (messaging.Conn, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &Conn{broker: b}
	b.conns[conn] = struct{}{}
	return conn, nil
}

// FailDials заставляет следующие подключения завершаться ошибкой err; nil снимает отказ.
func (b *Broker) FailDials(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.dialErr = err
}

func (b *Broker) Dials() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.dials
}

// NackPublishes заставляет confirm-каналы отвечать nack на публикации.
func (b *Broker) NackPublishes(nack bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.nackAll = nack
}

// DropConnections обрывает все соединения, как при сетевом сбое.
func (b *Broker) DropConnections() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for conn := range b.conns {
		conn.closeLocked(&amqp.Error{Code: amqp.ConnectionForced, Reason: "connection dropped", Server: true})
	}
}

// Restart имитирует перезапуск брокера: соединения рвутся, non-durable
// exchanges/очереди и non-persistent сообщения теряются.
func (b *Broker) Restart() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for conn := range b.conns {
		conn.closeLocked(&amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart", Server: true})
	}

	for name, ex := range b.exchanges {
		if !ex.durable {
			delete(b.exchanges, name)
		}
	}
	for name, q := range b.queues {
		if !q.durable {
			delete(b.queues, name)
			continue
		}
		kept := q.messages[:0]
		for _, msg := range q.messages {
			if msg.publishing.DeliveryMode == amqp.Persistent {
				kept = append(kept, msg)
			}
		}
		q.messages = kept
	}
	for _, ex := range b.exchanges {
		bindings := ex.bindings[:0]
		for _, bnd := range ex.bindings {
			if _, ok := b.queues[bnd.queue]; ok {
				bindings = append(bindings, bnd)
			}
		}
		ex.bindings = bindings
	}
}

// Publish кладет сообщение в exchange в обход клиента, например невалидное тело.
func (b *Broker) Publish(exchangeName, routingKey string, msg amqp.Publishing) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.routeLocked(exchangeName, routingKey, msg, nil)
}

// DeclareQueue объявляет durable очередь в обход клиента, например с аргументами старой версии сервиса.
func (b *Broker) DeclareQueue(name string, args amqp.Table) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.queues[name] = &queue{name: name, durable: true, args: args}
}

// ExchangeKind возвращает тип exchange, если он объявлен.
func (b *Broker) ExchangeKind(name string) (string, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	ex, ok := b.exchanges[name]
	if !ok {
		return "", false
	}
	return ex.kind, true
}

func (b *Broker) HasQueue(name string) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	_, ok := b.queues[name]
	return ok
}

func (b *Broker) QueueArgs(name string) amqp.Table {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	return q.args
}

// Ready возвращает число сообщений, ожидающих доставки в очереди.
func (b *Broker) Ready(name string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return len(q.messages)
}

// Unacked возвращает число доставленных, но не подтвержденных сообщений очереди.
func (b *Broker) Unacked(name string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	n := 0
	for conn := range b.conns {
		for _, ch := range conn.channels {
			for _, u := range ch.unacked {
				if u.queue == name {
					n++
				}
			}
		}
	}
	return n
}

// Consumers возвращает число активных consumers очереди.
func (b *Broker) Consumers(name string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return len(q.consumers)
}

// Peek возвращает копии ожидающих сообщений очереди.
func (b *Broker) Peek(name string) []amqp.Delivery {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	out := make([]amqp.Delivery, 0, len(q.messages))
	for _, msg := range q.messages {
		out = append(out, toDelivery(msg, 0, "", nil))
	}
	return out
}

func (b *Broker) routeLocked(exchangeName, routingKey string, pub amqp.Publishing, headers amqp.Table) error {
	msg := message{exchange: exchangeName, routingKey: routingKey, publishing: pub}
	if headers != nil {
		msg.publishing.Headers = headers
	}

	if exchangeName == "" {
		q, ok := b.queues[routingKey]
		if ok {
			b.enqueueLocked(q, msg)
		}
		return nil
	}

	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchangeName)}
	}

	delivered := make(map[string]struct{})
	for _, bnd := range ex.bindings {
		if _, done := delivered[bnd.queue]; done {
			continue
		}
		if !matches(ex.kind, bnd.key, routingKey) {
			continue
		}
		q, ok := b.queues[bnd.queue]
		if !ok {
			continue
		}
		delivered[bnd.queue] = struct{}{}
		b.enqueueLocked(q, msg)
	}
	return nil
}

func matches(kind, pattern, key string) bool {
	switch kind {
	case amqp.ExchangeFanout:
		return true
	case amqp.ExchangeDirect:
		return pattern == key
	default:
		return messaging.MatchTopic(pattern, key)
	}
}

func (b *Broker) enqueueLocked(q *queue, msg message) {
	q.messages = append(q.messages, msg)
	b.dispatchLocked(q)
}

func (b *Broker) requeueLocked(queueName string, msg message) {
	q, ok := b.queues[queueName]
	if !ok {
		return
	}
	msg.redelivered = true
	q.messages = append([]message{msg}, q.messages...)
	b.dispatchLocked(q)
}

// deadLetterLocked отправляет сообщение в DLX очереди и дописывает x-death.
func (b *Broker) deadLetterLocked(queueName string, msg message) {
	q, ok := b.queues[queueName]
	if !ok {
		return
	}
	dlx, _ := q.args["x-dead-letter-exchange"].(string)
	if dlx == "" {
		return
	}
	key := msg.routingKey
	if override, ok := q.args["x-dead-letter-routing-key"].(string); ok && override != "" {
		key = override
	}

	headers := amqp.Table{}
	for k, v := range msg.publishing.Headers {
		headers[k] = v
	}
	death := amqp.Table{
		"queue":        queueName,
		"reason":       "rejected",
		"exchange":     msg.exchange,
		"routing-keys": []interface{}{msg.routingKey},
		"count":        int64(1),
		"time":         time.Now(),
	}
	previous, _ := headers["x-death"].([]interface{})
	headers["x-death"] = append([]interface{}{death}, previous...)

	_ = b.routeLocked(dlx, key, msg.publishing, headers)
}

func (b *Broker) dispatchLocked(q *queue) {
	for len(q.messages) > 0 && len(q.consumers) > 0 {
		c := b.pickConsumerLocked(q)
		if c == nil {
			return
		}
		msg := q.messages[0]
		q.messages = q.messages[1:]

		c.channel.nextTag++
		tag := c.channel.nextTag
		c.channel.unacked[tag] = &unacked{queue: q.name, msg: msg, consumer: c}
		c.unacked++
		c.deliveries <- toDelivery(msg, tag, c.tag, c.channel)
	}
}

func (b *Broker) pickConsumerLocked(q *queue) *consumer {
	for i := 0; i < len(q.consumers); i++ {
		c := q.consumers[(q.next+i)%len(q.consumers)]
		if len(c.deliveries) >= cap(c.deliveries) {
			continue
		}
		if c.prefetch > 0 && c.unacked >= c.prefetch {
			continue
		}
		q.next = (q.next + i + 1) % len(q.consumers)
		return c
	}
	return nil
}

func toDelivery(msg message, tag uint64, consumerTag string, ack amqp.Acknowledger) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:  ack,
		Headers:       msg.publishing.Headers,
		ContentType:   msg.publishing.ContentType,
		DeliveryMode:  msg.publishing.DeliveryMode,
		MessageId:     msg.publishing.MessageId,
		Timestamp:     msg.publishing.Timestamp,
		ConsumerTag:   consumerTag,
		DeliveryTag:   tag,
		Redelivered:   msg.redelivered,
		Exchange:      msg.exchange,
		RoutingKey:    msg.routingKey,
		Body:          msg.publishing.Body,
	}
}

// Conn - соединение с брокером в памяти.
type Conn struct {
	broker   *Broker
	channels []*Channel
	notify   []chan *amqp.Error
	closed   bool
}

func (c *Conn) Channel() (messaging.Channel, error) {
	b := c.broker
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Channel{conn: c, unacked: make(map[uint64]*unacked)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	b := c.broker
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Conn) IsClosed() bool {
	c.broker.mutex.Lock()
	defer c.broker.mutex.Unlock()
	return c.closed
}

func (c *Conn) Close() error {
	c.broker.mutex.Lock()
	defer c.broker.mutex.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked(nil)
	return nil
}

func (c *Conn) closeLocked(reason *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked(reason)
	}
	notifyClosed(c.notify, reason)
	c.notify = nil
	delete(c.broker.conns, c)
}

func notifyClosed(receivers []chan *amqp.Error, reason *amqp.Error) {
	for _, r := range receivers {
		if reason != nil {
			select {
			case r <- reason:
			default:
			}
		}
		close(r)
	}
}

// Channel - канал соединения с брокером в памяти; он же Acknowledger доставок.
type Channel struct {
	conn      *Conn
	unacked   map[uint64]*unacked
	consumers []*consumer
	notify    []chan *amqp.Error
	nextTag   uint64
	prefetch  int
	confirm   bool
	closed    bool
}

var _ messaging.Channel = (*Channel)(nil)

func (ch *Channel) broker() *Broker {
	return ch.conn.broker
}

// failLocked закрывает канал с ошибкой, как RabbitMQ при channel exception.
func (ch *Channel) failLocked(code int, reason string) error {
	err := &amqp.Error{Code: code, Reason: reason, Server: true}
	ch.closeLocked(err)
	return err
}

func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if ex, ok := b.exchanges[name]; ok {
		if ex.kind != kind || ex.durable != durable {
			return ch.failLocked(amqp.PreconditionFailed,
				fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for exchange '%s'", name))
		}
		return nil
	}
	b.exchanges[name] = &exchange{name: name, kind: kind, durable: durable}
	return nil
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if q, ok := b.queues[name]; ok {
		if q.durable != durable || !sameArgs(q.args, args) {
			return amqp.Queue{}, ch.failLocked(amqp.PreconditionFailed,
				fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg for queue '%s'", name))
		}
		return amqp.Queue{Name: name, Messages: len(q.messages), Consumers: len(q.consumers)}, nil
	}
	b.queues[name] = &queue{name: name, durable: durable, args: args}
	return amqp.Queue{Name: name}, nil
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func (ch *Channel) QueueBind(name, key, exchangeName string, noWait bool, args amqp.Table) error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return ch.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no exchange '%s'", exchangeName))
	}
	if _, ok := b.queues[name]; !ok {
		return ch.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s'", name))
	}
	for _, bnd := range ex.bindings {
		if bnd.queue == name && bnd.key == key {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, binding{queue: name, key: key})
	return nil
}

func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *Channel) Consume(queueName, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return nil, ch.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName))
	}
	if consumerTag == "" {
		consumerTag = fmt.Sprintf("ctag-%d", len(ch.consumers)+1)
	}

	c := &consumer{
		tag:        consumerTag,
		queue:      queueName,
		channel:    ch,
		deliveries: make(chan amqp.Delivery, deliveryBuffer),
		prefetch:   ch.prefetch,
	}
	q.consumers = append(q.consumers, c)
	ch.consumers = append(ch.consumers, c)
	b.dispatchLocked(q)
	return c.deliveries, nil
}

func (ch *Channel) Cancel(consumerTag string, noWait bool) error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	for i, c := range ch.consumers {
		if c.tag != consumerTag {
			continue
		}
		ch.consumers = append(ch.consumers[:i], ch.consumers[i+1:]...)
		b.removeConsumerLocked(c)
		ch.drainLocked(c)
		close(c.deliveries)
		return nil
	}
	return nil
}

func (b *Broker) removeConsumerLocked(c *consumer) {
	q, ok := b.queues[c.queue]
	if !ok {
		return
	}
	for i, existing := range q.consumers {
		if existing == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	if len(q.consumers) > 0 {
		q.next %= len(q.consumers)
	} else {
		q.next = 0
	}
}

func (ch *Channel) Get(queueName string, autoAck bool) (amqp.Delivery, bool, error) {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.Delivery{}, false, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return amqp.Delivery{}, false, ch.failLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName))
	}
	if len(q.messages) == 0 {
		return amqp.Delivery{}, false, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]

	ch.nextTag++
	tag := ch.nextTag
	if !autoAck {
		ch.unacked[tag] = &unacked{queue: queueName, msg: msg}
	}
	return toDelivery(msg, tag, "", ch), true, nil
}

func (ch *Channel) PublishWithContext(ctx context.Context, exchangeName, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if err := b.routeLocked(exchangeName, key, msg, nil); err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) {
			ch.closeLocked(amqpErr)
		}
		return err
	}
	return nil
}

func (ch *Channel) PublishConfirmed(ctx context.Context, exchangeName, key string, msg amqp.Publishing) (messaging.Confirmation, error) {
	ch.broker().mutex.Lock()
	confirm, nack := ch.confirm, ch.broker().nackAll
	ch.broker().mutex.Unlock()

	if !confirm {
		return nil, messaging.ErrConfirmsDisabled
	}
	if err := ch.PublishWithContext(ctx, exchangeName, key, false, false, msg); err != nil {
		return nil, err
	}
	return confirmation{acked: !nack}, nil
}

type confirmation struct {
	acked bool
}

func (c confirmation) WaitContext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.acked, nil
}

func (ch *Channel) Confirm(noWait bool) error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *Channel) Close() error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked(nil)
	return nil
}

// closeLocked возвращает неподтвержденные сообщения в очереди и закрывает доставки.
func (ch *Channel) closeLocked(reason *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true
	b := ch.broker()

	for _, c := range ch.consumers {
		b.removeConsumerLocked(c)
	}
	for _, c := range ch.consumers {
		ch.drainLocked(c)
		close(c.deliveries)
	}
	ch.consumers = nil

	for tag, u := range ch.unacked {
		delete(ch.unacked, tag)
		b.requeueLocked(u.queue, u.msg)
	}

	notifyClosed(ch.notify, reason)
	ch.notify = nil
}

// drainLocked возвращает в очередь доставки, которые consumer еще не успел прочитать.
func (ch *Channel) drainLocked(c *consumer) {
	for {
		select {
		case d := <-c.deliveries:
			if u, ok := ch.unacked[d.DeliveryTag]; ok {
				delete(ch.unacked, d.DeliveryTag)
				c.unacked--
				ch.broker().requeueLocked(u.queue, u.msg)
			}
		default:
			return
		}
	}
}

// Ack, Nack и Reject реализуют amqp.Acknowledger.
func (ch *Channel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, func(u *unacked) {})
}

func (ch *Channel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.settle(tag, multiple, func(u *unacked) {
		if requeue {
			ch.broker().requeueLocked(u.queue, u.msg)
			return
		}
		ch.broker().deadLetterLocked(u.queue, u.msg)
	})
}

func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

func (ch *Channel) settle(tag uint64, multiple bool, outcome func(u *unacked)) error {
	b := ch.broker()
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}

	tags := []uint64{tag}
	if multiple {
		tags = tags[:0]
		for t := range ch.unacked {
			if t <= tag {
				tags = append(tags, t)
			}
		}
	}

	for _, t := range tags {
		u, ok := ch.unacked[t]
		if !ok {
			return ch.failLocked(amqp.PreconditionFailed, fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", t))
		}
		delete(ch.unacked, t)
		if u.consumer != nil {
			u.consumer.unacked--
		}
		outcome(u)
		if q, ok := b.queues[u.queue]; ok {
			b.dispatchLocked(q)
		}
	}
	return nil
}
