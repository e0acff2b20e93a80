package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DeadLetter - сообщение, отклоненное обработчиком и лежащее в {queue}_dlq.
type DeadLetter struct {
	Queue      string
	Exchange   string
	RoutingKey string
	MessageID  string
	Reason     string
	Count      int64
	Body       json.RawMessage
}

// InspectDeadLetters читает до limit сообщений из DLQ очереди queue, не удаляя их.
// Чтение идет на отдельном канале: отсутствующая DLQ дает NOT_FOUND, который закрывает канал.
func (c *Client) InspectDeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error) {
	ch, err := c.conn.openChannel()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ch.Close() }()

	var (
		letters    []DeadLetter
		deliveries []amqp.Delivery
	)
	// сообщения держатся неподтвержденными до конца чтения, иначе Get вернет их снова
	defer func() {
		for _, d := range deliveries {
			_ = d.Nack(false, true)
		}
	}()

	dlq := DeadLetterQueue(queue)
	for len(letters) < limit {
		if ctx.Err() != nil {
			return letters, ctx.Err()
		}
		delivery, ok, err := ch.Get(dlq, false)
		if err != nil {
			return letters, fmt.Errorf("failed to get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}
		deliveries = append(deliveries, delivery)
		letters = append(letters, parseDeadLetter(queue, delivery))
	}
	return letters, nil
}

// ReplayDeadLetters возвращает до limit сообщений из DLQ в исходный exchange
// с исходным routing key и тем же MessageId.
func (c *Client) ReplayDeadLetters(ctx context.Context, queue string, limit int) (int, error) {
	ch, err := c.conn.openChannel()
	if err != nil {
		return 0, err
	}
	defer func() { _ = ch.Close() }()

	dlq := DeadLetterQueue(queue)
	replayed := 0
	for replayed < limit {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		delivery, ok, err := ch.Get(dlq, false)
		if err != nil {
			return replayed, fmt.Errorf("failed to get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}

		letter := parseDeadLetter(queue, delivery)
		if letter.Exchange == "" {
			_ = delivery.Nack(false, true)
			return replayed, fmt.Errorf("message %s has no x-death origin", letter.MessageID)
		}

		msg := amqp.Publishing{
			ContentType:  delivery.ContentType,
			Body:         delivery.Body,
			MessageId:    delivery.MessageId,
			Timestamp:    delivery.Timestamp,
			DeliveryMode: amqp.Persistent,
		}
		if err := c.publishRaw(ctx, letter.Exchange, letter.RoutingKey, msg); err != nil {
			_ = delivery.Nack(false, true)
			return replayed, err
		}
		if err := delivery.Ack(false); err != nil {
			return replayed, fmt.Errorf("failed to ack replayed message: %w", err)
		}

		c.log.WithFields(logrus.Fields{
			"queue":       queue,
			"exchange":    letter.Exchange,
			"routing_key": letter.RoutingKey,
			"message_id":  letter.MessageID,
		}).Info("Dead letter replayed")
		replayed++
	}
	return replayed, nil
}

// parseDeadLetter достает исходные exchange и routing key из первой записи x-death.
func parseDeadLetter(queue string, d amqp.Delivery) DeadLetter {
	letter := DeadLetter{
		Queue:      queue,
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Body:       json.RawMessage(d.Body),
	}

	deaths, _ := d.Headers["x-death"].([]interface{})
	if len(deaths) == 0 {
		return letter
	}
	death, ok := deaths[0].(amqp.Table)
	if !ok {
		return letter
	}

	letter.Exchange, _ = death["exchange"].(string)
	letter.Reason, _ = death["reason"].(string)
	letter.Count, _ = death["count"].(int64)
	if keys, ok := death["routing-keys"].([]interface{}); ok && len(keys) > 0 {
		if key, ok := keys[0].(string); ok {
			letter.RoutingKey = key
		}
	}
	return letter
}
