package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"url_shortener/pkg/messaging"
)

const (
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultLease - срок ключа, пока обработка еще идет: если процесс умер
	// посреди обработки, повторная доставка пройдет после истечения аренды.
	DefaultLease = 10 * time.Minute
)

// Guard не дает обработать одно и то же сообщение дважды: ключ по MessageID
// ставится перед обработкой на срок аренды, после успеха продлевается до ttl
// и снимается, если обработка не удалась.
type Guard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	lease  time.Duration
	log    *logrus.Entry
}

func NewGuard(client *redis.Client, prefix string, ttl time.Duration, log *logrus.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		lease:  min(DefaultLease, ttl),
		log:    log,
	}
}

func (g *Guard) key(id string) string {
	return g.prefix + ":" + id
}

// Acquire ставит ключ на срок аренды и возвращает false, если сообщение уже
// обработано или обрабатывается.
func (g *Guard) Acquire(ctx context.Context, id string) (bool, error) {
	return g.client.SetNX(ctx, g.key(id), time.Now().UTC().Format(time.RFC3339), g.lease).Result()
}

// Commit продлевает ключ обработанного сообщения до полного ttl.
func (g *Guard) Commit(ctx context.Context, id string) error {
	return g.client.Expire(ctx, g.key(id), g.ttl).Err()
}

func (g *Guard) Release(ctx context.Context, id string) error {
	return g.client.Del(ctx, g.key(id)).Err()
}

// Wrap оборачивает handler. Сообщения без MessageID обрабатываются как есть;
// при недоступном Redis обработка продолжается без защиты. Паника обработчика
// снимает ключ и возвращается ошибкой.
func (g *Guard) Wrap(handler messaging.Handler) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) (err error) {
		if msg.MessageID == "" {
			return handler(ctx, msg)
		}

		log := g.log.WithFields(logrus.Fields{
			"routing_key": msg.RoutingKey,
			"message_id":  msg.MessageID,
		})

		acquired, err := g.Acquire(ctx, msg.MessageID)
		if err != nil {
			log.WithError(err).Warn("Dedupe store unavailable, handling without guard")
			return handler(ctx, msg)
		}
		if !acquired {
			log.Info("Duplicate message skipped")
			return nil
		}

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
			bg := context.WithoutCancel(ctx)
			if err != nil {
				if relErr := g.Release(bg, msg.MessageID); relErr != nil {
					log.WithError(relErr).Error("Failed to release dedupe key")
				}
				return
			}
			if comErr := g.Commit(bg, msg.MessageID); comErr != nil {
				log.WithError(comErr).Warn("Failed to extend dedupe key")
			}
		}()
		return handler(ctx, msg)
	}
}
