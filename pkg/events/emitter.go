package events

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher - то, что нужно Emitter от клиента шины.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
}

// Emitter публикует события каталога от имени продюсера. Ошибки публикации
// не доходят до HTTP ответа: они логируются, а вызывающий получает false.
type Emitter struct {
	publisher Publisher
	log       *logrus.Entry
	now       func() time.Time
}

func NewEmitter(publisher Publisher, log *logrus.Entry) *Emitter {
	return &Emitter{
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Emit публикует payload с routingKey в exchange из каталога.
func (e *Emitter) Emit(ctx context.Context, routingKey string, payload any) bool {
	exchange, ok := ExchangeFor(routingKey)
	if !ok {
		e.log.WithError(fmt.Errorf("unknown routing key %q", routingKey)).Error("Event was not emitted")
		return false
	}

	if s, ok := payload.(stamper); ok {
		s.stamp(e.now())
	}

	if err := e.publisher.Publish(ctx, exchange, routingKey, payload); err != nil {
		e.log.WithError(err).WithField("routing_key", routingKey).Warn("Event was not emitted")
		return false
	}
	return true
}

func (e *Emitter) UserRegistered(ctx context.Context, evt UserRegisteredEvent) bool {
	return e.Emit(ctx, UserRegistered, &evt)
}

func (e *Emitter) UserRoleUpdated(ctx context.Context, evt UserRoleUpdatedEvent) bool {
	return e.Emit(ctx, UserRoleUpdated, &evt)
}

func (e *Emitter) UserDeleted(ctx context.Context, evt UserDeletedEvent) bool {
	return e.Emit(ctx, UserDeleted, &evt)
}

func (e *Emitter) URLCreated(ctx context.Context, evt URLCreatedEvent) bool {
	return e.Emit(ctx, URLCreated, &evt)
}

func (e *Emitter) URLClicked(ctx context.Context, evt URLClickedEvent) bool {
	return e.Emit(ctx, URLClicked, &evt)
}

func (e *Emitter) URLDeleted(ctx context.Context, evt URLDeletedEvent) bool {
	return e.Emit(ctx, URLDeleted, &evt)
}
