package handlers

import (
	"errors"

	"url_shortener/email/internal/service"
	"url_shortener/pkg/dedupe"
	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
)

// ConsumerHandler - потребители email-service. Каждый обработчик обернут
// в dedupe.Guard, чтобы повторная доставка не отправила письмо второй раз.
type ConsumerHandler struct {
	notifier *service.Notifier
	guard    *dedupe.Guard
}

func NewConsumerHandler(notifier *service.Notifier, guard *dedupe.Guard) *ConsumerHandler {
	return &ConsumerHandler{notifier: notifier, guard: guard}
}

func (h *ConsumerHandler) Register(registry *messaging.Registry) error {
	return errors.Join(
		events.Register(registry, events.UserRegistered, h.guard.Wrap(events.On(h.notifier.UserRegistered))),
		events.Register(registry, events.UserRoleUpdated, h.guard.Wrap(events.On(h.notifier.UserRoleUpdated))),
		events.Register(registry, events.UserDeleted, h.guard.Wrap(events.On(h.notifier.UserDeleted))),
		events.Register(registry, events.URLCreated, h.guard.Wrap(events.On(h.notifier.URLCreated))),
	)
}
