package handlers

import (
	"errors"

	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
	"url_shortener/urls/internal/service"
)

// ConsumerHandler - потребители url-service: события жизненного цикла пользователей.
type ConsumerHandler struct {
	urls *service.URLService
}

func NewConsumerHandler(urls *service.URLService) *ConsumerHandler {
	return &ConsumerHandler{urls: urls}
}

func (h *ConsumerHandler) Register(registry *messaging.Registry) error {
	return errors.Join(
		events.Register(registry, events.UserDeleted, events.On(h.urls.UserDeleted)),
		events.Register(registry, events.UserRoleUpdated, events.On(h.urls.UserRoleUpdated)),
	)
}
