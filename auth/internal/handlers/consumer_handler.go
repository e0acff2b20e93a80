package handlers

import (
	"errors"

	"url_shortener/auth/internal/service"
	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
)

// ConsumerHandler - таблица потребителей auth-service: события url-service.
type ConsumerHandler struct {
	counts *service.URLCountService
}

func NewConsumerHandler(counts *service.URLCountService) *ConsumerHandler {
	return &ConsumerHandler{counts: counts}
}

func (h *ConsumerHandler) Register(registry *messaging.Registry) error {
	return errors.Join(
		events.Register(registry, events.URLCreated, events.On(h.counts.URLCreated)),
		events.Register(registry, events.URLClicked, events.On(h.counts.URLClicked)),
		events.Register(registry, events.URLDeleted, events.On(h.counts.URLDeleted)),
	)
}
