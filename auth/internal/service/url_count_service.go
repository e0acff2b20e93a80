package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
)

type URLCountRepository interface {
	Apply(ctx context.Context, messageKey, routingKey string, userID uuid.UUID, activeDelta, totalDelta int64) (bool, error)
}

// URLCountService применяет события url-service к счетчикам пользователей.
type URLCountService struct {
	counts URLCountRepository
	log    *logrus.Entry
}

func NewURLCountService(counts URLCountRepository, log *logrus.Entry) *URLCountService {
	return &URLCountService{counts: counts, log: log}
}

func (s *URLCountService) URLCreated(ctx context.Context, msg messaging.Message, evt events.URLCreatedEvent) error {
	return s.apply(ctx, msg, evt.UserID, evt.URLCode, 1, 1)
}

func (s *URLCountService) URLDeleted(ctx context.Context, msg messaging.Message, evt events.URLDeletedEvent) error {
	return s.apply(ctx, msg, evt.UserID, evt.URLCode, -1, 0)
}

// URLClicked только логирует: клики считает url-service.
func (s *URLCountService) URLClicked(_ context.Context, msg messaging.Message, evt events.URLClickedEvent) error {
	s.log.WithFields(logrus.Fields{
		"routing_key": msg.RoutingKey,
		"url_code":    evt.URLCode,
		"clicks":      evt.Clicks,
	}).Info("URL clicked")
	return nil
}

func (s *URLCountService) apply(ctx context.Context, msg messaging.Message, rawUserID, urlCode string, activeDelta, totalDelta int64) error {
	log := s.log.WithFields(logrus.Fields{
		"routing_key": msg.RoutingKey,
		"message_id":  msg.MessageID,
		"url_code":    urlCode,
	})

	if rawUserID == "" {
		log.Info("Anonymous URL event, nothing to count")
		return nil
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		// повтор не поможет, сообщение уходит в DLQ
		return fmt.Errorf("invalid user id %q: %w", rawUserID, err)
	}

	applied, err := s.counts.Apply(ctx, messageKey(msg, urlCode), msg.RoutingKey, userID, activeDelta, totalDelta)
	if err != nil {
		return fmt.Errorf("failed to update url count: %w", err)
	}
	if !applied {
		log.Info("Duplicate URL event skipped")
		return nil
	}

	log.WithField("user_id", userID).Info("URL count updated")
	return nil
}

// messageKey - ключ идемпотентности. Сообщения без MessageID (опубликованные
// не нашим клиентом) различаются по событию и коду ссылки.
func messageKey(msg messaging.Message, urlCode string) string {
	if msg.MessageID != "" {
		return msg.MessageID
	}
	return msg.RoutingKey + ":" + urlCode
}
