package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"url_shortener/pkg/auth"
	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
)

// DeletedBySystem - отметка удаления, сделанного по событию, а не пользователем.
const DeletedBySystem = "system"

// UserDeleted удаляет все ссылки удаленного пользователя. Повторная доставка
// ничего не меняет: удаленные ссылки уже не попадают под условие.
func (s *URLService) UserDeleted(ctx context.Context, msg messaging.Message, evt events.UserDeletedEvent) error {
	userID, err := uuid.Parse(evt.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", evt.UserID, err)
	}

	deleted, err := s.urls.SoftDeleteByUser(ctx, userID, DeletedBySystem)
	if err != nil {
		return fmt.Errorf("failed to delete urls of user %s: %w", userID, err)
	}

	codes := make([]string, len(deleted))
	for i, item := range deleted {
		codes[i] = item.Code
	}
	s.uncache(ctx, codes...)
	if err := s.cache.DeleteRole(ctx, evt.UserID); err != nil {
		s.log.WithError(err).WithField("user_id", evt.UserID).Warn("Role cache invalidation failed")
	}

	s.log.WithFields(logrus.Fields{
		"routing_key": msg.RoutingKey,
		"message_id":  msg.MessageID,
		"user_id":     userID,
		"urls":        len(deleted),
	}).Info("URLs of deleted user removed")
	return nil
}

// UserRoleUpdated запоминает новую роль, чтобы она действовала до перевыпуска токена
func (s *URLService) UserRoleUpdated(ctx context.Context, msg messaging.Message, evt events.UserRoleUpdatedEvent) error {
	if evt.UserID == "" {
		return fmt.Errorf("role update without user id")
	}
	if evt.NewRole != auth.RoleUser && evt.NewRole != auth.RoleAdmin {
		return fmt.Errorf("unknown role %q", evt.NewRole)
	}

	if err := s.cache.SetRole(ctx, evt.UserID, evt.NewRole); err != nil {
		return fmt.Errorf("failed to store role: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"routing_key": msg.RoutingKey,
		"message_id":  msg.MessageID,
		"user_id":     evt.UserID,
		"old_role":    evt.OldRole,
		"new_role":    evt.NewRole,
	}).Info("User role override stored")
	return nil
}
