package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"url_shortener/email/internal/mailer"
	"url_shortener/email/internal/templates"
	"url_shortener/pkg/events"
	"url_shortener/pkg/messaging"
)

type Renderer interface {
	Render(name string, data templates.Data) (string, string, error)
}

type Config struct {
	AppName              string
	SendURLCreatedEmails bool
}

// Notifier превращает события в письма. Ошибка отправки возвращается
// наверх, чтобы сообщение ушло в DLQ.
type Notifier struct {
	sender   mailer.Sender
	renderer Renderer
	config   Config
	log      *logrus.Entry
}

func NewNotifier(sender mailer.Sender, renderer Renderer, config Config, log *logrus.Entry) *Notifier {
	return &Notifier{
		sender:   sender,
		renderer: renderer,
		config:   config,
		log:      log,
	}
}

func (n *Notifier) UserRegistered(ctx context.Context, msg messaging.Message, evt events.UserRegisteredEvent) error {
	name := evt.Name
	if name == "" {
		name = "User"
	}
	return n.notify(ctx, msg, evt.Email, templates.Welcome, templates.Data{Name: name})
}

func (n *Notifier) UserRoleUpdated(ctx context.Context, msg messaging.Message, evt events.UserRoleUpdatedEvent) error {
	return n.notify(ctx, msg, evt.Email, templates.RoleUpdated, templates.Data{
		OldRole: evt.OldRole,
		NewRole: evt.NewRole,
	})
}

func (n *Notifier) UserDeleted(ctx context.Context, msg messaging.Message, evt events.UserDeletedEvent) error {
	return n.notify(ctx, msg, evt.Email, templates.AccountDeleted, templates.Data{})
}

func (n *Notifier) URLCreated(ctx context.Context, msg messaging.Message, evt events.URLCreatedEvent) error {
	if !n.config.SendURLCreatedEmails {
		n.log.WithFields(logrus.Fields{
			"routing_key": msg.RoutingKey,
			"url_code":    evt.URLCode,
		}).Debug("URL created emails disabled, skipping")
		return nil
	}
	return n.notify(ctx, msg, evt.UserEmail, templates.URLCreated, templates.Data{
		ShortURL:    evt.ShortURL,
		OriginalURL: evt.OriginalURL,
		ExpiresAt:   evt.ExpiresAt,
	})
}

func (n *Notifier) notify(ctx context.Context, msg messaging.Message, to, template string, data templates.Data) error {
	log := n.log.WithFields(logrus.Fields{
		"routing_key": msg.RoutingKey,
		"message_id":  msg.MessageID,
		"template":    template,
	})
	// без адреса повторять бессмысленно
	if to == "" {
		log.Warn("Event has no recipient, skipping email")
		return nil
	}

	data.AppName = n.config.AppName
	subject, html, err := n.renderer.Render(template, data)
	if err != nil {
		return err
	}

	if err := n.sender.Send(ctx, mailer.Message{To: to, Subject: subject, HTML: html}); err != nil {
		return fmt.Errorf("failed to send %s email to %s: %w", template, to, err)
	}
	log.WithField("to", to).Info("Notification email sent")
	return nil
}
