package events

import (
	"strings"
)

// Exchanges шины событий.
const (
	ExchangeUserEvents = "user_events"
	ExchangeURLEvents  = "url_events"
)

// Routing keys событий.
const (
	UserRegistered  = "user.registered"
	UserRoleUpdated = "user.role_updated"
	UserDeleted     = "user.deleted"

	URLCreated = "url.created"
	URLClicked = "url.clicked"
	URLDeleted = "url.deleted"
)

// Имена сервисов-участников, используются как префикс очередей.
const (
	ServiceAuth  = "auth_service"
	ServiceURL   = "url_service"
	ServiceEmail = "email_service"
)

type Kind struct {
	RoutingKey string
	Exchange   string
	Producer   string
}

// Catalog - закрытый словарь событий, о котором договорились сервисы.
var Catalog = []Kind{
	{RoutingKey: UserRegistered, Exchange: ExchangeUserEvents, Producer: ServiceAuth},
	{RoutingKey: UserRoleUpdated, Exchange: ExchangeUserEvents, Producer: ServiceAuth},
	{RoutingKey: UserDeleted, Exchange: ExchangeUserEvents, Producer: ServiceAuth},
	{RoutingKey: URLCreated, Exchange: ExchangeURLEvents, Producer: ServiceURL},
	{RoutingKey: URLClicked, Exchange: ExchangeURLEvents, Producer: ServiceURL},
	{RoutingKey: URLDeleted, Exchange: ExchangeURLEvents, Producer: ServiceURL},
}

// Exchanges возвращает все exchanges каталога.
func Exchanges() []string {
	return []string{ExchangeUserEvents, ExchangeURLEvents}
}

// ExchangeFor возвращает exchange, в который публикуется routingKey.
func ExchangeFor(routingKey string) (string, bool) {
	for _, kind := range Catalog {
		if kind.RoutingKey == routingKey {
			return kind.Exchange, true
		}
	}
	return "", false
}

// QueueName строит имя очереди по соглашению {service}_{event}:
// ("email_service", "user.registered") -> "email_service_user_registered".
func QueueName(service, routingKey string) string {
	return service + "_" + strings.ReplaceAll(routingKey, ".", "_")
}

// Subscriptions - какие события слушает каждый сервис. Очередь каждой пары
// строится через QueueName.
var Subscriptions = map[string][]string{
	ServiceAuth:  {URLCreated, URLClicked, URLDeleted},
	ServiceURL:   {UserDeleted, UserRoleUpdated},
	ServiceEmail: {UserRegistered, UserRoleUpdated, UserDeleted, URLCreated},
}
