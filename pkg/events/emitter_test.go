package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

type published struct {
	exchange   string
	routingKey string
	body       []byte
}

type fakePublisher struct {
	err  error
	sent []published
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.sent = append(p.sent, published{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func newTestEmitter(pub Publisher) *Emitter {
	e := NewEmitter(pub, logging.Nop())
	e.now = func() time.Time { return time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestEmitterRoutesAndStampsTimestamp(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := newTestEmitter(pub)

	ok := e.URLCreated(context.Background(), URLCreatedEvent{
		URLCode:     "abc123",
		OriginalURL: "https://x.com",
		ShortURL:    "https://short.ly/abc123",
		UserID:      "u1",
		ExpiresAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.True(t, ok)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, ExchangeURLEvents, pub.sent[0].exchange)
	assert.Equal(t, URLCreated, pub.sent[0].routingKey)
	assert.JSONEq(t, `{
		"urlCode": "abc123",
		"originalUrl": "https://x.com",
		"shortUrl": "https://short.ly/abc123",
		"userEmail": "",
		"userId": "u1",
		"expiresAt": "2025-01-01T00:00:00Z",
		"timestamp": "2024-12-01T00:00:00Z"
	}`, string(pub.sent[0].body))
}

func TestURLCreatedAlwaysCarriesCatalogFields(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := newTestEmitter(pub)

	// у пользователя нет email, но поле все равно присутствует
	require.True(t, e.URLCreated(context.Background(), URLCreatedEvent{URLCode: "abc123", UserID: "u1"}))
	require.Len(t, pub.sent, 1)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(pub.sent[0].body, &fields))
	for _, name := range []string{"urlCode", "originalUrl", "shortUrl", "userEmail", "userId", "expiresAt", "timestamp"} {
		assert.Contains(t, fields, name)
	}
	assert.JSONEq(t, `""`, string(fields["userEmail"]))
}

func TestEmitterKeepsExplicitTimestamp(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := newTestEmitter(pub)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, e.UserDeleted(context.Background(), UserDeletedEvent{UserID: "u9", Email: "a@b.com", Timestamp: at}))
	assert.JSONEq(t, `{"userId":"u9","email":"a@b.com","timestamp":"2024-06-01T12:00:00Z"}`, string(pub.sent[0].body))
}

func TestEmitterReportsFailureWithoutError(t *testing.T) {
	t.Parallel()

	e := newTestEmitter(&fakePublisher{err: messaging.ErrNotConnected})
	assert.False(t, e.UserRegistered(context.Background(), UserRegisteredEvent{Email: "a@b.com", Name: "A"}))
	assert.False(t, e.Emit(context.Background(), "url.renamed", map[string]string{}))
}

func TestOnDecodesTypedPayload(t *testing.T) {
	t.Parallel()

	var got UserRoleUpdatedEvent
	handler := On(func(_ context.Context, msg messaging.Message, evt UserRoleUpdatedEvent) error {
		got = evt
		return nil
	})

	err := handler(context.Background(), messaging.Message{
		RoutingKey: UserRoleUpdated,
		Body:       json.RawMessage(`{"userId":"u1","email":"a@b.com","oldRole":"user","newRole":"admin","timestamp":"2024-12-01T00:00:00Z"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "admin", got.NewRole)
	assert.Equal(t, "user", got.OldRole)
	assert.Equal(t, 2024, got.Timestamp.Year())
}

func TestOnRejectsMismatchedPayload(t *testing.T) {
	t.Parallel()

	called := false
	handler := On(func(context.Context, messaging.Message, URLClickedEvent) error {
		called = true
		return nil
	})

	err := handler(context.Background(), messaging.Message{RoutingKey: URLClicked, Body: json.RawMessage(`{"clicks":"many"}`)})
	require.Error(t, err)
	assert.False(t, called)
}

func TestRegisterUsesConventionalQueueName(t *testing.T) {
	t.Parallel()

	registry := messaging.NewRegistry(ServiceURL)
	require.NoError(t, Register(registry, UserDeleted, func(context.Context, messaging.Message) error { return nil }))
	require.Error(t, Register(registry, "user.renamed", func(context.Context, messaging.Message) error { return nil }))

	bindings := registry.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, ExchangeUserEvents, bindings[0].Exchange)
	assert.Equal(t, UserDeleted, bindings[0].Pattern)
	assert.Equal(t, "url_service_user_deleted", bindings[0].Queue)
}
