package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url_shortener/pkg/events"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
	"url_shortener/pkg/messaging/messagingtest"
	"url_shortener/urls/internal/cache"
	"url_shortener/urls/internal/models"
	"url_shortener/urls/internal/service"
)

// deletingRepo реализует только то, что нужно потребителю user.deleted
type deletingRepo struct {
	service.URLRepository

	mutex   sync.Mutex
	deleted map[uuid.UUID]string
}

func (r *deletingRepo) SoftDeleteByUser(_ context.Context, userID uuid.UUID, deletedBy string) ([]models.URL, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.deleted[userID] = deletedBy
	return []models.URL{{Code: "abc123", UserID: userID}}, nil
}

func (r *deletingRepo) deletedBy(userID uuid.UUID) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	by, ok := r.deleted[userID]
	return by, ok
}

type silentEvents struct{}

func (silentEvents) URLCreated(context.Context, events.URLCreatedEvent) bool { return true }
func (silentEvents) URLClicked(context.Context, events.URLClickedEvent) bool { return true }
func (silentEvents) URLDeleted(context.Context, events.URLDeletedEvent) bool { return true }

func TestConsumerHandlerAppliesUserEvents(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	repo := &deletingRepo{deleted: map[uuid.UUID]string{}}
	svc := service.NewURLService(repo, cache.New(rdb, time.Hour, time.Hour), silentEvents{}, service.Config{
		BaseURL:       "https://short.ly",
		DefaultExpiry: time.Hour,
	}, logging.Nop())

	registry := messaging.NewRegistry(events.ServiceURL)
	require.NoError(t, NewConsumerHandler(svc).Register(registry))
	require.Len(t, registry.Bindings(), 2)
	var queues []string
	for _, binding := range registry.Bindings() {
		queues = append(queues, binding.Queue)
	}
	for _, key := range events.Subscriptions[events.ServiceURL] {
		assert.Contains(t, queues, events.QueueName(events.ServiceURL, key))
	}

	broker := messagingtest.NewBroker()
	client := messaging.NewClient(messaging.ClientConfig{
		Service: events.ServiceURL,
		Connection: messaging.ConnectionConfig{
			Exchanges: events.Exchanges(),
			Reconnect: messaging.FixedBackoff(10 * time.Millisecond),
		},
		Consumer: messaging.ConsumerConfig{PrefetchCount: 10, DeadLetterQueues: true},
	}, messaging.WithDialer(broker.Dialer()), messaging.WithLogger(logging.Nop()))
	defer client.Close()
	registry.Install(client)
	client.Connect(context.Background())

	roleQueue := events.QueueName(events.ServiceURL, events.UserRoleUpdated)
	deleteQueue := events.QueueName(events.ServiceURL, events.UserDeleted)
	for _, queue := range []string{roleQueue, deleteQueue} {
		require.Eventually(t, func() bool { return broker.Consumers(queue) == 1 }, 2*time.Second, 5*time.Millisecond, queue)
	}

	userID := uuid.New()
	emitter := events.NewEmitter(client, logging.Nop())
	ctx := context.Background()

	require.True(t, emitter.UserRoleUpdated(ctx, events.UserRoleUpdatedEvent{
		UserID: userID.String(), Email: "a@b.com", OldRole: "user", NewRole: "admin",
	}))
	require.Eventually(t, func() bool {
		role, ok := svc.RoleOf(ctx, userID.String())
		return ok && role == "admin"
	}, 2*time.Second, 5*time.Millisecond)

	require.False(t, srv.Exists("url:code:abc123"))
	require.NoError(t, rdb.Set(ctx, "url:code:abc123", `{"originalUrl":"https://x.com"}`, time.Hour).Err())

	require.True(t, emitter.UserDeleted(ctx, events.UserDeletedEvent{UserID: userID.String(), Email: "a@b.com"}))
	require.Eventually(t, func() bool {
		_, ok := repo.deletedBy(userID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	by, _ := repo.deletedBy(userID)
	assert.Equal(t, service.DeletedBySystem, by)
	require.Eventually(t, func() bool { return !srv.Exists("url:code:abc123") }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := svc.RoleOf(ctx, userID.String())
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	// неизвестная роль не применяется и уходит в DLQ
	require.True(t, emitter.UserRoleUpdated(ctx, events.UserRoleUpdatedEvent{UserID: userID.String(), NewRole: "root"}))
	require.Eventually(t, func() bool {
		return broker.Ready(messaging.DeadLetterQueue(roleQueue)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
