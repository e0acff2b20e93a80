package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

func newGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewGuard(client, "email", time.Hour, logging.Nop()), srv
}

func TestWrapSkipsDuplicates(t *testing.T) {
	guard, srv := newGuard(t)

	calls := 0
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		calls++
		return nil
	})

	msg := messaging.Message{RoutingKey: "user.registered", MessageID: "m-1"}
	require.NoError(t, handler(context.Background(), msg))
	require.NoError(t, handler(context.Background(), msg))
	assert.Equal(t, 1, calls)
	assert.True(t, srv.Exists("email:m-1"))
	assert.Equal(t, time.Hour, srv.TTL("email:m-1"))
}

func TestWrapReleasesKeyOnFailure(t *testing.T) {
	guard, srv := newGuard(t)

	fail := true
	calls := 0
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		calls++
		if fail {
			return errors.New("smtp down")
		}
		return nil
	})

	msg := messaging.Message{RoutingKey: "user.registered", MessageID: "m-2"}
	require.Error(t, handler(context.Background(), msg))
	assert.False(t, srv.Exists("email:m-2"))

	fail = false
	require.NoError(t, handler(context.Background(), msg))
	assert.Equal(t, 2, calls)
}

func TestWrapReleasesKeyOnPanic(t *testing.T) {
	guard, srv := newGuard(t)

	calls := 0
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		calls++
		if calls == 1 {
			panic("template exploded")
		}
		return nil
	})

	msg := messaging.Message{RoutingKey: "url.created", MessageID: "m-4"}
	err := handler(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template exploded")
	assert.False(t, srv.Exists("email:m-4"))

	// повторная доставка того же сообщения обрабатывается заново
	require.NoError(t, handler(context.Background(), msg))
	assert.Equal(t, 2, calls)
	assert.True(t, srv.Exists("email:m-4"))
}

func TestWrapHoldsShortLeaseWhileHandling(t *testing.T) {
	guard, srv := newGuard(t)
	guard.lease = time.Minute

	var inFlight time.Duration
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		inFlight = srv.TTL("email:m-5")
		return nil
	})

	require.NoError(t, handler(context.Background(), messaging.Message{MessageID: "m-5"}))
	assert.Equal(t, time.Minute, inFlight)
	assert.Equal(t, time.Hour, srv.TTL("email:m-5"))
}

func TestExpiredLeaseAllowsRedelivery(t *testing.T) {
	guard, srv := newGuard(t)
	guard.lease = time.Minute

	// процесс умер посреди обработки: ключ остался только с арендой
	acquired, err := guard.Acquire(context.Background(), "m-6")
	require.NoError(t, err)
	require.True(t, acquired)

	calls := 0
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		calls++
		return nil
	})
	require.NoError(t, handler(context.Background(), messaging.Message{MessageID: "m-6"}))
	assert.Equal(t, 0, calls, "still in flight")

	srv.FastForward(2 * time.Minute)
	require.NoError(t, handler(context.Background(), messaging.Message{MessageID: "m-6"}))
	assert.Equal(t, 1, calls)
}

func TestLeaseNeverExceedsTTL(t *testing.T) {
	guard := NewGuard(nil, "email", time.Second, logging.Nop())
	assert.Equal(t, time.Second, guard.lease)
	assert.Equal(t, DefaultLease, NewGuard(nil, "email", 0, logging.Nop()).lease)
}

func TestWrapWithoutMessageID(t *testing.T) {
	guard, _ := newGuard(t)

	calls := 0
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		calls++
		return nil
	})

	require.NoError(t, handler(context.Background(), messaging.Message{}))
	require.NoError(t, handler(context.Background(), messaging.Message{}))
	assert.Equal(t, 2, calls)
}

func TestWrapFallsThroughWhenRedisIsDown(t *testing.T) {
	guard, srv := newGuard(t)
	srv.Close()

	calls := 0
	handler := guard.Wrap(func(context.Context, messaging.Message) error {
		calls++
		return nil
	})

	require.NoError(t, handler(context.Background(), messaging.Message{MessageID: "m-3"}))
	assert.Equal(t, 1, calls)
}
