package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"url_shortener/auth/internal/models"
	"url_shortener/auth/internal/repositories"
	"url_shortener/pkg/auth"
	"url_shortener/pkg/events"
	"url_shortener/pkg/logging"
	"url_shortener/pkg/messaging"
)

type memoryUsers struct {
	mutex sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[uuid.UUID]*models.User)}
}

func (m *memoryUsers) Create(_ context.Context, user *models.User) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, u := range m.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, user.Email) {
			return repositories.ErrDuplicate
		}
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, u := range m.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m *memoryUsers) List(context.Context) ([]models.User, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.DeletedAt == nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memoryUsers) ListWithURLCounts(ctx context.Context) ([]models.UserWithURLCount, error) {
	users, _ := m.List(ctx)
	out := make([]models.UserWithURLCount, len(users))
	for i, u := range users {
		out[i] = models.UserWithURLCount{User: u}
	}
	return out, nil
}

func (m *memoryUsers) UpdateRole(_ context.Context, id uuid.UUID, role string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return repositories.ErrNotFound
	}
	u.Role = role
	return nil
}

func (m *memoryUsers) SoftDelete(_ context.Context, id uuid.UUID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return repositories.ErrNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

type recordedEvents struct {
	registered []events.UserRegisteredEvent
	roles      []events.UserRoleUpdatedEvent
	deleted    []events.UserDeletedEvent
}

func (r *recordedEvents) UserRegistered(_ context.Context, evt events.UserRegisteredEvent) bool {
	r.registered = append(r.registered, evt)
	return true
}

func (r *recordedEvents) UserRoleUpdated(_ context.Context, evt events.UserRoleUpdatedEvent) bool {
	r.roles = append(r.roles, evt)
	return true
}

func (r *recordedEvents) UserDeleted(_ context.Context, evt events.UserDeletedEvent) bool {
	r.deleted = append(r.deleted, evt)
	return true
}

func newTestService() (*AuthService, *memoryUsers, *recordedEvents) {
	users := newMemoryUsers()
	recorded := &recordedEvents{}
	svc := NewAuthService(users, auth.NewJWTService("secret", time.Hour), recorded, logging.Nop())
	svc.bcryptCost = bcrypt.MinCost
	return svc, users, recorded
}

func TestRegisterEmitsUserRegistered(t *testing.T) {
	svc, _, recorded := newTestService()
	ctx := context.Background()

	session, err := svc.Register(ctx, " Alice@Example.com ", "secret1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.Equal(t, auth.RoleUser, session.User.Role)
	assert.NotEmpty(t, session.Token)
	assert.NotEqual(t, "secret1", session.User.PasswordHash)

	require.Len(t, recorded.registered, 1)
	assert.Equal(t, events.UserRegisteredEvent{
		UserID: session.User.ID.String(),
		Email:  "alice@example.com",
		Name:   "Alice",
	}, recorded.registered[0])

	_, err = svc.Register(ctx, "alice@example.com", "secret2", "Other")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, recorded.registered, 1)
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@b.com", "secret1", "A")
	require.NoError(t, err)

	session, err := svc.Login(ctx, "A@B.com", "secret1")
	require.NoError(t, err)
	claims, err := svc.tokens.Validate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID.String(), claims.UserID)

	_, err = svc.Login(ctx, "a@b.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@b.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateRole(t *testing.T) {
	svc, _, recorded := newTestService()
	ctx := context.Background()

	session, err := svc.Register(ctx, "a@b.com", "secret1", "A")
	require.NoError(t, err)
	admin := auth.Identity{UserID: uuid.NewString(), Role: auth.RoleAdmin}

	user, err := svc.UpdateRole(ctx, admin, session.User.ID, auth.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, user.Role)
	require.Len(t, recorded.roles, 1)
	assert.Equal(t, "user", recorded.roles[0].OldRole)
	assert.Equal(t, "admin", recorded.roles[0].NewRole)

	_, err = svc.UpdateRole(ctx, admin, session.User.ID, auth.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, recorded.roles, 1, "unchanged role emits nothing")

	_, err = svc.UpdateRole(ctx, admin, session.User.ID, "superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.UpdateRole(ctx, admin, uuid.New(), auth.RoleUser)
	assert.ErrorIs(t, err, ErrNotFound)

	self := auth.Identity{UserID: session.User.ID.String(), Role: auth.RoleAdmin}
	_, err = svc.UpdateRole(ctx, self, session.User.ID, auth.RoleUser)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteUser(t *testing.T) {
	svc, _, recorded := newTestService()
	ctx := context.Background()

	session, err := svc.Register(ctx, "a@b.com", "secret1", "A")
	require.NoError(t, err)
	admin := auth.Identity{UserID: uuid.NewString(), Role: auth.RoleAdmin}

	require.NoError(t, svc.DeleteUser(ctx, admin, session.User.ID))
	require.Len(t, recorded.deleted, 1)
	assert.Equal(t, session.User.ID.String(), recorded.deleted[0].UserID)
	assert.Equal(t, "a@b.com", recorded.deleted[0].Email)

	assert.ErrorIs(t, svc.DeleteUser(ctx, admin, session.User.ID), ErrNotFound)
	_, err = svc.Profile(ctx, session.User.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Register(ctx, "a@b.com", "secret1", "A again")
	assert.NoError(t, err, "email is free after delete")
}

func TestEnsureAdmin(t *testing.T) {
	svc, users, recorded := newTestService()
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "admin@urlshortener.com", "Admin@123", "Admin User")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureAdmin(ctx, "admin@urlshortener.com", "Admin@123", "Admin User")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, recorded.roles)

	session, err := svc.Register(ctx, "boss@b.com", "secret1", "Boss")
	require.NoError(t, err)
	created, err = svc.EnsureAdmin(ctx, "boss@b.com", "ignored", "ignored")
	require.NoError(t, err)
	assert.False(t, created)

	promoted, err := users.GetByID(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, promoted.Role)
	require.Len(t, recorded.roles, 1)
}

type fakeCounts struct {
	seen  map[string]bool
	delta map[uuid.UUID][2]int64
	err   error
}

func (f *fakeCounts) Apply(_ context.Context, key, _ string, userID uuid.UUID, active, total int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	d := f.delta[userID]
	f.delta[userID] = [2]int64{d[0] + active, d[1] + total}
	return true, nil
}

func TestURLCountServiceIsIdempotent(t *testing.T) {
	counts := &fakeCounts{seen: map[string]bool{}, delta: map[uuid.UUID][2]int64{}}
	svc := NewURLCountService(counts, logging.Nop())
	ctx := context.Background()
	userID := uuid.New()

	created := messaging.Message{RoutingKey: events.URLCreated, MessageID: "m-1"}
	evt := events.URLCreatedEvent{URLCode: "abc123", UserID: userID.String()}
	require.NoError(t, svc.URLCreated(ctx, created, evt))
	require.NoError(t, svc.URLCreated(ctx, created, evt))
	assert.Equal(t, [2]int64{1, 1}, counts.delta[userID])

	deleted := messaging.Message{RoutingKey: events.URLDeleted}
	require.NoError(t, svc.URLDeleted(ctx, deleted, events.URLDeletedEvent{URLCode: "abc123", UserID: userID.String()}))
	require.NoError(t, svc.URLDeleted(ctx, deleted, events.URLDeletedEvent{URLCode: "abc123", UserID: userID.String()}))
	assert.Equal(t, [2]int64{0, 1}, counts.delta[userID])
	assert.True(t, counts.seen["url.deleted:abc123"])
}

func TestURLCountServiceRejectsBadInput(t *testing.T) {
	counts := &fakeCounts{seen: map[string]bool{}, delta: map[uuid.UUID][2]int64{}}
	svc := NewURLCountService(counts, logging.Nop())
	ctx := context.Background()
	msg := messaging.Message{RoutingKey: events.URLCreated, MessageID: "m-1"}

	assert.Error(t, svc.URLCreated(ctx, msg, events.URLCreatedEvent{URLCode: "x", UserID: "not-a-uuid"}))
	assert.NoError(t, svc.URLCreated(ctx, msg, events.URLCreatedEvent{URLCode: "x"}))
	assert.Empty(t, counts.seen)

	counts.err = errors.New("db down")
	assert.Error(t, svc.URLCreated(ctx, msg, events.URLCreatedEvent{URLCode: "x", UserID: uuid.NewString()}))
	assert.NoError(t, svc.URLClicked(ctx, messaging.Message{RoutingKey: events.URLClicked}, events.URLClickedEvent{URLCode: "x", Clicks: 3}))
}
