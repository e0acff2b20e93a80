package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url_shortener/auth/internal/models"
	"url_shortener/auth/internal/service"
	"url_shortener/pkg/auth"
	"url_shortener/pkg/httpx"
	"url_shortener/pkg/logging"
)

type stubService struct {
	user       *models.User
	err        error
	lastRole   string
	lastActor  auth.Identity
	deletedIDs []uuid.UUID
}

func (s *stubService) Register(_ context.Context, email, _, name string) (*service.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.Session{User: &models.User{ID: uuid.New(), Email: email, Name: name, Role: auth.RoleUser}, Token: "tok"}, nil
}

func (s *stubService) Login(context.Context, string, string) (*service.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.Session{User: s.user, Token: "tok"}, nil
}

func (s *stubService) Profile(context.Context, uuid.UUID) (*models.User, error) {
	return s.user, s.err
}

func (s *stubService) ListUsers(context.Context) ([]models.User, error) {
	return []models.User{*s.user}, s.err
}

func (s *stubService) UsersWithURLCounts(context.Context) ([]models.UserWithURLCount, error) {
	return []models.UserWithURLCount{{User: *s.user, ActiveURLs: 4, TotalURLs: 6}}, s.err
}

func (s *stubService) UpdateRole(_ context.Context, actor auth.Identity, _ uuid.UUID, role string) (*models.User, error) {
	s.lastActor, s.lastRole = actor, role
	if s.err != nil {
		return nil, s.err
	}
	updated := *s.user
	updated.Role = role
	return &updated, nil
}

func (s *stubService) DeleteUser(_ context.Context, _ auth.Identity, id uuid.UUID) error {
	s.deletedIDs = append(s.deletedIDs, id)
	return s.err
}

type fixture struct {
	e      *echo.Echo
	svc    *stubService
	tokens *auth.JWTService
}

func newFixture() *fixture {
	tokens := auth.NewJWTService("secret", time.Hour)
	svc := &stubService{user: &models.User{ID: uuid.New(), Email: "a@b.com", Name: "A", Role: auth.RoleUser}}
	e := httpx.NewEcho(logging.Nop(), nil)
	noLimit := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	NewAuthHandler(svc).RegisterRoutes(e, auth.Authenticate(tokens, auth.MiddlewareConfig{}), noLimit)
	return &fixture{e: e, svc: svc, tokens: tokens}
}

func (f *fixture) do(t *testing.T, method, path, body, role string) (*httptest.ResponseRecorder, httpx.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if role != "" {
		token, err := f.tokens.Generate(uuid.NewString(), "me@b.com", role)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var resp httpx.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestRegister(t *testing.T) {
	f := newFixture()

	rec, resp := f.do(t, http.MethodPost, "/api/auth/register", `{"email":"new@b.com","password":"secret1","name":"New"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "tok", data["token"])
	assert.Equal(t, "new@b.com", data["user"].(map[string]any)["email"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec, resp = f.do(t, http.MethodPost, "/api/auth/register", `{"email":"new@b.com","password":"123"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password must be at least 6 characters", resp.Message)

	f.svc.err = service.ErrConflict
	rec, _ = f.do(t, http.MethodPost, "/api/auth/register", `{"email":"new@b.com","password":"secret1"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture()
	f.svc.err = service.ErrInvalidCredentials

	rec, resp := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid email or password", resp.Message)
}

func TestValidateSetsGatewayHeaders(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/api/auth/validate", "", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.RoleAdmin, rec.Header().Get(auth.HeaderUserRole))
	assert.Equal(t, "me@b.com", rec.Header().Get(auth.HeaderUserEmail))
	assert.NotEmpty(t, rec.Header().Get(auth.HeaderUserID))
}

func TestProfileRequiresToken(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/api/auth/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := f.do(t, http.MethodGet, "/api/auth/profile", "", auth.RoleUser)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@b.com", resp.Data.(map[string]any)["user"].(map[string]any)["email"])
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/api/auth/users", "", auth.RoleUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := f.do(t, http.MethodGet, "/api/auth/admin/users-stats", "", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	users := resp.Data.(map[string]any)["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, float64(4), users[0].(map[string]any)["urlCount"])

	path := "/api/auth/users/" + f.svc.user.ID.String() + "/role"
	rec, resp = f.do(t, http.MethodPut, path, `{"role":"admin"}`, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", resp.Data.(map[string]any)["user"].(map[string]any)["role"])
	assert.Equal(t, auth.RoleAdmin, f.svc.lastActor.Role)

	rec, _ = f.do(t, http.MethodPut, path, `{"role":"root"}`, auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/auth/users/not-a-uuid", "", auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.svc.err = service.ErrNotFound
	rec, _ = f.do(t, http.MethodDelete, "/api/auth/users/"+uuid.NewString(), "", auth.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, f.svc.deletedIDs, 1)
}
