package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"url_shortener/auth/internal/models"
	"url_shortener/auth/internal/service"
	"url_shortener/pkg/auth"
	"url_shortener/pkg/httpx"
)

type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*service.Session, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	Profile(ctx context.Context, userID uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UsersWithURLCounts(ctx context.Context) ([]models.UserWithURLCount, error)
	UpdateRole(ctx context.Context, actor auth.Identity, userID uuid.UUID, role string) (*models.User, error)
	DeleteUser(ctx context.Context, actor auth.Identity, userID uuid.UUID) error
}

// AuthHandler обрабатывает HTTP запросы /api/auth
type AuthHandler struct {
	authService AuthService
}

func NewAuthHandler(authService AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRoutes подключает маршруты. authn проверяет токен, limit ограничивает
// частоту регистраций и входов.
func (h *AuthHandler) RegisterRoutes(e *echo.Echo, authn, limit echo.MiddlewareFunc) {
	adminOnly := auth.RequireRole(auth.RoleAdmin)

	g := e.Group("/api/auth")
	g.POST("/register", h.Register, limit)
	g.POST("/login", h.Login, limit)
	g.GET("/validate", h.Validate, authn)
	g.GET("/profile", h.Profile, authn)

	g.GET("/users", h.ListUsers, authn, adminOnly)
	g.GET("/admin/users-stats", h.UsersStats, authn, adminOnly)
	g.PUT("/users/:userId/role", h.UpdateRole, authn, adminOnly)
	g.DELETE("/users/:userId", h.DeleteUser, authn, adminOnly)
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

type sessionResponse struct {
	User  models.UserDTO `json:"user"`
	Token string         `json:"token"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	session, err := h.authService.Register(c.Request().Context(), req.Email, req.Password, req.Name)
	if err != nil {
		return mapError(err)
	}

	return httpx.OK(c, http.StatusCreated, "User registered successfully", sessionResponse{
		User:  session.User.DTO(),
		Token: session.Token,
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	session, err := h.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}

	return httpx.OK(c, http.StatusOK, "Login successful", sessionResponse{
		User:  session.User.DTO(),
		Token: session.Token,
	})
}

// Validate отдает gateway данные пользователя из токена в заголовках X-User-*
func (h *AuthHandler) Validate(c echo.Context) error {
	identity, _ := auth.FromContext(c)

	header := c.Response().Header()
	header.Set(auth.HeaderUserID, identity.UserID)
	header.Set(auth.HeaderUserRole, identity.Role)
	header.Set(auth.HeaderUserEmail, identity.Email)

	return c.JSON(http.StatusOK, map[string]any{
		"valid":  true,
		"userId": identity.UserID,
		"role":   identity.Role,
		"email":  identity.Email,
	})
}

func (h *AuthHandler) Profile(c echo.Context) error {
	identity, _ := auth.FromContext(c)
	userID, err := uuid.Parse(identity.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid user ID")
	}

	user, err := h.authService.Profile(c.Request().Context(), userID)
	if err != nil {
		return mapError(err)
	}

	return httpx.OK(c, http.StatusOK, "Profile retrieved successfully", map[string]any{"user": user.DTO()})
}

func (h *AuthHandler) ListUsers(c echo.Context) error {
	users, err := h.authService.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}

	response := make([]models.UserDTO, len(users))
	for i, user := range users {
		response[i] = user.DTO()
	}
	return httpx.OK(c, http.StatusOK, "Users retrieved successfully", map[string]any{
		"users": response,
		"count": len(response),
	})
}

func (h *AuthHandler) UsersStats(c echo.Context) error {
	users, err := h.authService.UsersWithURLCounts(c.Request().Context())
	if err != nil {
		return err
	}

	response := make([]models.UserStatsDTO, len(users))
	for i, user := range users {
		response[i] = user.DTO()
	}
	return httpx.OK(c, http.StatusOK, "User statistics retrieved successfully", map[string]any{
		"users": response,
		"count": len(response),
	})
}

func (h *AuthHandler) UpdateRole(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}

	var req updateRoleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	actor, _ := auth.FromContext(c)
	user, err := h.authService.UpdateRole(c.Request().Context(), actor, userID, req.Role)
	if err != nil {
		return mapError(err)
	}

	return httpx.OK(c, http.StatusOK, "User role updated successfully", map[string]any{"user": user.DTO()})
}

func (h *AuthHandler) DeleteUser(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}

	actor, _ := auth.FromContext(c)
	if err := h.authService.DeleteUser(c.Request().Context(), actor, userID); err != nil {
		return mapError(err)
	}

	return httpx.OK(c, http.StatusOK, "User deleted successfully", nil)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "User with this email already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, service.ErrInvalidRole):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid role. Must be user or admin")
	case errors.Is(err, service.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "You cannot change or delete your own account")
	default:
		return err
	}
}
