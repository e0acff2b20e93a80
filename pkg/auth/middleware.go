package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// Заголовки, которые проставляет gateway после проверки токена.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

const identityKey = "identity"

type Identity struct {
	UserID string
	Email  string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// RoleOverride возвращает актуальную роль пользователя, если она известна
// сервису (например, получена из события user.role_updated).
type RoleOverride func(ctx context.Context, userID string) (string, bool)

type MiddlewareConfig struct {
	// TrustGateway разрешает брать пользователя из X-User-* заголовков, если нет Bearer токена.
	TrustGateway bool
	Roles        RoleOverride
}

// Authenticate требует Bearer токен (или заголовки gateway) и кладет Identity в контекст.
func Authenticate(tokens *JWTService, config MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := resolve(c, tokens, config)
			if err != nil {
				return err
			}

			if config.Roles != nil {
				if role, ok := config.Roles(c.Request().Context(), identity.UserID); ok {
					identity.Role = role
				}
			}

			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

func resolve(c echo.Context, tokens *JWTService, config MiddlewareConfig) (Identity, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && tokens != nil {
		claims, err := tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "Token is not valid")
		}
		return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
	}

	if config.TrustGateway {
		if userID := c.Request().Header.Get(HeaderUserID); userID != "" {
			role := c.Request().Header.Get(HeaderUserRole)
			if role == "" {
				role = RoleUser
			}
			return Identity{
				UserID: userID,
				Email:  c.Request().Header.Get(HeaderUserEmail),
				Role:   role,
			}, nil
		}
	}

	return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "No token, authorization denied")
}

// RequireRole пропускает только пользователей с одной из ролей.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, ok := FromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
			}
			if !slices.Contains(roles, identity.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "Access denied. Required role: "+strings.Join(roles, " or "))
			}
			return next(c)
		}
	}
}

func FromContext(c echo.Context) (Identity, bool) {
	identity, ok := c.Get(identityKey).(Identity)
	return identity, ok
}
