package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"url_shortener/pkg/auth"
	"url_shortener/pkg/httpx"
	"url_shortener/urls/internal/cache"
	"url_shortener/urls/internal/models"
	"url_shortener/urls/internal/service"
)

type URLService interface {
	Create(ctx context.Context, owner auth.Identity, in service.CreateInput) (*models.URL, bool, error)
	Redirect(ctx context.Context, code string) (string, error)
	Resolve(ctx context.Context, code string) (cache.Entry, error)
	Stats(ctx context.Context, actor auth.Identity, code string) (*models.URL, error)
	MyURLs(ctx context.Context, actor auth.Identity) ([]models.URL, error)
	ListURLs(ctx context.Context, status models.Status) ([]models.URL, error)
	AdminStats(ctx context.Context) (*models.AdminStats, error)
	UserURLCounts(ctx context.Context) ([]models.UserURLCount, error)
	Delete(ctx context.Context, actor auth.Identity, code string) (*models.URL, error)
}

// URLHandler обрабатывает HTTP запросы url-service
type URLHandler struct {
	urlService URLService
	now        func() time.Time
}

func NewURLHandler(urlService URLService) *URLHandler {
	return &URLHandler{urlService: urlService, now: time.Now}
}

// RegisterRoutes подключает маршруты. Редирект /:code регистрируется
// последним и не перекрывает статические пути (/health, /metrics).
func (h *URLHandler) RegisterRoutes(e *echo.Echo, authn, limit echo.MiddlewareFunc) {
	adminOnly := auth.RequireRole(auth.RoleAdmin)

	g := e.Group("/api")
	g.POST("/shorten", h.Shorten, authn, limit)
	g.GET("/urls/my", h.MyURLs, authn)
	g.GET("/admin/stats", h.AdminStats, authn, adminOnly)
	g.GET("/admin/user-url-counts", h.UserURLCounts, authn, adminOnly)
	g.GET("/urls", h.ListURLs, authn, adminOnly)
	g.GET("/stats/:code", h.Stats, authn)
	g.DELETE("/urls/:code", h.Delete, authn)
	g.GET("/resolve/:code", h.Resolve)

	e.GET("/:code", h.Redirect)
}

type shortenRequest struct {
	OriginalURL string     `json:"originalUrl" validate:"required,url"`
	CustomCode  string     `json:"customCode" validate:"omitempty,min=4,max=32"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

func (h *URLHandler) Shorten(c echo.Context) error {
	var req shortenRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}

	owner, _ := auth.FromContext(c)
	item, created, err := h.urlService.Create(c.Request().Context(), owner, service.CreateInput{
		OriginalURL: req.OriginalURL,
		CustomCode:  req.CustomCode,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return mapError(err)
	}

	if !created {
		return httpx.OK(c, http.StatusOK, "URL already exists", item.DTO(h.now()))
	}
	return httpx.OK(c, http.StatusCreated, "Short URL created successfully", item.DTO(h.now()))
}

func (h *URLHandler) MyURLs(c echo.Context) error {
	actor, _ := auth.FromContext(c)
	items, err := h.urlService.MyURLs(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return h.list(c, "URLs retrieved successfully", items)
}

// ListURLs отдает все ссылки, ?status= фильтрует по active, expired или deleted
func (h *URLHandler) ListURLs(c echo.Context) error {
	status, ok := models.ParseStatus(c.QueryParam("status"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid status. Must be active, expired or deleted")
	}

	items, err := h.urlService.ListURLs(c.Request().Context(), status)
	if err != nil {
		return err
	}
	return h.list(c, "URLs retrieved successfully", items)
}

func (h *URLHandler) list(c echo.Context, message string, items []models.URL) error {
	now := h.now()
	response := make([]models.URLDTO, len(items))
	for i, item := range items {
		response[i] = item.DTO(now)
	}
	return httpx.OK(c, http.StatusOK, message, map[string]any{
		"urls":  response,
		"count": len(response),
	})
}

func (h *URLHandler) AdminStats(c echo.Context) error {
	stats, err := h.urlService.AdminStats(c.Request().Context())
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, "Statistics retrieved successfully", stats)
}

func (h *URLHandler) UserURLCounts(c echo.Context) error {
	counts, err := h.urlService.UserURLCounts(c.Request().Context())
	if err != nil {
		return err
	}
	return httpx.OK(c, http.StatusOK, "User URL counts retrieved successfully", map[string]any{
		"userUrlCounts": counts,
	})
}

func (h *URLHandler) Stats(c echo.Context) error {
	actor, _ := auth.FromContext(c)
	item, err := h.urlService.Stats(c.Request().Context(), actor, c.Param("code"))
	if err != nil {
		return mapError(err)
	}
	return httpx.OK(c, http.StatusOK, "URL statistics retrieved successfully", item.DTO(h.now()))
}

func (h *URLHandler) Delete(c echo.Context) error {
	actor, _ := auth.FromContext(c)
	item, err := h.urlService.Delete(c.Request().Context(), actor, c.Param("code"))
	if err != nil {
		return mapError(err)
	}
	return httpx.OK(c, http.StatusOK, "URL deleted successfully", map[string]any{
		"urlCode": item.Code,
	})
}

func (h *URLHandler) Resolve(c echo.Context) error {
	entry, err := h.urlService.Resolve(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapError(err)
	}
	return httpx.OK(c, http.StatusOK, "URL resolved successfully", map[string]any{
		"originalUrl": entry.OriginalURL,
		"expiresAt":   entry.ExpiresAt,
	})
}

func (h *URLHandler) Redirect(c echo.Context) error {
	target, err := h.urlService.Redirect(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapError(err)
	}
	return c.Redirect(http.StatusFound, target)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "URL not found")
	case errors.Is(err, service.ErrExpired):
		return echo.NewHTTPError(http.StatusGone, "URL has expired")
	case errors.Is(err, service.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, service.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "Custom short code already in use")
	case errors.Is(err, service.ErrInvalidURL):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid URL format")
	case errors.Is(err, service.ErrInvalidCode):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid custom code")
	case errors.Is(err, service.ErrInvalidExpiry):
		return echo.NewHTTPError(http.StatusBadRequest, "Expiry date must be in the future")
	default:
		return err
	}
}
