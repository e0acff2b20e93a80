package httpx

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Check сообщает, доступна ли зависимость (брокер, БД, Redis).
type Check func() bool

// Health отдает 200 всегда: недоступный брокер не делает сервис недоступным,
// статус зависимостей виден в поле checks.
func Health(service string, checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := "ok"
		results := make(map[string]bool, len(checks))
		for name, check := range checks {
			results[name] = check()
			if !results[name] {
				status = "degraded"
			}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":  status,
			"service": service,
			"time":    time.Now().Format(time.RFC3339),
			"checks":  results,
		})
	}
}
