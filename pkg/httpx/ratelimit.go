package httpx

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit ограничивает число запросов с одного IP. rate задается в формате
// limiter: "10-M" - 10 запросов в минуту.
func RateLimit(rate string, log *logrus.Entry) (echo.MiddlewareFunc, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), parsed)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lctx, err := instance.Get(c.Request().Context(), c.RealIP())
			if err != nil {
				// лимитер не должен ронять запрос
				log.WithError(err).Warn("Rate limiter failed")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

			if lctx.Reached {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, please try again later")
			}
			return next(c)
		}
	}, nil
}
