package httpx

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Response - общий конверт ответов API.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func OK(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, Response{Success: true, Message: message, Data: data})
}

// ErrorHandler рендерит любую ошибку как {success:false, message}.
// Неожиданные ошибки логируются и отдаются как 500 без подробностей.
func ErrorHandler(log *logrus.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(code)
			}
		} else {
			log.WithError(err).WithField("uri", c.Request().RequestURI).Error("Unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, Response{Success: false, Message: message})
		}
		if err != nil {
			log.WithError(err).Error("Failed to write error response")
		}
	}
}
