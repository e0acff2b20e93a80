package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url_shortener/pkg/logging"
)

type shortenRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required,url"`
	CustomCode  string `json:"customCode" validate:"omitempty,alphanum,min=4,max=20"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBindValidatesRequest(t *testing.T) {
	e := NewEcho(logging.Nop(), nil)
	e.POST("/shorten", func(c echo.Context) error {
		var req shortenRequest
		if err := Bind(c, &req); err != nil {
			return err
		}
		return OK(c, http.StatusCreated, "created", req)
	})

	cases := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{name: "valid", body: `{"originalUrl":"https://x.com"}`, code: http.StatusCreated},
		{name: "missing url", body: `{}`, code: http.StatusBadRequest, message: "originalUrl is required"},
		{name: "bad url", body: `{"originalUrl":"not a url"}`, code: http.StatusBadRequest, message: "originalUrl must be a valid URL"},
		{name: "short code", body: `{"originalUrl":"https://x.com","customCode":"ab"}`, code: http.StatusBadRequest, message: "customCode must be at least 4 characters"},
		{name: "malformed", body: `{`, code: http.StatusBadRequest, message: "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/shorten", strings.NewReader(tc.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tc.code < 400, resp.Success)
			if tc.message != "" {
				assert.Equal(t, tc.message, resp.Message)
			}
		})
	}
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	e := NewEcho(logging.Nop(), nil)
	e.GET("/boom", func(echo.Context) error { return errors.New("pq: connection refused") })
	e.GET("/gone", func(echo.Context) error { return echo.NewHTTPError(http.StatusGone, "URL has expired") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, Response{Success: false, Message: "Internal Server Error"}, decode(t, rec))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gone", nil))
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "URL has expired", decode(t, rec).Message)
}

func TestHealthReportsDegradedDependencies(t *testing.T) {
	e := NewEcho(logging.Nop(), nil)
	connected := false
	e.GET("/health", Health("url_service", map[string]Check{
		"rabbitmq": func() bool { return connected },
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "url_service", body["service"])
	assert.Equal(t, map[string]any{"rabbitmq": false}, body["checks"])

	connected = true
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := NewEcho(logging.Nop(), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	limit, err := RateLimit("2-M", logging.Nop())
	require.NoError(t, err)

	e := NewEcho(logging.Nop(), nil)
	e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, limit)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = RateLimit("lots", logging.Nop())
	assert.Error(t, err)
}
