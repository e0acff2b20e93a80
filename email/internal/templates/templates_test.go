package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	subject, body, err := r.Render(Welcome, Data{AppName: "URL Shortener", Name: "<Ann>"})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to URL Shortener!", subject)
	assert.Contains(t, body, "Welcome, &lt;Ann&gt;!")
	assert.Contains(t, body, "This email was sent by URL Shortener")

	_, body, err = r.Render(RoleUpdated, Data{AppName: "X", OldRole: "user", NewRole: "admin"})
	require.NoError(t, err)
	assert.Contains(t, body, "Delete any URL")

	_, body, err = r.Render(RoleUpdated, Data{AppName: "X", OldRole: "admin", NewRole: "user"})
	require.NoError(t, err)
	assert.NotContains(t, body, "Delete any URL")

	subject, body, err = r.Render(URLCreated, Data{
		AppName:     "X",
		ShortURL:    "https://short.ly/abc123",
		OriginalURL: "https://x.com/page",
		ExpiresAt:   time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "Your short URL is ready - X", subject)
	assert.Contains(t, body, `href="https://short.ly/abc123"`)
	assert.Contains(t, body, "2030-01-02 03:04 UTC")

	_, _, err = r.Render("password_reset", Data{})
	assert.Error(t, err)
}
