package repositories

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url_shortener/urls/internal/models"
)

var cols = []string{"id", "code", "original_url", "short_url", "user_id", "user_email", "clicks", "expires_at", "created_at", "updated_at", "deleted_at", "deleted_by"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return conn, mock
}

func TestCreate(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewURLRepository(conn)
	userID := uuid.New()
	expires := time.Now().Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO urls")).
		WithArgs("abc123", "https://x.com", "http://s/abc123", userID, "a@b.com", expires, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	url := &models.URL{Code: "abc123", OriginalURL: "https://x.com", ShortURL: "http://s/abc123", UserID: userID, UserEmail: "a@b.com", ExpiresAt: expires}
	require.NoError(t, repo.Create(context.Background(), url))
	assert.Equal(t, int64(7), url.ID)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO urls")).WillReturnError(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, repo.Create(context.Background(), &models.URL{Code: "abc123"}), ErrDuplicate)
}

func TestGetByCode(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewURLRepository(conn)
	now := time.Now()
	deletedBy := "admin-id"

	mock.ExpectQuery(regexp.QuoteMeta("FROM urls WHERE code = $1")).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, "abc123", "https://x.com", "http://s/abc123", uuid.NewString(), "", 5, now, now, now, now, deletedBy))

	url, err := repo.GetByCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(5), url.Clicks)
	require.NotNil(t, url.DeletedAt)
	assert.Equal(t, models.StatusDeleted, url.StatusAt(now))

	mock.ExpectQuery(regexp.QuoteMeta("FROM urls WHERE code = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(cols))
	_, err = repo.GetByCode(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByStatusBuildsFilter(t *testing.T) {
	now := time.Now()
	cases := []struct {
		status models.Status
		clause string
		args   int
	}{
		{models.StatusActive, "WHERE deleted_at IS NULL AND expires_at > $1", 1},
		{models.StatusExpired, "WHERE deleted_at IS NULL AND expires_at <= $1", 1},
		{models.StatusDeleted, "WHERE deleted_at IS NOT NULL", 0},
		{"", "FROM urls ORDER BY created_at DESC", 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			conn, mock := newMock(t)
			repo := NewURLRepository(conn)

			q := mock.ExpectQuery(regexp.QuoteMeta(tc.clause))
			if tc.args > 0 {
				q = q.WithArgs(now)
			} else {
				q = q.WithoutArgs()
			}
			q.WillReturnRows(sqlmock.NewRows(cols))

			urls, err := repo.ListByStatus(context.Background(), tc.status, now)
			require.NoError(t, err)
			assert.Empty(t, urls)
		})
	}
}

func TestIncrementClicks(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewURLRepository(conn)

	mock.ExpectQuery(regexp.QuoteMeta("SET clicks = clicks + 1")).
		WithArgs("abc123", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"clicks"}).AddRow(42))
	clicks, err := repo.IncrementClicks(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(42), clicks)

	mock.ExpectQuery(regexp.QuoteMeta("SET clicks = clicks + 1")).
		WithArgs("gone", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"clicks"}))
	_, err = repo.IncrementClicks(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteByUser(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewURLRepository(conn)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND deleted_at IS NULL")).
		WithArgs(userID, sqlmock.AnyArg(), "system").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "a1", "https://a", "s/a1", userID.String(), "", 0, now, now, now, now, "system").
			AddRow(2, "b2", "https://b", "s/b2", userID.String(), "", 3, now, now, now, now, "system"))

	urls, err := repo.SoftDeleteByUser(context.Background(), userID, "system")
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "b2", urls[1].Code)
}

func TestStats(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewURLRepository(conn)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "expired", "deleted", "clicks", "users"}).AddRow(10, 6, 3, 1, 99, 4))

	stats, err := repo.Stats(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, models.AdminStats{TotalURLs: 10, ActiveURLs: 6, ExpiredURLs: 3, DeletedURLs: 1, TotalClicks: 99, TotalUsers: 4}, *stats)
}

func TestCountsByUser(t *testing.T) {
	conn, mock := newMock(t)
	repo := NewURLRepository(conn)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY user_id")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email", "active", "total", "clicks"}).AddRow("u1", "a@b.com", 2, 3, 10))

	counts, err := repo.CountsByUser(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []models.UserURLCount{{UserID: "u1", UserEmail: "a@b.com", URLCount: 2, TotalURLs: 3, TotalClicks: 10}}, counts)
}
