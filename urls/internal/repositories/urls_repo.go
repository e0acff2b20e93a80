package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"url_shortener/urls/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

const uniqueViolation = "23505"

const urlColumns = `id, code, original_url, short_url, user_id, user_email, clicks, expires_at, created_at, updated_at, deleted_at, deleted_by`

type URLRepository struct {
	db *sql.DB
}

func NewURLRepository(db *sql.DB) *URLRepository {
	return &URLRepository{db: db}
}

func scanURL(row interface{ Scan(...any) error }) (*models.URL, error) {
	var url models.URL
	err := row.Scan(
		&url.ID,
		&url.Code,
		&url.OriginalURL,
		&url.ShortURL,
		&url.UserID,
		&url.UserEmail,
		&url.Clicks,
		&url.ExpiresAt,
		&url.CreatedAt,
		&url.UpdatedAt,
		&url.DeletedAt,
		&url.DeletedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &url, nil
}

func scanURLs(rows *sql.Rows) ([]models.URL, error) {
	defer rows.Close()

	var urls []models.URL
	for rows.Next() {
		url, err := scanURL(rows)
		if err != nil {
			return nil, err
		}
		urls = append(urls, *url)
	}
	return urls, rows.Err()
}

// Create сохраняет ссылку, занятый код дает ErrDuplicate
func (r *URLRepository) Create(ctx context.Context, url *models.URL) error {
	now := time.Now().UTC()
	url.CreatedAt = now
	url.UpdatedAt = now

	query := `
		INSERT INTO urls (code, original_url, short_url, user_id, user_email, clicks, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		url.Code,
		url.OriginalURL,
		url.ShortURL,
		url.UserID,
		url.UserEmail,
		url.ExpiresAt,
		url.CreatedAt,
		url.UpdatedAt,
	).Scan(&url.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// GetByCode возвращает ссылку по коду, в том числе удаленную
func (r *URLRepository) GetByCode(ctx context.Context, code string) (*models.URL, error) {
	query := `SELECT ` + urlColumns + ` FROM urls WHERE code = $1`
	return scanURL(r.db.QueryRowContext(ctx, query, code))
}

// FindActive ищет действующую ссылку пользователя на тот же адрес
func (r *URLRepository) FindActive(ctx context.Context, userID uuid.UUID, originalURL string, now time.Time) (*models.URL, error) {
	query := `
		SELECT ` + urlColumns + `
		FROM urls
		WHERE user_id = $1 AND original_url = $2 AND deleted_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanURL(r.db.QueryRowContext(ctx, query, userID, originalURL, now))
}

func (r *URLRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.URL, error) {
	query := `
		SELECT ` + urlColumns + `
		FROM urls
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return scanURLs(rows)
}

// ListByStatus возвращает ссылки с заданным статусом, пустой статус - все
func (r *URLRepository) ListByStatus(ctx context.Context, status models.Status, now time.Time) ([]models.URL, error) {
	query := `SELECT ` + urlColumns + ` FROM urls`
	args := []any{}

	switch status {
	case models.StatusActive:
		query += ` WHERE deleted_at IS NULL AND expires_at > $1`
		args = append(args, now)
	case models.StatusExpired:
		query += ` WHERE deleted_at IS NULL AND expires_at <= $1`
		args = append(args, now)
	case models.StatusDeleted:
		query += ` WHERE deleted_at IS NOT NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanURLs(rows)
}

// IncrementClicks увеличивает счетчик переходов и возвращает новое значение
func (r *URLRepository) IncrementClicks(ctx context.Context, code string) (int64, error) {
	query := `
		UPDATE urls
		SET clicks = clicks + 1, updated_at = $2
		WHERE code = $1 AND deleted_at IS NULL
		RETURNING clicks
	`
	var clicks int64
	err := r.db.QueryRowContext(ctx, query, code, time.Now().UTC()).Scan(&clicks)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return clicks, err
}

// SoftDelete помечает ссылку удаленной и возвращает ее итоговое состояние
func (r *URLRepository) SoftDelete(ctx context.Context, code, deletedBy string) (*models.URL, error) {
	query := `
		UPDATE urls
		SET deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE code = $1 AND deleted_at IS NULL
		RETURNING ` + urlColumns
	return scanURL(r.db.QueryRowContext(ctx, query, code, time.Now().UTC(), deletedBy))
}

// SoftDeleteByUser удаляет все действующие ссылки пользователя и возвращает их
func (r *URLRepository) SoftDeleteByUser(ctx context.Context, userID uuid.UUID, deletedBy string) ([]models.URL, error) {
	query := `
		UPDATE urls
		SET deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE user_id = $1 AND deleted_at IS NULL
		RETURNING ` + urlColumns
	rows, err := r.db.QueryContext(ctx, query, userID, time.Now().UTC(), deletedBy)
	if err != nil {
		return nil, err
	}
	return scanURLs(rows)
}

func (r *URLRepository) Stats(ctx context.Context, now time.Time) (*models.AdminStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE deleted_at IS NULL AND expires_at > $1),
			COUNT(*) FILTER (WHERE deleted_at IS NULL AND expires_at <= $1),
			COUNT(*) FILTER (WHERE deleted_at IS NOT NULL),
			COALESCE(SUM(clicks), 0),
			COUNT(DISTINCT user_id)
		FROM urls
	`
	var stats models.AdminStats
	err := r.db.QueryRowContext(ctx, query, now).Scan(
		&stats.TotalURLs,
		&stats.ActiveURLs,
		&stats.ExpiredURLs,
		&stats.DeletedURLs,
		&stats.TotalClicks,
		&stats.TotalUsers,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// CountsByUser группирует ссылки по владельцу: действующие, все и сумма переходов
func (r *URLRepository) CountsByUser(ctx context.Context, now time.Time) ([]models.UserURLCount, error) {
	query := `
		SELECT
			user_id::TEXT,
			MAX(user_email),
			COUNT(*) FILTER (WHERE deleted_at IS NULL AND expires_at > $1),
			COUNT(*),
			COALESCE(SUM(clicks), 0)
		FROM urls
		GROUP BY user_id
		ORDER BY 3 DESC
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.UserURLCount
	for rows.Next() {
		var c models.UserURLCount
		if err := rows.Scan(&c.UserID, &c.UserEmail, &c.URLCount, &c.TotalURLs, &c.TotalClicks); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
