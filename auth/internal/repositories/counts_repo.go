package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"url_shortener/auth/internal/models"
	"url_shortener/pkg/db"
)

// URLCountRepository ведет счетчики ссылок по событиям url-service.
// Каждое событие применяется не более одного раза: его ключ пишется в
// processed_messages в той же транзакции, что и изменение счетчика.
type URLCountRepository struct {
	db *sql.DB
}

func NewURLCountRepository(db *sql.DB) *URLCountRepository {
	return &URLCountRepository{db: db}
}

// Apply добавляет дельты к счетчикам пользователя. Возвращает false, если
// сообщение с таким ключом уже было применено.
func (r *URLCountRepository) Apply(ctx context.Context, messageKey, routingKey string, userID uuid.UUID, activeDelta, totalDelta int64) (bool, error) {
	applied := false
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO processed_messages (message_id, routing_key, processed_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (message_id) DO NOTHING
		`, messageKey, routingKey, time.Now().UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_url_counts (user_id, active_urls, total_urls, updated_at)
			VALUES ($1, GREATEST($2::BIGINT, 0), GREATEST($3::BIGINT, 0), $4)
			ON CONFLICT (user_id) DO UPDATE
			SET active_urls = GREATEST(user_url_counts.active_urls + $2::BIGINT, 0),
			    total_urls  = GREATEST(user_url_counts.total_urls + $3::BIGINT, 0),
			    updated_at  = $4
		`, userID, activeDelta, totalDelta, time.Now().UTC())
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *URLCountRepository) Get(ctx context.Context, userID uuid.UUID) (*models.URLCount, error) {
	query := `
		SELECT user_id, active_urls, total_urls, updated_at
		FROM user_url_counts
		WHERE user_id = $1
	`
	var count models.URLCount
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&count.UserID,
		&count.ActiveURLs,
		&count.TotalURLs,
		&count.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.URLCount{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &count, nil
}
