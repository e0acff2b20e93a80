package events

import (
	"time"
)

// Все события несут timestamp - момент публикации (ISO-8601).

type UserRegisteredEvent struct {
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

type UserRoleUpdatedEvent struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	OldRole   string    `json:"oldRole"`
	NewRole   string    `json:"newRole"`
	Timestamp time.Time `json:"timestamp"`
}

type UserDeletedEvent struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

type URLCreatedEvent struct {
	URLCode     string    `json:"urlCode"`
	OriginalURL string    `json:"originalUrl"`
	ShortURL    string    `json:"shortUrl"`
	UserEmail   string    `json:"userEmail"`
	UserID      string    `json:"userId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Timestamp   time.Time `json:"timestamp"`
}

type URLClickedEvent struct {
	URLCode   string    `json:"urlCode"`
	Clicks    int64     `json:"clicks"`
	Timestamp time.Time `json:"timestamp"`
}

type URLDeletedEvent struct {
	URLCode     string    `json:"urlCode"`
	OriginalURL string    `json:"originalUrl"`
	UserID      string    `json:"userId,omitempty"`
	Clicks      int64     `json:"clicks"`
	DeletedBy   string    `json:"deletedBy"`
	DeletedAt   time.Time `json:"deletedAt"`
	Timestamp   time.Time `json:"timestamp"`
}

// stamper выставляет timestamp, если продюсер его не заполнил.
type stamper interface {
	stamp(now time.Time)
}

func (e *UserRegisteredEvent) stamp(now time.Time)  { e.Timestamp = orNow(e.Timestamp, now) }
func (e *UserRoleUpdatedEvent) stamp(now time.Time) { e.Timestamp = orNow(e.Timestamp, now) }
func (e *UserDeletedEvent) stamp(now time.Time)     { e.Timestamp = orNow(e.Timestamp, now) }
func (e *URLCreatedEvent) stamp(now time.Time)      { e.Timestamp = orNow(e.Timestamp, now) }
func (e *URLClickedEvent) stamp(now time.Time)      { e.Timestamp = orNow(e.Timestamp, now) }
func (e *URLDeletedEvent) stamp(now time.Time)      { e.Timestamp = orNow(e.Timestamp, now) }

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t
}
