package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusDeleted Status = "deleted"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusExpired, StatusDeleted:
		return Status(s), true
	case "":
		return "", true
	default:
		return "", false
	}
}

type URL struct {
	ID          int64
	Code        string
	OriginalURL string
	ShortURL    string
	UserID      uuid.UUID
	UserEmail   string
	Clicks      int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	DeletedBy   *string
}

func (u URL) StatusAt(now time.Time) Status {
	switch {
	case u.DeletedAt != nil:
		return StatusDeleted
	case !now.Before(u.ExpiresAt):
		return StatusExpired
	default:
		return StatusActive
	}
}

func (u URL) OwnedBy(userID string) bool {
	return u.UserID.String() == userID
}

type URLDTO struct {
	ID          int64      `json:"id"`
	URLCode     string     `json:"urlCode"`
	OriginalURL string     `json:"originalUrl"`
	ShortURL    string     `json:"shortUrl"`
	UserID      string     `json:"userId"`
	Clicks      int64      `json:"clicks"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (u URL) DTO(now time.Time) URLDTO {
	return URLDTO{
		ID:          u.ID,
		URLCode:     u.Code,
		OriginalURL: u.OriginalURL,
		ShortURL:    u.ShortURL,
		UserID:      u.UserID.String(),
		Clicks:      u.Clicks,
		Status:      u.StatusAt(now),
		CreatedAt:   u.CreatedAt,
		ExpiresAt:   u.ExpiresAt,
		DeletedAt:   u.DeletedAt,
	}
}

type AdminStats struct {
	TotalURLs   int64 `json:"totalUrls"`
	ActiveURLs  int64 `json:"activeUrls"`
	ExpiredURLs int64 `json:"expiredUrls"`
	DeletedURLs int64 `json:"deletedUrls"`
	TotalClicks int64 `json:"totalClicks"`
	TotalUsers  int64 `json:"totalUsers"`
}

type UserURLCount struct {
	UserID      string `json:"userId"`
	UserEmail   string `json:"userEmail"`
	URLCount    int64  `json:"urlCount"`
	TotalURLs   int64  `json:"totalUrls"`
	TotalClicks int64  `json:"totalClicks"`
}
