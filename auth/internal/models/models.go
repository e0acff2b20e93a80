package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// URLCount - счетчики ссылок пользователя, которые ведет consumer url.* событий.
type URLCount struct {
	UserID     uuid.UUID
	ActiveURLs int64
	TotalURLs  int64
	UpdatedAt  time.Time
}

type UserWithURLCount struct {
	User
	ActiveURLs int64
	TotalURLs  int64
}

// UserDTO - представление пользователя в ответах API, без хеша пароля.
type UserDTO struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserStatsDTO struct {
	UserDTO
	URLCount  int64 `json:"urlCount"`
	TotalURLs int64 `json:"totalUrls"`
}

func (u User) DTO() UserDTO {
	return UserDTO{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func (u UserWithURLCount) DTO() UserStatsDTO {
	return UserStatsDTO{
		UserDTO:   u.User.DTO(),
		URLCount:  u.ActiveURLs,
		TotalURLs: u.TotalURLs,
	}
}
