package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"url_shortener/pkg/auth"
	"url_shortener/pkg/events"
	"url_shortener/urls/internal/cache"
	"url_shortener/urls/internal/models"
	"url_shortener/urls/internal/repositories"
)

const generateAttempts = 5

type URLRepository interface {
	Create(ctx context.Context, url *models.URL) error
	GetByCode(ctx context.Context, code string) (*models.URL, error)
	FindActive(ctx context.Context, userID uuid.UUID, originalURL string, now time.Time) (*models.URL, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.URL, error)
	ListByStatus(ctx context.Context, status models.Status, now time.Time) ([]models.URL, error)
	IncrementClicks(ctx context.Context, code string) (int64, error)
	SoftDelete(ctx context.Context, code, deletedBy string) (*models.URL, error)
	SoftDeleteByUser(ctx context.Context, userID uuid.UUID, deletedBy string) ([]models.URL, error)
	Stats(ctx context.Context, now time.Time) (*models.AdminStats, error)
	CountsByUser(ctx context.Context, now time.Time) ([]models.UserURLCount, error)
}

type Cache interface {
	Get(ctx context.Context, code string) (cache.Entry, bool, error)
	Set(ctx context.Context, code string, entry cache.Entry) error
	Delete(ctx context.Context, codes ...string) error
	SetRole(ctx context.Context, userID, role string) error
	Role(ctx context.Context, userID string) (string, bool, error)
	DeleteRole(ctx context.Context, userID string) error
}

type URLEvents interface {
	URLCreated(ctx context.Context, evt events.URLCreatedEvent) bool
	URLClicked(ctx context.Context, evt events.URLClickedEvent) bool
	URLDeleted(ctx context.Context, evt events.URLDeletedEvent) bool
}

type Config struct {
	BaseURL       string
	DefaultExpiry time.Duration
}

type URLService struct {
	urls   URLRepository
	cache  Cache
	events URLEvents
	config Config
	log    *logrus.Entry
	now    func() time.Time
}

func NewURLService(urls URLRepository, cache Cache, events URLEvents, config Config, log *logrus.Entry) *URLService {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &URLService{
		urls:   urls,
		cache:  cache,
		events: events,
		config: config,
		log:    log,
		now:    time.Now,
	}
}

type CreateInput struct {
	OriginalURL string
	CustomCode  string
	ExpiresAt   *time.Time
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Create сокращает ссылку. Если у пользователя уже есть действующая ссылка на
// тот же адрес, она возвращается с created=false.
func (s *URLService) Create(ctx context.Context, owner auth.Identity, in CreateInput) (*models.URL, bool, error) {
	originalURL := strings.TrimSpace(in.OriginalURL)
	if !validURL(originalURL) {
		return nil, false, ErrInvalidURL
	}

	userID, err := uuid.Parse(owner.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid owner id: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.config.DefaultExpiry)
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return nil, false, ErrInvalidExpiry
		}
		expiresAt = in.ExpiresAt.UTC()
	}

	if in.CustomCode == "" {
		existing, err := s.urls.FindActive(ctx, userID, originalURL, now)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up url: %w", err)
		}
	} else if !validCustomCode(in.CustomCode) {
		return nil, false, ErrInvalidCode
	}

	item := &models.URL{
		OriginalURL: originalURL,
		UserID:      userID,
		UserEmail:   owner.Email,
		ExpiresAt:   expiresAt,
	}
	if err := s.insert(ctx, item, in.CustomCode); err != nil {
		return nil, false, err
	}

	s.cacheEntry(ctx, item)
	s.events.URLCreated(ctx, events.URLCreatedEvent{
		URLCode:     item.Code,
		OriginalURL: item.OriginalURL,
		ShortURL:    item.ShortURL,
		UserEmail:   item.UserEmail,
		UserID:      item.UserID.String(),
		ExpiresAt:   item.ExpiresAt,
	})

	s.log.WithFields(logrus.Fields{"url_code": item.Code, "user_id": userID}).Info("Short URL created")
	return item, true, nil
}

// insert сохраняет ссылку с заданным кодом или подбирает свободный случайный.
func (s *URLService) insert(ctx context.Context, item *models.URL, customCode string) error {
	attempts := generateAttempts
	if customCode != "" {
		attempts = 1
	}

	for range attempts {
		code := customCode
		if code == "" {
			generated, err := GenerateCode(CodeLength)
			if err != nil {
				return fmt.Errorf("failed to generate code: %w", err)
			}
			code = generated
		}
		item.Code = code
		item.ShortURL = s.config.BaseURL + "/" + code

		err := s.urls.Create(ctx, item)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrDuplicate) {
			return fmt.Errorf("failed to create url: %w", err)
		}
		if customCode != "" {
			return ErrConflict
		}
	}
	return fmt.Errorf("failed to generate unique code after %d attempts", attempts)
}

// lookup ищет действующую ссылку сначала в кеше, потом в БД.
func (s *URLService) lookup(ctx context.Context, code string) (cache.Entry, error) {
	entry, ok, err := s.cache.Get(ctx, code)
	if err != nil {
		s.log.WithError(err).WithField("url_code", code).Warn("Cache read failed")
	}
	if !ok {
		item, err := s.urls.GetByCode(ctx, code)
		if errors.Is(err, repositories.ErrNotFound) {
			return cache.Entry{}, ErrNotFound
		}
		if err != nil {
			return cache.Entry{}, fmt.Errorf("failed to get url: %w", err)
		}
		if item.DeletedAt != nil {
			return cache.Entry{}, ErrNotFound
		}
		entry = cache.Entry{OriginalURL: item.OriginalURL, ExpiresAt: item.ExpiresAt}
		s.cacheEntry(ctx, item)
	}

	if !s.now().Before(entry.ExpiresAt) {
		return cache.Entry{}, ErrExpired
	}
	return entry, nil
}

// Redirect возвращает адрес для перехода, увеличивает счетчик и публикует url.clicked
func (s *URLService) Redirect(ctx context.Context, code string) (string, error) {
	entry, err := s.lookup(ctx, code)
	if err != nil {
		return "", err
	}

	clicks, err := s.urls.IncrementClicks(ctx, code)
	if errors.Is(err, repositories.ErrNotFound) {
		// ссылку удалили после того, как она попала в кеш
		s.uncache(ctx, code)
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to count click: %w", err)
	}

	s.events.URLClicked(ctx, events.URLClickedEvent{URLCode: code, Clicks: clicks})
	return entry.OriginalURL, nil
}

// Resolve возвращает адрес без учета перехода
func (s *URLService) Resolve(ctx context.Context, code string) (cache.Entry, error) {
	return s.lookup(ctx, code)
}

// Stats доступна владельцу ссылки и администратору
func (s *URLService) Stats(ctx context.Context, actor auth.Identity, code string) (*models.URL, error) {
	item, err := s.get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !item.OwnedBy(actor.UserID) {
		return nil, ErrForbidden
	}
	return item, nil
}

func (s *URLService) get(ctx context.Context, code string) (*models.URL, error) {
	item, err := s.urls.GetByCode(ctx, code)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get url: %w", err)
	}
	return item, nil
}

func (s *URLService) MyURLs(ctx context.Context, actor auth.Identity) ([]models.URL, error) {
	userID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	return s.urls.ListByUser(ctx, userID)
}

func (s *URLService) ListURLs(ctx context.Context, status models.Status) ([]models.URL, error) {
	return s.urls.ListByStatus(ctx, status, s.now().UTC())
}

func (s *URLService) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	return s.urls.Stats(ctx, s.now().UTC())
}

func (s *URLService) UserURLCounts(ctx context.Context) ([]models.UserURLCount, error) {
	return s.urls.CountsByUser(ctx, s.now().UTC())
}

// Delete мягко удаляет ссылку (владелец или администратор) и публикует url.deleted
func (s *URLService) Delete(ctx context.Context, actor auth.Identity, code string) (*models.URL, error) {
	item, err := s.get(ctx, code)
	if err != nil {
		return nil, err
	}
	if item.DeletedAt != nil {
		return nil, ErrNotFound
	}
	if !actor.IsAdmin() && !item.OwnedBy(actor.UserID) {
		return nil, ErrForbidden
	}

	deleted, err := s.urls.SoftDelete(ctx, code, actor.UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete url: %w", err)
	}
	s.uncache(ctx, code)

	deletedAt := s.now().UTC()
	if deleted.DeletedAt != nil {
		deletedAt = *deleted.DeletedAt
	}
	s.events.URLDeleted(ctx, events.URLDeletedEvent{
		URLCode:     deleted.Code,
		OriginalURL: deleted.OriginalURL,
		UserID:      deleted.UserID.String(),
		Clicks:      deleted.Clicks,
		DeletedBy:   actor.UserID,
		DeletedAt:   deletedAt,
	})

	s.log.WithFields(logrus.Fields{"url_code": code, "deleted_by": actor.UserID}).Info("Short URL deleted")
	return deleted, nil
}

// RoleOf отдает роль из user.role_updated, если она была. Используется
// middleware авторизации поверх роли из токена.
func (s *URLService) RoleOf(ctx context.Context, userID string) (string, bool) {
	role, ok, err := s.cache.Role(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("Role cache read failed")
		return "", false
	}
	return role, ok
}

func (s *URLService) cacheEntry(ctx context.Context, item *models.URL) {
	err := s.cache.Set(ctx, item.Code, cache.Entry{OriginalURL: item.OriginalURL, ExpiresAt: item.ExpiresAt})
	if err != nil {
		s.log.WithError(err).WithField("url_code", item.Code).Warn("Cache write failed")
	}
}

func (s *URLService) uncache(ctx context.Context, codes ...string) {
	if err := s.cache.Delete(ctx, codes...); err != nil {
		s.log.WithError(err).WithField("url_codes", codes).Warn("Cache invalidation failed")
	}
}
