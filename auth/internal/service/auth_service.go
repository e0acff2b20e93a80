package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"url_shortener/auth/internal/models"
	"url_shortener/auth/internal/repositories"
	"url_shortener/pkg/auth"
	"url_shortener/pkg/events"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ListWithURLCounts(ctx context.Context) ([]models.UserWithURLCount, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// UserEvents - события, которые сервис публикует после успешной записи.
type UserEvents interface {
	UserRegistered(ctx context.Context, evt events.UserRegisteredEvent) bool
	UserRoleUpdated(ctx context.Context, evt events.UserRoleUpdatedEvent) bool
	UserDeleted(ctx context.Context, evt events.UserDeletedEvent) bool
}

type AuthService struct {
	users      UserRepository
	tokens     *auth.JWTService
	events     UserEvents
	log        *logrus.Entry
	bcryptCost int
}

func NewAuthService(users UserRepository, tokens *auth.JWTService, events UserEvents, log *logrus.Entry) *AuthService {
	return &AuthService{
		users:      users,
		tokens:     tokens,
		events:     events,
		log:        log,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Session - пользователь и выданный ему токен.
type Session struct {
	User  *models.User
	Token string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register создает пользователя с ролью user и публикует user.registered
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = normalizeEmail(email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	user, err := s.create(ctx, email, password, name, auth.RoleUser)
	if err != nil {
		return nil, err
	}

	s.events.UserRegistered(ctx, events.UserRegisteredEvent{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
	})

	return s.session(user)
}

func (s *AuthService) create(ctx context.Context, email, password, name, role string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("User created")
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *AuthService) session(user *models.User) (*Session, error) {
	token, err := s.tokens.Generate(user.ID.String(), user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Session{User: user, Token: token}, nil
}

func (s *AuthService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.get(ctx, userID)
}

func (s *AuthService) get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

func (s *AuthService) UsersWithURLCounts(ctx context.Context) ([]models.UserWithURLCount, error) {
	return s.users.ListWithURLCounts(ctx)
}

// UpdateRole меняет роль пользователя и публикует user.role_updated.
// Администратор не может менять роль самому себе.
func (s *AuthService) UpdateRole(ctx context.Context, actor auth.Identity, userID uuid.UUID, role string) (*models.User, error) {
	if role != auth.RoleUser && role != auth.RoleAdmin {
		return nil, ErrInvalidRole
	}
	if actor.UserID == userID.String() {
		return nil, ErrForbidden
	}

	user, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	oldRole := user.Role
	user.Role = role
	s.events.UserRoleUpdated(ctx, events.UserRoleUpdatedEvent{
		UserID:  user.ID.String(),
		Email:   user.Email,
		OldRole: oldRole,
		NewRole: role,
	})

	s.log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"old_role": oldRole,
		"new_role": role,
		"actor":    actor.UserID,
	}).Info("User role updated")
	return user, nil
}

// DeleteUser мягко удаляет пользователя и публикует user.deleted
func (s *AuthService) DeleteUser(ctx context.Context, actor auth.Identity, userID uuid.UUID) error {
	if actor.UserID == userID.String() {
		return ErrForbidden
	}

	user, err := s.get(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.SoftDelete(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.events.UserDeleted(ctx, events.UserDeletedEvent{
		UserID: user.ID.String(),
		Email:  user.Email,
	})

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "actor": actor.UserID}).Info("User deleted")
	return nil
}

// EnsureAdmin создает администратора или повышает существующего пользователя.
// Возвращает true, если пользователь был создан.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		if _, err := s.create(ctx, email, password, name, auth.RoleAdmin); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}

	if user.Role == auth.RoleAdmin {
		return false, nil
	}
	if err := s.users.UpdateRole(ctx, user.ID, auth.RoleAdmin); err != nil {
		return false, fmt.Errorf("failed to promote user: %w", err)
	}
	s.events.UserRoleUpdated(ctx, events.UserRoleUpdatedEvent{
		UserID:  user.ID.String(),
		Email:   user.Email,
		OldRole: user.Role,
		NewRole: auth.RoleAdmin,
	})
	return false, nil
}
