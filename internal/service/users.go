// users.go — администрирование пользователей консоли.
// Таблица users — источник истины для ролей. Пользователь OIDC-сессии
// регистрируется при первом обращении с ролью USER (или ADMIN, если его
// email входит в список начальных администраторов).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/domain/rbac"
	"github.com/bigkaa/firestream-console/internal/repository"
)

// UserService — сервис управления пользователями.
type UserService struct {
	repo        repository.UserRepository
	cache       *ListingCache
	adminEmails map[string]bool
	logger      *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(repo repository.UserRepository, cache *ListingCache, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// SetBootstrapAdmins задаёт email, получающие роль ADMIN при регистрации.
// Уже зарегистрированных пользователей не затрагивает.
func (s *UserService) SetBootstrapAdmins(emails []string) {
	s.adminEmails = make(map[string]bool, len(emails))
	for _, e := range emails {
		s.adminEmails[strings.ToLower(strings.TrimSpace(e))] = true
	}
}

// List возвращает всех пользователей, новые первыми.
func (s *UserService) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка пользователей: %w", err)
	}
	return users, nil
}

// UpdateRole меняет роль пользователя (ADMIN или USER).
func (s *UserService) UpdateRole(ctx context.Context, id, role string) (*model.User, error) {
	if !rbac.IsValidRole(role) {
		return nil, fmt.Errorf("%w: недопустимая роль %q, допустимые: ADMIN, USER", ErrValidation, role)
	}

	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("обновление роли пользователя: %w", err)
	}

	s.logger.Info("Роль пользователя изменена",
		slog.String("user_id", id),
		slog.String("role", role),
	)
	return user, nil
}

// Delete удаляет пользователя. Файлы и ключи удаляются каскадно,
// blob удалённых файлов ставятся в очередь очистки.
func (s *UserService) Delete(ctx context.Context, id string) error {
	orphaned, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление пользователя: %w", err)
	}
	s.cache.Invalidate(id)

	if orphaned > 0 {
		orphanedBlobsTotal.Add(float64(orphaned))
	}
	s.logger.Info("Пользователь удалён",
		slog.String("user_id", id),
		slog.Int("queued_blobs", orphaned),
	)
	return nil
}

// EnsureUser возвращает пользователя по ID, создавая его с ролью USER
// (ADMIN для начальных администраторов), если он ещё не зарегистрирован.
func (s *UserService) EnsureUser(ctx context.Context, id, name, email string) (*model.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email пользователя не задан", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		name = email
	}

	role := rbac.RoleUser
	if s.adminEmails[strings.ToLower(email)] {
		role = rbac.RoleAdmin
	}

	user = &model.User{ID: id, Name: name, Email: email, Role: role}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Параллельная регистрация того же пользователя
			if existing, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				return existing, nil
			}
			return nil, fmt.Errorf("%w: email %q уже занят", ErrValidation, email)
		}
		return nil, fmt.Errorf("регистрация пользователя: %w", err)
	}

	s.logger.Info("Пользователь зарегистрирован",
		slog.String("user_id", id),
		slog.String("email", email),
		slog.String("role", role),
	)
	return user, nil
}
