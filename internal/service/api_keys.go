// api_keys.go — реестр API-ключей.
// Токен (sk_ + 32 символа nanoid) генерируется один раз при создании
// и никогда не перевыпускается: изменение возможностей ключа — только
// через UpdatePermission, отзыв — физическое удаление записи.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/domain/rbac"
	"github.com/bigkaa/firestream-console/internal/repository"
)

const (
	// APIKeyPrefix — префикс токена API-ключа.
	APIKeyPrefix = "sk_"
	// apiKeyTokenLength — длина случайной части токена.
	apiKeyTokenLength = 32
	// maxAPIKeyNameLength — ограничение длины имени ключа (символы).
	maxAPIKeyNameLength = 255
	// createAttempts — число попыток при коллизии токена.
	createAttempts = 3
)

// APIKeyService — сервис управления API-ключами.
type APIKeyService struct {
	repo   repository.APIKeyRepository
	logger *slog.Logger
}

// NewAPIKeyService создаёт сервис API-ключей.
func NewAPIKeyService(repo repository.APIKeyRepository, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repo:   repo,
		logger: logger.With(slog.String("component", "api_key_service")),
	}
}

// Create создаёт ключ с новым токеном. Имя не уникально:
// два ключа с одинаковым именем — независимые записи с разными токенами.
// Возвращает запись с токеном в открытом виде.
func (s *APIKeyService) Create(ctx context.Context, name, permission, ownerID string) (*model.APIKey, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: имя ключа не задано", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxAPIKeyNameLength {
		return nil, fmt.Errorf("%w: имя ключа длиннее %d символов", ErrValidation, maxAPIKeyNameLength)
	}
	if !rbac.IsValidPermission(permission) {
		return nil, fmt.Errorf("%w: недопустимое право %q", ErrValidation, permission)
	}

	for attempt := 1; ; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("генерация токена: %w", err)
		}

		key := &model.APIKey{
			ID:         uuid.New().String(),
			Name:       name,
			Key:        token,
			Permission: permission,
			OwnerID:    ownerID,
		}

		err = s.repo.Create(ctx, key)
		switch {
		case err == nil:
			s.logger.Info("API-ключ создан",
				slog.String("key_id", key.ID),
				slog.String("owner_id", ownerID),
				slog.String("permission", permission),
			)
			return key, nil
		case errors.Is(err, repository.ErrConflict) && attempt < createAttempts:
			s.logger.Warn("Коллизия токена API-ключа, повторная генерация",
				slog.Int("attempt", attempt),
			)
		case errors.Is(err, repository.ErrInvalidReference):
			return nil, fmt.Errorf("%w: владелец %q не найден", ErrValidation, ownerID)
		default:
			return nil, fmt.Errorf("создание API-ключа: %w", err)
		}
	}
}

// UpdatePermission меняет права ключа. Токен не меняется.
// Повторный вызов с тем же значением допустим.
func (s *APIKeyService) UpdatePermission(ctx context.Context, id, permission string) (*model.APIKey, error) {
	if !rbac.IsValidPermission(permission) {
		return nil, fmt.Errorf("%w: недопустимое право %q", ErrValidation, permission)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	key, err := s.repo.UpdatePermission(ctx, id, permission)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("обновление прав API-ключа: %w", err)
	}

	s.logger.Info("Права API-ключа изменены",
		slog.String("key_id", id),
		slog.String("permission", permission),
	)
	return key, nil
}

// Revoke удаляет ключ. Повторный отзыв — ErrNotFound.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("отзыв API-ключа: %w", err)
	}

	s.logger.Info("API-ключ отозван", slog.String("key_id", id))
	return nil
}

// List возвращает все ключи, новые первыми. Токены в открытом виде:
// маскирование — забота вызывающего.
func (s *APIKeyService) List(ctx context.Context) ([]*model.APIKey, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка API-ключей: %w", err)
	}
	return keys, nil
}

// Lookup находит ключ по точному совпадению токена.
func (s *APIKeyService) Lookup(ctx context.Context, token string) (*model.APIKey, error) {
	if !strings.HasPrefix(token, APIKeyPrefix) {
		return nil, ErrNotFound
	}

	key, err := s.repo.GetByKey(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("поиск API-ключа: %w", err)
	}
	return key, nil
}

// MaskToken скрывает токен, оставляя префикс и последние 4 символа.
func MaskToken(token string) string {
	rest := strings.TrimPrefix(token, APIKeyPrefix)
	if len(rest) <= 4 {
		return APIKeyPrefix + strings.Repeat("*", len(rest))
	}
	return APIKeyPrefix + strings.Repeat("*", len(rest)-4) + rest[len(rest)-4:]
}

func generateToken() (string, error) {
	id, err := gonanoid.New(apiKeyTokenLength)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + id, nil
}
