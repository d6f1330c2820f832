package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/firestream-console/internal/domain/model"
)

// APIKeyRepository — CRUD для таблицы api_keys.
type APIKeyRepository interface {
	Create(ctx context.Context, k *model.APIKey) error
	GetByID(ctx context.Context, id string) (*model.APIKey, error)
	// GetByKey ищет ключ по точному совпадению токена.
	GetByKey(ctx context.Context, key string) (*model.APIKey, error)
	// List возвращает все ключи, новые первыми.
	List(ctx context.Context) ([]*model.APIKey, error)
	// UpdatePermission меняет только поле permission; токен не трогается.
	UpdatePermission(ctx context.Context, id, permission string) (*model.APIKey, error)
	// Delete — физическое удаление.
	Delete(ctx context.Context, id string) error
}

type apiKeyRepo struct {
	db DBTX
}

// NewAPIKeyRepository создаёт репозиторий API-ключей.
func NewAPIKeyRepository(db DBTX) APIKeyRepository {
	return &apiKeyRepo{db: db}
}

const apiKeyColumns = `id, name, key, permission, owner_id, created_at, updated_at`

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	k := &model.APIKey{}
	err := row.Scan(&k.ID, &k.Name, &k.Key, &k.Permission, &k.OwnerID, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (r *apiKeyRepo) Create(ctx context.Context, k *model.APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, key, permission, owner_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, k.ID, k.Name, k.Key, k.Permission, k.OwnerID).
		Scan(&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ключ с таким токеном уже существует", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: владелец %s не существует", ErrInvalidReference, k.OwnerID)
		}
		return fmt.Errorf("ошибка создания API-ключа: %w", err)
	}
	return nil
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE id = $1`, apiKeyColumns)
	k, err := scanAPIKey(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения API-ключа: %w", err)
	}
	return k, nil
}

func (r *apiKeyRepo) GetByKey(ctx context.Context, key string) (*model.APIKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE key = $1`, apiKeyColumns)
	k, err := scanAPIKey(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска API-ключа: %w", err)
	}
	return k, nil
}

func (r *apiKeyRepo) List(ctx context.Context) ([]*model.APIKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys ORDER BY created_at DESC, id`, apiKeyColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка API-ключей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования API-ключа: %w", err)
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (r *apiKeyRepo) UpdatePermission(ctx context.Context, id, permission string) (*model.APIKey, error) {
	query := fmt.Sprintf(`
		UPDATE api_keys
		SET permission = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, apiKeyColumns)

	k, err := scanAPIKey(r.db.QueryRow(ctx, query, id, permission))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления прав API-ключа: %w", err)
	}
	return k, nil
}

func (r *apiKeyRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления API-ключа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
