package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/firestream-console/internal/domain/model"
)

// UserRepository — CRUD для таблицы users.
type UserRepository interface {
	// Create добавляет пользователя (используется при первом входе и в тестах).
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	// List возвращает всех пользователей, новые первыми.
	List(ctx context.Context) ([]*model.User, error)
	UpdateRole(ctx context.Context, id, role string) (*model.User, error)
	// Delete удаляет пользователя вместе с его файлами и ключами (ON DELETE CASCADE).
	// Blob удаляемых файлов в той же транзакции ставятся в очередь orphaned_blobs.
	Delete(ctx context.Context, id string) (orphaned int, err error)
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, name, email, role, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	return u, err
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, u.ID, u.Name, u.Email, u.Role).Scan(&u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь с таким id или email уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context) ([]*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users ORDER BY created_at DESC, id`, userColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) UpdateRole(ctx context.Context, id, role string) (*model.User, error) {
	query := fmt.Sprintf(`UPDATE users SET role = $2 WHERE id = $1 RETURNING %s`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления роли: %w", err)
	}
	return u, nil
}

// Delete удаляет пользователя одним выражением: data-modifying CTE переносит
// пути blob его файлов в orphaned_blobs, каскад удаляет files и api_keys.
func (r *userRepo) Delete(ctx context.Context, id string) (int, error) {
	query := `
		WITH orphans AS (
			INSERT INTO orphaned_blobs (storage_path, file_id, owner_id, last_error)
			SELECT storage_path, id, owner_id, 'владелец удалён'
			FROM files
			WHERE owner_id = $1
			ON CONFLICT (storage_path) DO NOTHING
			RETURNING 1
		), deleted AS (
			DELETE FROM users WHERE id = $1 RETURNING 1
		)
		SELECT (SELECT COUNT(*) FROM deleted), (SELECT COUNT(*) FROM orphans)`

	var deleted, orphaned int
	if err := r.db.QueryRow(ctx, query, id).Scan(&deleted, &orphaned); err != nil {
		return 0, fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if deleted == 0 {
		return 0, ErrNotFound
	}
	return orphaned, nil
}
