package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/firestream-console/internal/domain/model"
)

// FileRepository — хранилище метаданных файлов (таблица files).
// Операции обновления намеренно отсутствуют: storage_path неизменяем.
type FileRepository interface {
	// Insert создаёт запись файла. CreatedAt заполняется из БД.
	Insert(ctx context.Context, f *model.FileRecord) error
	// GetOwned возвращает файл, только если он принадлежит ownerID.
	GetOwned(ctx context.Context, id, ownerID string) (*model.FileRecord, error)
	// ListByOwner возвращает файлы владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	// DeleteOwned удаляет запись файла владельца.
	DeleteOwned(ctx context.Context, id, ownerID string) error
}

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий метаданных файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

const fileColumns = `id, name, size, mime_type, storage_path, owner_id, created_at`

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(&f.ID, &f.Name, &f.Size, &f.MimeType, &f.StoragePath, &f.OwnerID, &f.CreatedAt)
	return f, err
}

func (r *fileRepo) Insert(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (id, name, size, mime_type, storage_path, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.Name, f.Size, f.MimeType, f.StoragePath, f.OwnerID,
	).Scan(&f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким путём уже зарегистрирован", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: владелец %s не существует", ErrInvalidReference, f.OwnerID)
		}
		return fmt.Errorf("ошибка вставки файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetOwned(ctx context.Context, id, ownerID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1 AND owner_id = $2`, fileColumns)
	f, err := scanFile(r.db.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM files
		WHERE owner_id = $1
		ORDER BY created_at DESC, id`, fileColumns)

	return r.queryFiles(ctx, query, ownerID)
}

func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) DeleteOwned(ctx context.Context, id, ownerID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
