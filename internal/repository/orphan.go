package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/firestream-console/internal/domain/model"
)

// OrphanRepository — очередь blob, которые не удалось удалить из хранилища
// после удаления метаданных (таблица orphaned_blobs).
type OrphanRepository interface {
	// Record добавляет blob в очередь или обновляет last_error для существующего.
	Record(ctx context.Context, o *model.OrphanedBlob) error
	// ListDue возвращает до limit записей, давно не обрабатывавшихся первыми.
	ListDue(ctx context.Context, limit int) ([]*model.OrphanedBlob, error)
	// MarkAttempt увеличивает attempts и сохраняет ошибку последней попытки.
	MarkAttempt(ctx context.Context, storagePath, lastError string) error
	// Remove удаляет запись после успешной очистки blob.
	Remove(ctx context.Context, storagePath string) error
	// Count возвращает размер очереди.
	Count(ctx context.Context) (int, error)
}

type orphanRepo struct {
	db DBTX
}

// NewOrphanRepository создаёт репозиторий очереди осиротевших blob.
func NewOrphanRepository(db DBTX) OrphanRepository {
	return &orphanRepo{db: db}
}

func (r *orphanRepo) Record(ctx context.Context, o *model.OrphanedBlob) error {
	query := `
		INSERT INTO orphaned_blobs (storage_path, file_id, owner_id, last_error, attempts, last_attempt_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (storage_path) DO UPDATE SET
			last_error = EXCLUDED.last_error,
			attempts = orphaned_blobs.attempts + 1,
			last_attempt_at = now()
		RETURNING attempts, created_at`

	err := r.db.QueryRow(ctx, query, o.StoragePath, o.FileID, o.OwnerID, o.LastError).
		Scan(&o.Attempts, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи осиротевшего blob: %w", err)
	}
	return nil
}

func (r *orphanRepo) ListDue(ctx context.Context, limit int) ([]*model.OrphanedBlob, error) {
	query := `
		SELECT storage_path, file_id, owner_id, last_error, attempts, created_at, last_attempt_at
		FROM orphaned_blobs
		ORDER BY last_attempt_at NULLS FIRST, created_at
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения осиротевших blob: %w", err)
	}
	defer rows.Close()

	var result []*model.OrphanedBlob
	for rows.Next() {
		o := &model.OrphanedBlob{}
		if err := rows.Scan(
			&o.StoragePath, &o.FileID, &o.OwnerID, &o.LastError,
			&o.Attempts, &o.CreatedAt, &o.LastAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования осиротевшего blob: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (r *orphanRepo) MarkAttempt(ctx context.Context, storagePath, lastError string) error {
	query := `
		UPDATE orphaned_blobs
		SET attempts = attempts + 1, last_error = $2, last_attempt_at = now()
		WHERE storage_path = $1`

	tag, err := r.db.Exec(ctx, query, storagePath, lastError)
	if err != nil {
		return fmt.Errorf("ошибка обновления осиротевшего blob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orphanRepo) Remove(ctx context.Context, storagePath string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM orphaned_blobs WHERE storage_path = $1`, storagePath)
	if err != nil {
		return fmt.Errorf("ошибка удаления осиротевшего blob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orphanRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orphaned_blobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта осиротевших blob: %w", err)
	}
	return count, nil
}
