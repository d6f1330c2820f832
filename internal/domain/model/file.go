// Пакет model — доменные модели Firestream Console.
package model

import "time"

// FileRecord — метаданные загруженного файла.
// Хранится в таблице files. Запись появляется только после того,
// как blob store подтвердил приём, и никогда не обновляется на месте.
type FileRecord struct {
	// ID — UUID файла
	ID string `json:"id"`
	// Name — отображаемое имя файла
	Name string `json:"name"`
	// Size — размер в байтах (по ответу blob store)
	Size int64 `json:"size"`
	// MimeType — MIME-тип (nil если blob store его не определил)
	MimeType *string `json:"mime_type"`
	// StoragePath — путь/ключ blob в хранилище, неизменяем
	StoragePath string `json:"storage_path"`
	// OwnerID — владелец файла
	OwnerID string `json:"owner_id"`
	// CreatedAt — время создания записи
	CreatedAt time.Time `json:"created_at"`
}

// OrphanedBlob — blob, оставшийся в хранилище после удаления метаданных.
// Хранится в таблице orphaned_blobs до успешной повторной очистки.
type OrphanedBlob struct {
	StoragePath   string
	FileID        string
	OwnerID       string
	LastError     string
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}
