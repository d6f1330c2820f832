// handler.go — обработчики REST API Firestream Console.
// Объединяют доменные сервисы и делегируют им запросы; права проверяет
// middleware.Authenticator до вызова обработчика.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/service"
)

// FileOrchestrator — операции над файлами владельца.
type FileOrchestrator interface {
	List(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	Upload(ctx context.Context, ownerID string, in service.UploadInput) (*model.FileRecord, error)
	UploadBatch(ctx context.Context, ownerID string, inputs []service.UploadInput) []service.UploadResult
	Delete(ctx context.Context, ownerID, fileID string) (*service.DeleteResult, error)
}

// KeyRegistry — реестр API-ключей.
type KeyRegistry interface {
	Create(ctx context.Context, name, permission, ownerID string) (*model.APIKey, error)
	UpdatePermission(ctx context.Context, id, permission string) (*model.APIKey, error)
	Revoke(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.APIKey, error)
}

// UserDirectory — администрирование пользователей.
type UserDirectory interface {
	List(ctx context.Context) ([]*model.User, error)
	UpdateRole(ctx context.Context, id, role string) (*model.User, error)
	Delete(ctx context.Context, id string) error
	EnsureUser(ctx context.Context, id, name, email string) (*model.User, error)
}

// APIHandler — обработчик REST API файлов, ключей и пользователей.
type APIHandler struct {
	files         FileOrchestrator
	keys          KeyRegistry
	users         UserDirectory
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// maxUploadSize — предел размера одного файла при приёме multipart-тела.
func NewAPIHandler(files FileOrchestrator, keys KeyRegistry, users UserDirectory, maxUploadSize int64, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		files:         files,
		keys:          keys,
		users:         users,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// listResponse — ответ со списком элементов.
type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newListResponse[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}
