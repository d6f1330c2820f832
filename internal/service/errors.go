// errors.go — ошибки бизнес-логики сервисного слоя.
// HTTP-слой сопоставляет их со стабильными кодами через errors.Is.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/firestream-console/internal/blobclient"
	"github.com/bigkaa/firestream-console/internal/config"
)

var (
	// ErrUnauthorized — вызывающий не идентифицирован или ключ недостаточен.
	ErrUnauthorized = errors.New("требуется аутентификация")
	// ErrForbidden — сессия валидна, но роль не допускает операцию.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrNotFound — ресурс не найден (или принадлежит другому владельцу).
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConfiguration — не задан адрес или сервисный ключ blob store.
	ErrConfiguration = config.ErrConfiguration
	// ErrPayloadTooLarge — файл превышает допустимый размер.
	ErrPayloadTooLarge = errors.New("файл слишком большой")
	// ErrCredentialRejected — blob store отклонил сервисный ключ.
	ErrCredentialRejected = errors.New("blob store отклонил сервисный ключ")
	// ErrStorageUnavailable — blob store недоступен.
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrUpstreamTimeout — blob store не ответил вовремя.
	ErrUpstreamTimeout = errors.New("хранилище не ответило вовремя")
	// ErrUpstreamUploadFailed — прочая ошибка blob store.
	ErrUpstreamUploadFailed = errors.New("ошибка загрузки в хранилище")
)

// mapBlobError переводит ошибку blobclient в таксономию сервиса.
// Исходная ошибка сохраняется в цепочке для логов.
func mapBlobError(err error) error {
	var kind error
	switch {
	case errors.Is(err, blobclient.ErrNotConfigured):
		kind = ErrConfiguration
	case errors.Is(err, blobclient.ErrUnauthorized):
		kind = ErrCredentialRejected
	case errors.Is(err, blobclient.ErrPayloadTooLarge):
		kind = ErrPayloadTooLarge
	case errors.Is(err, blobclient.ErrUnavailable):
		kind = ErrStorageUnavailable
	case errors.Is(err, blobclient.ErrTimeout):
		kind = ErrUpstreamTimeout
	default:
		kind = ErrUpstreamUploadFailed
	}
	return fmt.Errorf("%w: %w", kind, err)
}
