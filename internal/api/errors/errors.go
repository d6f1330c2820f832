// Пакет errors — ответы с ошибками Firestream Console.
// Единый формат: {"error": {"code": "...", "message": "...", "retryable": bool}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/firestream-console/internal/service"
)

// Стабильные коды ошибок API.
const (
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeConfigurationError   = "CONFIGURATION_ERROR"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeCredentialRejected   = "CREDENTIAL_REJECTED"
	CodeStorageUnavailable   = "STORAGE_UNAVAILABLE"
	CodeUpstreamTimeout      = "UPSTREAM_TIMEOUT"
	CodeUpstreamUploadFailed = "UPSTREAM_UPLOAD_FAILED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// ErrorBody — тело ответа ошибки.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeDetail(w, statusCode, ErrorDetail{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	})
}

func writeDetail(w http.ResponseWriter, statusCode int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: detail})
}

// mapping — соответствие ошибки сервиса HTTP-статусу и коду.
type mapping struct {
	target  error
	status  int
	code    string
	message string
}

// serviceMappings — ошибка сервиса → HTTP-статус и код.
// Пустой message — клиенту отдаётся текст самой ошибки.
var serviceMappings = []mapping{
	{service.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized, "Требуется аутентификация"},
	{service.ErrForbidden, http.StatusForbidden, CodeForbidden, "Недостаточно прав"},
	{service.ErrNotFound, http.StatusNotFound, CodeNotFound, "Ресурс не найден"},
	{service.ErrValidation, http.StatusBadRequest, CodeValidationError, ""},
	{service.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Файл превышает допустимый размер"},
	{service.ErrConfiguration, http.StatusInternalServerError, CodeConfigurationError, "Blob store не настроен"},
	{service.ErrCredentialRejected, http.StatusBadGateway, CodeCredentialRejected, "Blob store отклонил сервисный ключ"},
	{service.ErrStorageUnavailable, http.StatusServiceUnavailable, CodeStorageUnavailable, "Хранилище недоступно"},
	{service.ErrUpstreamTimeout, http.StatusGatewayTimeout, CodeUpstreamTimeout, "Хранилище не ответило вовремя"},
	{service.ErrUpstreamUploadFailed, http.StatusBadGateway, CodeUpstreamUploadFailed, "Ошибка загрузки в хранилище"},
}

// Describe возвращает HTTP-статус и детали ответа для ошибки сервиса.
// Неизвестные ошибки — 500 INTERNAL_ERROR без подробностей.
func Describe(err error) (int, ErrorDetail) {
	for _, m := range serviceMappings {
		if !stderrors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		return m.status, ErrorDetail{Code: m.code, Message: msg, Retryable: isRetryable(m.code)}
	}
	return http.StatusInternalServerError, ErrorDetail{Code: CodeInternalError, Message: "Внутренняя ошибка сервера"}
}

// WriteServiceError записывает ответ для ошибки сервисного слоя.
// Ошибки зависимостей логируются в WARN, неизвестные в ERROR.
func WriteServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, detail := Describe(err)
	switch {
	case detail.Code == CodeInternalError:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
	case status >= http.StatusInternalServerError:
		logger.Warn("Ошибка зависимости", slog.String("code", detail.Code), slog.String("error", err.Error()))
	}
	writeDetail(w, status, detail)
}

func isRetryable(code string) bool {
	switch code {
	case CodeStorageUnavailable, CodeUpstreamTimeout, CodeUpstreamUploadFailed:
		return true
	}
	return false
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
