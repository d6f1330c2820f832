package model

import "time"

// User — пользователь консоли, владелец файлов и ключей.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// Role — ADMIN или USER
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CredentialKind — способ, которым вызывающий подтвердил личность.
type CredentialKind string

const (
	// CredentialSession — интерактивная сессия (cookie или OIDC JWT).
	CredentialSession CredentialKind = "session"
	// CredentialAPIKey — программный вызов с API-ключом.
	CredentialAPIKey CredentialKind = "api_key"
)

// Principal — идентифицированный и авторизованный вызывающий.
// Формируется Authorization Gate до вызова сервисов.
type Principal struct {
	// UserID — владелец ресурсов, от имени которого выполняется операция
	UserID string
	// Kind — тип учётных данных
	Kind CredentialKind
	// Role — роль пользователя (только для сессий)
	Role string
	// Permission — права ключа (только для API-ключей)
	Permission string
	// APIKeyID — ID ключа (только для API-ключей)
	APIKeyID string
}
