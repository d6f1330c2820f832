package model

import "time"

// APIKey — программный ключ доступа.
// Хранится в таблице api_keys. Токен Key генерируется один раз при создании;
// изменение возможностей — только через поле Permission.
type APIKey struct {
	// ID — UUID записи
	ID string `json:"id"`
	// Name — человекочитаемое название (не уникально)
	Name string `json:"name"`
	// Key — секретный токен в открытом виде (sk_...)
	Key string `json:"key"`
	// Permission — READ, WRITE, DELETE или FULL_ACCESS
	Permission string `json:"permission"`
	// OwnerID — пользователь, создавший ключ
	OwnerID string `json:"owner_id"`
	// CreatedAt — время создания
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt — время последнего изменения прав
	UpdatedAt time.Time `json:"updated_at"`
}
