// api_keys.go — обработчики /api/v1/api-keys.
// Токен отдаётся в открытом виде только при создании и при ?reveal=true;
// в остальных ответах он маскируется.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/firestream-console/internal/api/errors"
	"github.com/bigkaa/firestream-console/internal/api/middleware"
	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/service"
)

type apiKeyResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key"`
	Permission string    `json:"permission"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func mapAPIKey(k *model.APIKey, reveal bool) apiKeyResponse {
	key := k.Key
	if !reveal {
		key = service.MaskToken(key)
	}
	return apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Key:        key,
		Permission: k.Permission,
		OwnerID:    k.OwnerID,
		CreatedAt:  k.CreatedAt,
		UpdatedAt:  k.UpdatedAt,
	}
}

type createAPIKeyRequest struct {
	Name       string `json:"name"`
	Permission string `json:"permission"`
}

type updateAPIKeyRequest struct {
	Permission string `json:"permission"`
}

// ListAPIKeys — GET /api/v1/api-keys[?reveal=true].
func (h *APIHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	reveal := revealRequested(r)
	items := make([]apiKeyResponse, len(keys))
	for i, k := range keys {
		items[i] = mapAPIKey(k, reveal)
	}

	writeJSON(w, http.StatusOK, newListResponse(items))
}

// CreateAPIKey — POST /api/v1/api-keys.
// Владелец ключа — администратор, выполняющий запрос.
func (h *APIHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	p := middleware.PrincipalFromContext(r.Context())
	key, err := h.keys.Create(r.Context(), req.Name, req.Permission, principalID(p))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, mapAPIKey(key, true))
}

// UpdateAPIKeyPermission — PATCH /api/v1/api-keys/{id}.
func (h *APIHandler) UpdateAPIKeyPermission(w http.ResponseWriter, r *http.Request) {
	var req updateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	key, err := h.keys.UpdatePermission(r.Context(), chi.URLParam(r, "id"), req.Permission)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, mapAPIKey(key, revealRequested(r)))
}

// RevokeAPIKey — DELETE /api/v1/api-keys/{id}.
func (h *APIHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func revealRequested(r *http.Request) bool {
	reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal"))
	return reveal
}
