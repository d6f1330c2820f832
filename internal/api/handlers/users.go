// users.go — обработчики /api/v1/users: список, смена роли, удаление.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/firestream-console/internal/api/errors"
	"github.com/bigkaa/firestream-console/internal/api/middleware"
	"github.com/bigkaa/firestream-console/internal/service"
)

type updateUserRequest struct {
	Role string `json:"role"`
}

// ListUsers — GET /api/v1/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(users))
}

// UpdateUserRole — PATCH /api/v1/users/{id}.
func (h *APIHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	user, err := h.users.UpdateRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser — DELETE /api/v1/users/{id}.
// Удалить собственную учётную запись нельзя.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if p := middleware.PrincipalFromContext(r.Context()); p != nil && p.UserID == id {
		apierrors.WriteServiceError(w, h.logger, fmt.Errorf("%w: нельзя удалить собственную учётную запись", service.ErrValidation))
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
