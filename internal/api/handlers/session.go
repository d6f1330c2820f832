// session.go — обмен bearer JWT OIDC-провайдера на cookie-сессию.
// Логин происходит у провайдера; консоль лишь проверяет токен,
// заводит пользователя при первом входе и выдаёт зашифрованный cookie.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/firestream-console/internal/api/errors"
	"github.com/bigkaa/firestream-console/internal/auth"
)

// BearerVerifier проверяет bearer JWT запроса.
type BearerVerifier interface {
	VerifyBearer(r *http.Request) (*auth.Identity, error)
}

// SessionHandler — обработчик /api/v1/session.
type SessionHandler struct {
	sessions *auth.SessionManager
	verifier BearerVerifier
	users    UserDirectory
	ttl      time.Duration
	logger   *slog.Logger
}

// NewSessionHandler создаёт обработчик сессий.
// sessions == nil — cookie-сессии отключены, обмен недоступен.
func NewSessionHandler(sessions *auth.SessionManager, verifier BearerVerifier, users UserDirectory, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		verifier: verifier,
		users:    users,
		ttl:      auth.SessionTTL,
		logger:   logger.With(slog.String("component", "session_handler")),
	}
}

type sessionResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession — POST /api/v1/session (Authorization: Bearer <JWT>).
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		apierrors.NotFound(w, "Cookie-сессии отключены")
		return
	}

	id, err := h.verifier.VerifyBearer(r)
	if err != nil || id == nil {
		apierrors.Unauthorized(w, "Требуется валидный bearer-токен")
		return
	}

	user, err := h.users.EnsureUser(r.Context(), id.Subject, id.Name, id.Email)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	expiresAt := time.Now().Add(h.ttl)
	data := &auth.SessionData{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		ExpiresAt: expiresAt.Unix(),
	}
	if err := h.sessions.SetSessionCookie(w, data); err != nil {
		h.logger.Error("Ошибка выдачи cookie-сессии", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось создать сессию")
		return
	}

	h.logger.Info("Сессия создана", slog.String("user_id", user.ID))
	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		ExpiresAt: time.Unix(data.ExpiresAt, 0).UTC(),
	})
}

// DeleteSession — DELETE /api/v1/session (logout).
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions != nil {
		h.sessions.ClearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
