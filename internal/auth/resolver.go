package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Source — откуда получена личность вызывающего.
type Source string

const (
	SourceCookie Source = "cookie"
	SourceBearer Source = "bearer"
)

// ResolvedIdentity — личность интерактивной сессии.
type ResolvedIdentity struct {
	Identity
	Source Source
}

// Resolver извлекает интерактивную сессию из запроса: сначала cookie,
// затем заголовок Authorization: Bearer. Любой из механизмов может быть
// отключён (nil).
type Resolver struct {
	sessions *SessionManager
	verifier *TokenVerifier
	logger   *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(sessions *SessionManager, verifier *TokenVerifier, logger *slog.Logger) *Resolver {
	return &Resolver{
		sessions: sessions,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "session_resolver")),
	}
}

// Sessions возвращает менеджер cookie-сессий (nil если отключены).
func (r *Resolver) Sessions() *SessionManager {
	return r.sessions
}

// Resolve возвращает личность из запроса или nil, если валидной сессии нет.
// Невалидная или истёкшая сессия трактуется как отсутствующая.
func (r *Resolver) Resolve(req *http.Request) *ResolvedIdentity {
	if r.sessions != nil {
		data, err := r.sessions.GetSessionFromRequest(req)
		switch {
		case err != nil:
			r.logger.Debug("Cookie-сессия отклонена", slog.String("error", err.Error()))
		case data != nil:
			return &ResolvedIdentity{
				Identity: Identity{Subject: data.UserID, Email: data.Email, Name: data.Name},
				Source:   SourceCookie,
			}
		}
	}

	id, err := r.VerifyBearer(req)
	if err != nil {
		r.logger.Debug("Bearer-токен отклонён", slog.String("error", err.Error()))
		return nil
	}
	if id == nil {
		return nil
	}
	return &ResolvedIdentity{Identity: *id, Source: SourceBearer}
}

// VerifyBearer проверяет bearer JWT запроса.
// Возвращает nil, nil если заголовка нет или OIDC отключён.
func (r *Resolver) VerifyBearer(req *http.Request) (*Identity, error) {
	if r.verifier == nil {
		return nil, nil
	}
	token := BearerToken(req)
	if token == "" {
		return nil, nil
	}
	return r.verifier.Verify(req.Context(), token)
}

// BearerToken извлекает токен из заголовка Authorization: Bearer.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
