// auth.go — middleware аутентификации и авторизации Firestream Console.
// Интерактивная сессия (cookie или OIDC bearer JWT) проверяется первой;
// без сессии используется API-ключ из заголовка x-api-key. Решение о допуске
// принимает Authorization Gate сервисного слоя.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/firestream-console/internal/api/errors"
	"github.com/bigkaa/firestream-console/internal/auth"
	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/domain/rbac"
	"github.com/bigkaa/firestream-console/internal/service"
)

// APIKeyHeader — заголовок с API-ключом вызывающего.
const APIKeyHeader = "x-api-key"

// contextKey — тип ключа для context.
type contextKey string

const principalKey contextKey = "principal"

// Authorizer — Authorization Gate.
type Authorizer interface {
	Authorize(ctx context.Context, creds service.Credentials, op rbac.Operation) (*model.Principal, error)
}

// UserProvisioner заводит пользователя при первом входе через OIDC.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, id, name, email string) (*model.User, error)
}

// SessionResolver извлекает интерактивную сессию из запроса.
type SessionResolver interface {
	Resolve(r *http.Request) *auth.ResolvedIdentity
}

// Authenticator — middleware, связывающий разбор учётных данных с Gate.
type Authenticator struct {
	sessions SessionResolver
	gate     Authorizer
	users    UserProvisioner
	logger   *slog.Logger
}

// NewAuthenticator создаёт Authenticator.
func NewAuthenticator(sessions SessionResolver, gate Authorizer, users UserProvisioner, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		sessions: sessions,
		gate:     gate,
		users:    users,
		logger:   logger.With(slog.String("component", "authenticator")),
	}
}

// Require возвращает middleware, допускающий запрос только если Gate
// разрешает операцию op. Principal сохраняется в context запроса.
func (a *Authenticator) Require(op rbac.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := a.credentials(r)
			if err != nil {
				apierrors.WriteServiceError(w, a.logger, err)
				return
			}

			principal, err := a.gate.Authorize(r.Context(), creds, op)
			if err != nil {
				apierrors.WriteServiceError(w, a.logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// credentials собирает учётные данные запроса.
// Bearer-личность без записи в users заводится через UserProvisioner.
func (a *Authenticator) credentials(r *http.Request) (service.Credentials, error) {
	creds := service.Credentials{APIKey: r.Header.Get(APIKeyHeader)}

	id := a.sessions.Resolve(r)
	if id == nil {
		return creds, nil
	}

	if id.Source == auth.SourceBearer && a.users != nil {
		if _, err := a.users.EnsureUser(r.Context(), id.Subject, id.Name, id.Email); err != nil {
			if errors.Is(err, service.ErrValidation) {
				// Токен без email или с занятым email: сессия не принимается
				a.logger.Warn("Не удалось завести пользователя по OIDC-токену",
					slog.String("subject", id.Subject),
					slog.String("error", err.Error()),
				)
				return creds, nil
			}
			return creds, err
		}
	}

	creds.SessionUserID = id.Subject
	return creds, nil
}

// WithPrincipal сохраняет Principal в context.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext извлекает Principal из context запроса.
// Возвращает nil если запрос не прошёл через Require.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey).(*model.Principal)
	return p
}
