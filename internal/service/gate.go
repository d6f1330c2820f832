// gate.go — Authorization Gate: решение о допуске вызывающего к операции.
//
// Порядок проверки:
//  1. Сессия (cookie или OIDC JWT, уже разобранная HTTP-слоем) → пользователь
//     из таблицы users; роль должна допускать операцию.
//  2. Без сессии — API-ключ из заголовка x-api-key; право ключа должно
//     покрывать операцию. Администрирование через ключ недоступно.
//  3. Иначе — ErrUnauthorized.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/domain/rbac"
	"github.com/bigkaa/firestream-console/internal/repository"
)

var gateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fc_gate_decisions_total",
	Help: "Решения Authorization Gate по типу учётных данных и результату",
}, []string{"credential", "result"})

// Credentials — учётные данные запроса.
type Credentials struct {
	// SessionUserID — пользователь интерактивной сессии (пустой — сессии нет)
	SessionUserID string
	// APIKey — токен из заголовка x-api-key (пустой — ключа нет)
	APIKey string
}

// Gate — Authorization Gate.
type Gate struct {
	users  repository.UserRepository
	keys   *APIKeyService
	logger *slog.Logger
}

// NewGate создаёт Authorization Gate.
func NewGate(users repository.UserRepository, keys *APIKeyService, logger *slog.Logger) *Gate {
	return &Gate{
		users:  users,
		keys:   keys,
		logger: logger.With(slog.String("component", "gate")),
	}
}

// Authorize проверяет учётные данные и возвращает Principal,
// от имени которого выполняется операция.
func (g *Gate) Authorize(ctx context.Context, creds Credentials, op rbac.Operation) (*model.Principal, error) {
	switch {
	case creds.SessionUserID != "":
		p, err := g.authorizeSession(ctx, creds.SessionUserID, op)
		gateDecisionsTotal.WithLabelValues(string(model.CredentialSession), decisionLabel(err)).Inc()
		return p, err
	case creds.APIKey != "":
		p, err := g.authorizeAPIKey(ctx, creds.APIKey, op)
		gateDecisionsTotal.WithLabelValues(string(model.CredentialAPIKey), decisionLabel(err)).Inc()
		return p, err
	default:
		gateDecisionsTotal.WithLabelValues("none", decisionLabel(ErrUnauthorized)).Inc()
		return nil, ErrUnauthorized
	}
}

func (g *Gate) authorizeSession(ctx context.Context, userID string, op rbac.Operation) (*model.Principal, error) {
	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Сессия пользователя, удалённого после входа
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("получение пользователя сессии: %w", err)
	}

	if !rbac.RoleAllows(user.Role, op) {
		g.logger.Warn("Недостаточно прав для операции",
			slog.String("user_id", user.ID),
			slog.String("role", user.Role),
			slog.String("operation", string(op)),
		)
		return nil, ErrForbidden
	}

	return &model.Principal{
		UserID: user.ID,
		Kind:   model.CredentialSession,
		Role:   user.Role,
	}, nil
}

func (g *Gate) authorizeAPIKey(ctx context.Context, token string, op rbac.Operation) (*model.Principal, error) {
	// API-ключ не допускается к администрированию ни при каком праве
	if rbac.IsAdminOperation(op) {
		return nil, ErrUnauthorized
	}

	key, err := g.keys.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if !rbac.PermissionAllows(key.Permission, op) {
		g.logger.Debug("Права API-ключа не покрывают операцию",
			slog.String("key_id", key.ID),
			slog.String("permission", key.Permission),
			slog.String("operation", string(op)),
		)
		return nil, ErrUnauthorized
	}

	return &model.Principal{
		UserID:     key.OwnerID,
		Kind:       model.CredentialAPIKey,
		Permission: key.Permission,
		APIKeyID:   key.ID,
	}, nil
}

func decisionLabel(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
