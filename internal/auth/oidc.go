package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken — bearer JWT не прошёл проверку.
var ErrInvalidToken = errors.New("невалидный или просроченный токен")

// Identity — пользователь, подтверждённый OIDC-провайдером.
type Identity struct {
	// Subject — sub из JWT, используется как ID пользователя
	Subject string
	Email   string
	Name    string
}

// oidcClaims — claims JWT, нужные консоли.
type oidcClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// TokenVerifier проверяет bearer JWT через JWKS OIDC-провайдера.
type TokenVerifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	logger *slog.Logger
}

// NewTokenVerifier создаёт верификатор с фоновым обновлением JWKS.
// Старт не блокируется недоступностью провайдера.
func NewTokenVerifier(jwksURL, issuer string, refreshInterval time.Duration, logger *slog.Logger) (*TokenVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewTokenVerifierWithKeyfunc(k, issuer, logger), nil
}

// NewTokenVerifierWithKeyfunc создаёт верификатор с готовой keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewTokenVerifierWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *TokenVerifier {
	return &TokenVerifier{
		jwks:   kf,
		issuer: issuer,
		logger: logger.With(slog.String("component", "oidc")),
	}
}

// Verify проверяет подпись (RS256), срок действия и issuer токена.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	claims := &oidcClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		v.logger.Debug("JWT валидация не пройдена", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: отсутствует sub", ErrInvalidToken)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}

	return &Identity{Subject: subject, Email: claims.Email, Name: name}, nil
}
