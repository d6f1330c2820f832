// Пакет server — HTTP-сервер Firestream Console с graceful shutdown.
// Без TLS: TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/firestream-console/internal/api/handlers"
	"github.com/bigkaa/firestream-console/internal/api/middleware"
	"github.com/bigkaa/firestream-console/internal/config"
	"github.com/bigkaa/firestream-console/internal/domain/rbac"
)

// Server — HTTP-сервер Firestream Console.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	api *handlers.APIHandler,
	sessions *handlers.SessionHandler,
	health *handlers.HealthHandler,
	authn *middleware.Authenticator,
) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, api, sessions, health, authn),
		ReadHeaderTimeout: 10 * time.Second,
		// ReadTimeout и WriteTimeout не задаются: загрузка файла до
		// FC_MAX_UPLOAD_SIZE ограничена таймаутом blob store.
		IdleTimeout: 120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты. Health и metrics доступны без аутентификации.
func NewRouter(
	logger *slog.Logger,
	api *handlers.APIHandler,
	sessions *handlers.SessionHandler,
	health *handlers.HealthHandler,
	authn *middleware.Authenticator,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", sessions.CreateSession)
		r.Delete("/session", sessions.DeleteSession)

		r.With(authn.Require(rbac.OpListFiles)).Get("/files", api.ListFiles)
		r.With(authn.Require(rbac.OpUpload)).Post("/files", api.UploadFiles)
		r.With(authn.Require(rbac.OpDeleteFile)).Delete("/files/{id}", api.DeleteFile)

		r.Group(func(r chi.Router) {
			r.Use(authn.Require(rbac.OpManageKeys))
			r.Get("/api-keys", api.ListAPIKeys)
			r.Post("/api-keys", api.CreateAPIKey)
			r.Patch("/api-keys/{id}", api.UpdateAPIKeyPermission)
			r.Delete("/api-keys/{id}", api.RevokeAPIKey)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn.Require(rbac.OpManageUsers))
			r.Get("/users", api.ListUsers)
			r.Patch("/users/{id}", api.UpdateUserRole)
			r.Delete("/users/{id}", api.DeleteUser)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
