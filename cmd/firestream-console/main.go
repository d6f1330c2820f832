// Точка входа Firestream Console — административной консоли файлового хостинга.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиент blob store, сервисный слой и API handlers,
// запускает фоновые задачи (очистка осиротевших blob, topologymetrics)
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/firestream-console/internal/api/handlers"
	"github.com/bigkaa/firestream-console/internal/api/middleware"
	"github.com/bigkaa/firestream-console/internal/auth"
	"github.com/bigkaa/firestream-console/internal/blobclient"
	"github.com/bigkaa/firestream-console/internal/config"
	"github.com/bigkaa/firestream-console/internal/database"
	"github.com/bigkaa/firestream-console/internal/repository"
	"github.com/bigkaa/firestream-console/internal/server"
	"github.com/bigkaa/firestream-console/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Firestream Console запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("FC_DEPHEALTH_GROUP") == "" {
		logger.Warn("FC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	fileRepo := repository.NewFileRepository(pool)
	orphanRepo := repository.NewOrphanRepository(pool)
	keyRepo := repository.NewAPIKeyRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	// 6. Клиент blob store
	blob, err := blobclient.New(blobclient.Options{
		BaseURL:     cfg.BlobStoreURL,
		APIKey:      cfg.BlobStoreAPIKey,
		Timeout:     cfg.BlobStoreTimeout,
		DialTimeout: cfg.BlobStoreDialTimeout,
		CACertPath:  cfg.BlobStoreCACertPath,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента blob store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент blob store создан", slog.String("url", cfg.BlobStoreURL))

	// 7. Services
	listCache := service.NewListingCache(cfg.ListCacheSize, cfg.ListCacheTTL)
	if listCache.Enabled() {
		logger.Warn("Кэш списков файлов включён: допустим только один экземпляр консоли",
			slog.String("ttl", cfg.ListCacheTTL.String()),
		)
	}
	filesSvc := service.NewFileService(fileRepo, orphanRepo, blob, listCache, service.FileServiceConfig{
		MaxUploadSize:     cfg.MaxUploadSize,
		BlobTimeout:       cfg.BlobStoreTimeout,
		BlobDeleteTimeout: cfg.BlobStoreDeleteTimeout,
		DBTimeout:         cfg.DBTimeout,
		UploadConcurrency: cfg.UploadConcurrency,
	}, logger)
	keysSvc := service.NewAPIKeyService(keyRepo, logger)
	usersSvc := service.NewUserService(userRepo, listCache, logger)
	usersSvc.SetBootstrapAdmins(cfg.BootstrapAdminEmails)
	gate := service.NewGate(userRepo, keysSvc, logger)

	// 8. Фоновая очистка осиротевших blob
	sweeper := service.NewOrphanSweeper(
		orphanRepo, blob,
		cfg.OrphanSweepBatch, cfg.OrphanSweepInterval, cfg.BlobStoreDeleteTimeout,
		logger,
	)
	sweeper.Start(ctx)

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + blob store)
	// Без topologymetrics проверка blob store остаётся "degraded", но не "fail"
	var depReporter handlers.HealthReporter
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:           "firestream-console",
		Group:               cfg.DephealthGroup,
		DB:                  pgDB,
		PgURL:               cfg.DatabaseURL(),
		BlobStoreURL:        cfg.BlobStoreURL,
		BlobStoreHealthPath: cfg.BlobStoreHealthPath,
		CheckInterval:       cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		depReporter = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. Аутентификация: cookie-сессии и bearer-токены OIDC
	var sessionMgr *auth.SessionManager
	if cfg.SessionSecret != "" {
		sessionMgr, err = auth.NewSessionManager(cfg.SessionSecret, cfg.SessionCookieSecure)
		if err != nil {
			logger.Error("Ошибка создания Session Manager", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("FC_SESSION_SECRET не задан, cookie-сессии отключены")
	}

	var verifier *auth.TokenVerifier
	if cfg.OIDCJWKSURL != "" {
		verifier, err = auth.NewTokenVerifier(cfg.OIDCJWKSURL, cfg.OIDCIssuer, cfg.OIDCJWKSRefreshInterval, logger)
		if err != nil {
			logger.Error("Ошибка создания OIDC verifier", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("OIDC verifier инициализирован",
			slog.String("jwks_url", cfg.OIDCJWKSURL),
			slog.String("issuer", cfg.OIDCIssuer),
		)
	} else {
		logger.Info("FC_OIDC_JWKS_URL не задан, bearer-токены не принимаются")
	}
	resolver := auth.NewResolver(sessionMgr, verifier, logger)

	// 11. Handlers
	apiHandler := handlers.NewAPIHandler(filesSvc, keysSvc, usersSvc, cfg.MaxUploadSize, logger)
	sessionHandler := handlers.NewSessionHandler(sessionMgr, resolver, usersSvc, logger)
	healthHandler := handlers.NewHealthHandler().
		AddCheck("postgresql", database.NewReadinessChecker(pool)).
		AddCheck("blob_store", handlers.NewDependencyChecker(depReporter, "blob-store", "degraded"))

	// 12. Создание и запуск HTTP-сервера
	authn := middleware.NewAuthenticator(resolver, gate, usersSvc, logger)
	srv := server.New(cfg, logger, apiHandler, sessionHandler, healthHandler, authn)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	sweeper.Stop()

	logger.Info("Firestream Console остановлен")
}
