// Пакет config — загрузка и валидация конфигурации Firestream Console
// из переменных окружения (и опционального .env файла).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// ErrConfiguration — обязательный параметр конфигурации отсутствует или некорректен.
// Проверяется через errors.Is на старте приложения.
var ErrConfiguration = errors.New("ошибка конфигурации")

// DefaultMaxUploadSize — максимальный размер загружаемого файла по умолчанию (1 GiB).
const DefaultMaxUploadSize int64 = 1 << 30

// Config содержит все параметры конфигурации Firestream Console.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Таймаут одной операции с хранилищем метаданных
	DBTimeout time.Duration
	// Размер пула: максимум и минимум открытых соединений
	DBMaxConns int32
	DBMinConns int32
	// Простаивающее соединение закрывается по истечении этого времени
	DBMaxConnIdleTime time.Duration

	// --- Blob store ---

	// Базовый адрес удалённого blob store (например, https://files.example.com)
	BlobStoreURL string
	// Сервисный ключ blob store (заголовок x-api-key). Не ключ вызывающего.
	BlobStoreAPIKey string
	// Общий таймаут HTTP-запроса к blob store
	BlobStoreTimeout time.Duration
	// Таймаут установки TCP-соединения с blob store
	BlobStoreDialTimeout time.Duration
	// Таймаут удаления blob: короче общего, рассчитанного на передачу файла
	BlobStoreDeleteTimeout time.Duration
	// Путь к CA-сертификату blob store (пустой — системный пул)
	BlobStoreCACertPath string
	// Путь health-проверки blob store для topologymetrics
	BlobStoreHealthPath string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Количество параллельных загрузок в пакете
	UploadConcurrency int

	// --- Сессии ---

	// Ключ шифрования cookie-сессий (пустой — cookie-сессии отключены)
	SessionSecret string
	// Флаг Secure для session cookie (false только для локальной разработки по HTTP)
	SessionCookieSecure bool
	// Email пользователей, получающих роль ADMIN при первом входе
	BootstrapAdminEmails []string
	// URL JWKS endpoint OIDC-провайдера (пустой — bearer-сессии отключены)
	OIDCJWKSURL string
	// Ожидаемый issuer JWT
	OIDCIssuer string
	// Интервал обновления JWKS
	OIDCJWKSRefreshInterval time.Duration

	// --- Кэш и фоновые задачи ---

	// Максимальное число владельцев в кэше списков файлов
	ListCacheSize int
	// Время жизни записи кэша списков файлов
	ListCacheTTL time.Duration
	// Интервал повторной очистки осиротевших blob (0 — отключено)
	OrphanSweepInterval time.Duration
	// Размер пачки при очистке осиротевших blob
	OrphanSweepBatch int
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Группа зависимостей в метриках topologymetrics
	DephealthGroup string

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если в рабочем каталоге есть .env — значения из него подставляются
// только для переменных, не заданных в окружении.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: чтение .env: %v", ErrConfiguration, err)
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("FC_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: FC_PORT: значение %d вне диапазона 1-65535", ErrConfiguration, cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FC_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("%w: FC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", ErrConfiguration, cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("FC_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("FC_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FC_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("FC_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("FC_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("FC_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("FC_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("%w: FC_DB_SSL_MODE: недопустимое значение %q", ErrConfiguration, cfg.DBSSLMode)
	}

	cfg.DBTimeout, err = getEnvDuration("FC_DB_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FC_DB_TIMEOUT: %w", err)
	}

	maxConns, err := getEnvInt("FC_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("FC_DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("FC_DB_MIN_CONNS", 0)
	if err != nil {
		return nil, fmt.Errorf("FC_DB_MIN_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 1000 || minConns < 0 || minConns > maxConns {
		return nil, fmt.Errorf("%w: FC_DB_MIN_CONNS/FC_DB_MAX_CONNS: требуется 0 <= min <= max, 1 <= max <= 1000 (получено %d/%d)",
			ErrConfiguration, minConns, maxConns)
	}
	cfg.DBMaxConns, cfg.DBMinConns = int32(maxConns), int32(minConns)

	cfg.DBMaxConnIdleTime, err = getEnvDuration("FC_DB_MAX_CONN_IDLE_TIME", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FC_DB_MAX_CONN_IDLE_TIME: %w", err)
	}

	// --- Blob store ---

	// FC_BLOBSTORE_URL и FC_BLOBSTORE_API_KEY — обязательные:
	// без них ни загрузка, ни удаление невозможны.
	if cfg.BlobStoreURL, err = getEnvRequired("FC_BLOBSTORE_URL"); err != nil {
		return nil, err
	}
	cfg.BlobStoreURL = strings.TrimRight(cfg.BlobStoreURL, "/")
	if u, parseErr := url.Parse(cfg.BlobStoreURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: FC_BLOBSTORE_URL: некорректный URL %q", ErrConfiguration, cfg.BlobStoreURL)
	}

	if cfg.BlobStoreAPIKey, err = getEnvRequired("FC_BLOBSTORE_API_KEY"); err != nil {
		return nil, err
	}

	cfg.BlobStoreTimeout, err = getEnvDuration("FC_BLOBSTORE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FC_BLOBSTORE_TIMEOUT: %w", err)
	}
	cfg.BlobStoreDialTimeout, err = getEnvDuration("FC_BLOBSTORE_DIAL_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FC_BLOBSTORE_DIAL_TIMEOUT: %w", err)
	}
	cfg.BlobStoreDeleteTimeout, err = getEnvDuration("FC_BLOBSTORE_DELETE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FC_BLOBSTORE_DELETE_TIMEOUT: %w", err)
	}
	if cfg.BlobStoreDeleteTimeout <= 0 {
		return nil, fmt.Errorf("%w: FC_BLOBSTORE_DELETE_TIMEOUT должен быть положительным", ErrConfiguration)
	}
	cfg.BlobStoreCACertPath = getEnvDefault("FC_BLOBSTORE_CA_CERT_PATH", "")
	cfg.BlobStoreHealthPath = getEnvDefault("FC_BLOBSTORE_HEALTH_PATH", "/health")
	if !strings.HasPrefix(cfg.BlobStoreHealthPath, "/") {
		return nil, fmt.Errorf("%w: FC_BLOBSTORE_HEALTH_PATH должен начинаться с /", ErrConfiguration)
	}

	cfg.MaxUploadSize, err = getEnvInt64("FC_MAX_UPLOAD_SIZE", DefaultMaxUploadSize)
	if err != nil {
		return nil, fmt.Errorf("FC_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("%w: FC_MAX_UPLOAD_SIZE должен быть положительным", ErrConfiguration)
	}

	cfg.UploadConcurrency, err = getEnvInt("FC_UPLOAD_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("FC_UPLOAD_CONCURRENCY: %w", err)
	}
	if cfg.UploadConcurrency < 1 || cfg.UploadConcurrency > 64 {
		return nil, fmt.Errorf("%w: FC_UPLOAD_CONCURRENCY: значение %d вне диапазона 1-64", ErrConfiguration, cfg.UploadConcurrency)
	}

	// --- Сессии ---

	cfg.SessionSecret = getEnvDefault("FC_SESSION_SECRET", "")
	cfg.SessionCookieSecure, err = getEnvBool("FC_SESSION_COOKIE_SECURE", true)
	if err != nil {
		return nil, fmt.Errorf("FC_SESSION_COOKIE_SECURE: %w", err)
	}
	cfg.BootstrapAdminEmails = getEnvList("FC_BOOTSTRAP_ADMIN_EMAILS")
	cfg.OIDCJWKSURL = getEnvDefault("FC_OIDC_JWKS_URL", "")
	cfg.OIDCIssuer = getEnvDefault("FC_OIDC_ISSUER", "")
	cfg.OIDCJWKSRefreshInterval, err = getEnvDuration("FC_OIDC_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FC_OIDC_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Кэш и фоновые задачи ---

	cfg.ListCacheSize, err = getEnvInt("FC_LIST_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FC_LIST_CACHE_SIZE: %w", err)
	}
	if cfg.ListCacheSize < 1 {
		return nil, fmt.Errorf("%w: FC_LIST_CACHE_SIZE должен быть положительным", ErrConfiguration)
	}
	// 0 — кэш отключён; включать только при одном экземпляре консоли
	cfg.ListCacheTTL, err = getEnvDuration("FC_LIST_CACHE_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("FC_LIST_CACHE_TTL: %w", err)
	}
	if cfg.ListCacheTTL < 0 {
		return nil, fmt.Errorf("%w: FC_LIST_CACHE_TTL не может быть отрицательным", ErrConfiguration)
	}

	cfg.OrphanSweepInterval, err = getEnvDuration("FC_ORPHAN_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FC_ORPHAN_SWEEP_INTERVAL: %w", err)
	}
	cfg.OrphanSweepBatch, err = getEnvInt("FC_ORPHAN_SWEEP_BATCH", 100)
	if err != nil {
		return nil, fmt.Errorf("FC_ORPHAN_SWEEP_BATCH: %w", err)
	}
	if cfg.OrphanSweepBatch < 1 || cfg.OrphanSweepBatch > 10000 {
		return nil, fmt.Errorf("%w: FC_ORPHAN_SWEEP_BATCH: значение %d вне диапазона 1-10000", ErrConfiguration, cfg.OrphanSweepBatch)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("FC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FC_DEPHEALTH_GROUP", "firestream")

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("FC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%w: %s: обязательная переменная окружения не задана", ErrConfiguration, key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: некорректное целое число: %q", ErrConfiguration, val)
	}
	return n, nil
}

// getEnvInt64 — как getEnvInt, но для размеров в байтах.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: некорректное целое число: %q", ErrConfiguration, val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%w: некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", ErrConfiguration, val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%w: некорректное булево значение: %q", ErrConfiguration, val)
	}
	return b, nil
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: недопустимый уровень %q, допустимые: debug, info, warn, error", ErrConfiguration, level)
	}
}
