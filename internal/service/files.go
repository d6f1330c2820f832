// files.go — оркестратор файловых ресурсов.
//
// Метаданные (PostgreSQL) — источник истины, байты файлов живут в удалённом
// blob store. Распределённых транзакций нет, поэтому порядок операций фиксирован:
//   - Upload: сначала blob store, запись метаданных только после подтверждения.
//   - Delete: сначала метаданные, затем best-effort удаление blob.
//     Неудачное удаление blob не откатывает метаданные: blob фиксируется
//     в orphaned_blobs и подхватывается OrphanSweeper.
//
// Prometheus-метрики:
//   - fc_uploads_total — результаты загрузок
//   - fc_uploaded_bytes_total — объём загруженных данных
//   - fc_orphaned_blobs_total — blob, оставшиеся после удаления метаданных
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/firestream-console/internal/blobclient"
	"github.com/bigkaa/firestream-console/internal/domain/model"
	"github.com/bigkaa/firestream-console/internal/repository"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_uploads_total",
		Help: "Количество загрузок файлов по результатам",
	}, []string{"result"})

	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fc_uploaded_bytes_total",
		Help: "Объём успешно загруженных файлов в байтах (по ответу blob store)",
	})

	orphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fc_orphaned_blobs_total",
		Help: "Количество blob, оставшихся в хранилище после удаления метаданных",
	})
)

// BlobStore — операции удалённого хранилища, нужные оркестратору.
// Реализуется blobclient.Client.
type BlobStore interface {
	Configured() bool
	Upload(ctx context.Context, req blobclient.UploadRequest) (*blobclient.UploadedFile, error)
	Delete(ctx context.Context, storagePath string) error
}

// FileServiceConfig — неизменяемые параметры оркестратора.
type FileServiceConfig struct {
	// MaxUploadSize — максимальный размер файла в байтах
	MaxUploadSize int64
	// BlobTimeout — таймаут загрузки в blob store
	BlobTimeout time.Duration
	// BlobDeleteTimeout — таймаут удаления blob (0 — как BlobTimeout)
	BlobDeleteTimeout time.Duration
	// DBTimeout — таймаут одной операции с метаданными
	DBTimeout time.Duration
	// UploadConcurrency — число параллельных загрузок в пакете
	UploadConcurrency int
}

// UploadInput — один загружаемый файл.
type UploadInput struct {
	// Name — имя файла, указанное вызывающим
	Name string
	// MimeType — заявленный MIME-тип (может быть пустым)
	MimeType string
	// Size — заявленный размер; отрицательное значение — неизвестен
	Size int64
	// Body — содержимое файла
	Body io.Reader
}

// UploadResult — результат загрузки одного файла из пакета.
type UploadResult struct {
	Name string
	File *model.FileRecord
	Err  error
}

// DeleteResult — результат удаления файла.
// BlobRetained = true: метаданные удалены, но blob остался в хранилище
// и поставлен в очередь повторной очистки.
type DeleteResult struct {
	File         *model.FileRecord
	BlobRetained bool
}

// FileService — оркестратор файловых ресурсов.
type FileService struct {
	files   repository.FileRepository
	orphans repository.OrphanRepository
	blob    BlobStore
	cache   *ListingCache
	cfg     FileServiceConfig
	logger  *slog.Logger
}

// NewFileService создаёт оркестратор файловых ресурсов.
func NewFileService(
	files repository.FileRepository,
	orphans repository.OrphanRepository,
	blob BlobStore,
	cache *ListingCache,
	cfg FileServiceConfig,
	logger *slog.Logger,
) *FileService {
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = 1
	}
	if cfg.BlobDeleteTimeout <= 0 {
		cfg.BlobDeleteTimeout = cfg.BlobTimeout
	}
	return &FileService{
		files:   files,
		orphans: orphans,
		blob:    blob,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "file_service")),
	}
}

// List возвращает файлы владельца, новые первыми.
func (s *FileService) List(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}

	list, gen, ok := s.cache.Get(ownerID)
	if ok {
		return list, nil
	}

	dbCtx, cancel := s.dbContext(ctx)
	defer cancel()

	list, err := s.files.ListByOwner(dbCtx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("получение списка файлов: %w", err)
	}
	s.cache.Store(ownerID, gen, list)

	return list, nil
}

// Upload передаёт файл в blob store и создаёт запись метаданных
// по ответу хранилища (путь, размер и MIME-тип берутся из ответа).
//
// Обращение к blob store и запись метаданных выполняются в контексте,
// отвязанном от отмены вызывающего: если хранилище подтвердило приём,
// запись метаданных будет создана даже при обрыве клиентского соединения.
func (s *FileService) Upload(ctx context.Context, ownerID string, in UploadInput) (*model.FileRecord, error) {
	rec, err := s.upload(ctx, ownerID, in)
	uploadsTotal.WithLabelValues(uploadResultLabel(err)).Inc()
	return rec, err
}

func (s *FileService) upload(ctx context.Context, ownerID string, in UploadInput) (*model.FileRecord, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}

	name := cleanFileName(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: имя файла не задано", ErrValidation)
	}
	if in.Body == nil {
		return nil, fmt.Errorf("%w: содержимое файла не передано", ErrValidation)
	}
	if in.Size > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d байт при лимите %d", ErrPayloadTooLarge, in.Size, s.cfg.MaxUploadSize)
	}
	if !s.blob.Configured() {
		return nil, fmt.Errorf("%w: адрес или сервисный ключ blob store не заданы", ErrConfiguration)
	}

	body := &limitedBody{r: in.Body, remaining: s.cfg.MaxUploadSize}

	detached := context.WithoutCancel(ctx)
	blobCtx, cancel := context.WithTimeout(detached, s.cfg.BlobTimeout)
	uploaded, err := s.blob.Upload(blobCtx, blobclient.UploadRequest{
		FileName:    name,
		ContentType: in.MimeType,
		Body:        body,
	})
	cancel()

	if body.exceeded.Load() {
		if err == nil {
			// Хранилище приняло усечённое содержимое, удаляем его
			s.discardBlob(detached, &model.FileRecord{
				ID: uuid.New().String(), StoragePath: uploaded.Path, OwnerID: ownerID,
			}, "превышен лимит размера")
		}
		return nil, fmt.Errorf("%w: содержимое больше %d байт", ErrPayloadTooLarge, s.cfg.MaxUploadSize)
	}
	if err != nil {
		mapped := mapBlobError(err)
		s.logger.Warn("Ошибка загрузки в blob store",
			slog.String("owner_id", ownerID),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, mapped
	}

	rec := &model.FileRecord{
		ID:          uuid.New().String(),
		Name:        name,
		Size:        uploaded.Size,
		StoragePath: uploaded.Path,
		OwnerID:     ownerID,
	}
	if uploaded.MimeType != "" {
		mimeType := uploaded.MimeType
		rec.MimeType = &mimeType
	}

	dbCtx, cancelDB := s.dbContext(detached)
	err = s.files.Insert(dbCtx, rec)
	cancelDB()
	if err != nil {
		s.logger.Error("Ошибка записи метаданных после загрузки blob",
			slog.String("owner_id", ownerID),
			slog.String("storage_path", uploaded.Path),
			slog.String("error", err.Error()),
		)
		s.discardBlob(detached, rec, "ошибка записи метаданных: "+err.Error())
		return nil, fmt.Errorf("сохранение метаданных файла: %w", err)
	}

	s.cache.Invalidate(ownerID)
	uploadedBytesTotal.Add(float64(rec.Size))

	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("owner_id", ownerID),
		slog.String("storage_path", rec.StoragePath),
		slog.Int64("size", rec.Size),
	)

	return rec, nil
}

// UploadBatch загружает несколько файлов параллельно.
// Каждый файл — независимая операция: ошибка одного не отменяет остальные.
// Результаты возвращаются в порядке входных данных.
func (s *FileService) UploadBatch(ctx context.Context, ownerID string, inputs []UploadInput) []UploadResult {
	results := make([]UploadResult, len(inputs))

	var g errgroup.Group
	g.SetLimit(s.cfg.UploadConcurrency)

	for i, in := range inputs {
		g.Go(func() error {
			rec, err := s.Upload(ctx, ownerID, in)
			results[i] = UploadResult{Name: in.Name, File: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Delete удаляет файл владельца: сначала метаданные, затем blob.
// Файл другого владельца неотличим от отсутствующего (ErrNotFound).
// Ошибка удаления blob не является ошибкой операции.
func (s *FileService) Delete(ctx context.Context, ownerID, fileID string) (*DeleteResult, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	if _, err := uuid.Parse(fileID); err != nil {
		// Некорректный UUID не может существовать в таблице
		return nil, ErrNotFound
	}

	dbCtx, cancel := s.dbContext(ctx)
	defer cancel()

	rec, err := s.files.GetOwned(dbCtx, fileID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение файла для удаления: %w", err)
	}

	if err := s.files.DeleteOwned(dbCtx, fileID, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Удалён параллельным запросом
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("удаление метаданных файла: %w", err)
	}
	s.cache.Invalidate(ownerID)

	s.logger.Info("Метаданные файла удалены",
		slog.String("file_id", rec.ID),
		slog.String("owner_id", ownerID),
	)

	result := &DeleteResult{File: rec}

	detached := context.WithoutCancel(ctx)
	blobCtx, cancelBlob := context.WithTimeout(detached, s.cfg.BlobDeleteTimeout)
	err = s.blob.Delete(blobCtx, rec.StoragePath)
	cancelBlob()
	if err != nil {
		result.BlobRetained = true
		s.recordOrphan(detached, rec, err.Error())
	}

	return result, nil
}

// discardBlob — компенсирующее удаление blob, для которого не будет метаданных.
// При неудаче blob фиксируется как осиротевший.
func (s *FileService) discardBlob(ctx context.Context, rec *model.FileRecord, reason string) {
	blobCtx, cancel := context.WithTimeout(ctx, s.cfg.BlobDeleteTimeout)
	err := s.blob.Delete(blobCtx, rec.StoragePath)
	cancel()
	if err == nil {
		return
	}
	s.recordOrphan(ctx, rec, reason+"; компенсирующее удаление: "+err.Error())
}

// recordOrphan логирует осиротевший blob и ставит его в очередь очистки.
func (s *FileService) recordOrphan(ctx context.Context, rec *model.FileRecord, reason string) {
	orphanedBlobsTotal.Inc()
	s.logger.Warn("Blob остался в хранилище после удаления метаданных",
		slog.String("file_id", rec.ID),
		slog.String("owner_id", rec.OwnerID),
		slog.String("storage_path", rec.StoragePath),
		slog.String("reason", reason),
	)

	dbCtx, cancel := s.dbContext(ctx)
	defer cancel()

	orphan := &model.OrphanedBlob{
		StoragePath: rec.StoragePath,
		FileID:      rec.ID,
		OwnerID:     rec.OwnerID,
		LastError:   reason,
	}
	if err := s.orphans.Record(dbCtx, orphan); err != nil {
		s.logger.Error("Не удалось сохранить осиротевший blob в очередь очистки",
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) dbContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.DBTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.DBTimeout)
}

// cleanFileName оставляет только базовое имя без каталогов.
func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func uploadResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrCredentialRejected):
		return "credential_rejected"
	case errors.Is(err, ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamUploadFailed):
		return "upstream_error"
	default:
		return "error"
	}
}

// limitedBody ограничивает объём читаемого содержимого.
// При превышении лимита чтение прерывается и выставляется exceeded.
// Читается из горутины blobclient, поэтому флаг атомарный.
type limitedBody struct {
	r         io.Reader
	remaining int64
	exceeded  atomic.Bool
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded.Store(true)
		return 0, ErrPayloadTooLarge
	}
	// Читаем на байт больше лимита, чтобы отличить «ровно лимит» от превышения
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded.Store(true)
		return 0, ErrPayloadTooLarge
	}
	return n, err
}
