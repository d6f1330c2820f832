// orphan_sweeper.go — фоновая очистка осиротевших blob.
//
// OrphanSweeper запускает горутину с ticker (FC_ORPHAN_SWEEP_INTERVAL),
// которая берёт пачку записей orphaned_blobs (давно не проверявшиеся первыми)
// и повторяет удаление blob. Успех — запись удаляется, ошибка — растёт attempts.
//
// Prometheus-метрики:
//   - fc_orphan_sweep_total — результаты повторных удалений
//   - fc_orphan_sweep_duration_seconds — длительность прохода
//   - fc_orphaned_blobs_pending — размер очереди после прохода
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/firestream-console/internal/repository"
)

var (
	orphanSweepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_orphan_sweep_total",
		Help: "Результаты повторного удаления осиротевших blob",
	}, []string{"result"}) // result: removed, failed

	orphanSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fc_orphan_sweep_duration_seconds",
		Help:    "Длительность прохода очистки осиротевших blob",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms … ~82s
	})

	orphanedBlobsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fc_orphaned_blobs_pending",
		Help: "Количество осиротевших blob, ожидающих удаления",
	})
)

// SweepResult — итог одного прохода очистки.
type SweepResult struct {
	Removed int
	Failed  int
	// Pending — размер очереди после прохода (-1 если подсчёт не удался)
	Pending int
}

// OrphanSweeper — фоновый сервис очистки осиротевших blob.
type OrphanSweeper struct {
	orphans     repository.OrphanRepository
	blob        BlobStore
	batch       int
	interval    time.Duration
	blobTimeout time.Duration
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrphanSweeper создаёт сервис очистки.
func NewOrphanSweeper(
	orphans repository.OrphanRepository,
	blob BlobStore,
	batch int,
	interval time.Duration,
	blobTimeout time.Duration,
	logger *slog.Logger,
) *OrphanSweeper {
	return &OrphanSweeper{
		orphans:     orphans,
		blob:        blob,
		batch:       batch,
		interval:    interval,
		blobTimeout: blobTimeout,
		logger:      logger.With(slog.String("component", "orphan_sweeper")),
	}
}

// Start запускает фоновую горутину. При нулевом интервале очистка отключена.
func (s *OrphanSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Очистка осиротевших blob отключена")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Очистка осиротевших blob запущена",
			slog.String("interval", s.interval.String()),
			slog.Int("batch", s.batch),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Очистка осиротевших blob остановлена")
				return
			case <-ticker.C:
				result, err := s.SweepOnce(ctx)
				if err != nil {
					s.logger.Error("Ошибка очистки осиротевших blob", slog.String("error", err.Error()))
					continue
				}
				if result.Removed > 0 || result.Failed > 0 {
					s.logger.Info("Проход очистки завершён",
						slog.Int("removed", result.Removed),
						slog.Int("failed", result.Failed),
						slog.Int("pending", result.Pending),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *OrphanSweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SweepOnce выполняет один проход по пачке осиротевших blob.
func (s *OrphanSweeper) SweepOnce(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() {
		orphanSweepDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := s.orphans.ListDue(ctx, s.batch)
	if err != nil {
		return nil, fmt.Errorf("получение очереди очистки: %w", err)
	}

	result := &SweepResult{}
	for _, o := range due {
		if ctx.Err() != nil {
			break
		}

		blobCtx, cancel := context.WithTimeout(ctx, s.blobTimeout)
		delErr := s.blob.Delete(blobCtx, o.StoragePath)
		cancel()

		if delErr != nil {
			result.Failed++
			orphanSweepTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("Повторное удаление blob не удалось",
				slog.String("storage_path", o.StoragePath),
				slog.Int("attempts", o.Attempts+1),
				slog.String("error", delErr.Error()),
			)
			if err := s.orphans.MarkAttempt(ctx, o.StoragePath, delErr.Error()); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return result, fmt.Errorf("обновление записи очистки: %w", err)
			}
			continue
		}

		result.Removed++
		orphanSweepTotal.WithLabelValues("removed").Inc()
		if err := s.orphans.Remove(ctx, o.StoragePath); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return result, fmt.Errorf("удаление записи очистки: %w", err)
		}
	}

	result.Pending = -1
	if n, err := s.orphans.Count(ctx); err != nil {
		s.logger.Warn("Не удалось подсчитать очередь очистки", slog.String("error", err.Error()))
	} else {
		result.Pending = n
		orphanedBlobsPending.Set(float64(n))
	}

	return result, nil
}
