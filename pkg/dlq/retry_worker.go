package dlq

import (
	"context"
	"errors"
	"time"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
)

// RetryFunc повторно обрабатывает сообщение из DLQ.
// Возврат nil — успех, запись закрывается.
type RetryFunc func(ctx context.Context, record *Record) error

// RetryWorker периодически разбирает DLQ: берёт готовые к повтору записи
// и прогоняет их через обработчик заново.
type RetryWorker struct {
	manager *Manager
	retry   RetryFunc

	pollInterval time.Duration
	batch        int
}

// NewRetryWorker создаёт воркер повторов DLQ.
func NewRetryWorker(manager *Manager, retry RetryFunc, pollInterval time.Duration, batch int) *RetryWorker {
	return &RetryWorker{
		manager:      manager,
		retry:        retry,
		pollInterval: pollInterval,
		batch:        batch,
	}
}

// Start запускает цикл повторов. Блокирует до отмены context.
func (w *RetryWorker) Start(ctx context.Context) {
	logger.Info().
		Dur("poll_interval", w.pollInterval).
		Int("batch", w.batch).
		Msg("Запуск воркера повторов DLQ")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Остановка воркера повторов DLQ")
			return
		case <-ticker.C:
			w.processEligible(ctx)
		}
	}
}

func (w *RetryWorker) processEligible(ctx context.Context) {
	records, err := w.manager.FindEligibleForRetry(ctx, time.Now().UTC(), w.batch)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка поиска записей DLQ для повтора")
		return
	}

	for _, record := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.processOne(ctx, record)
	}
}

func (w *RetryWorker) processOne(ctx context.Context, record *Record) {
	if err := w.manager.Claim(ctx, record.ID); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			// Запись взял другой воркер
			return
		}
		logger.Error().Err(err).Str("dlq_id", record.ID).Msg("Ошибка забора записи DLQ")
		return
	}

	if err := w.retry(ctx, record); err != nil {
		metrics.DlqRetries.WithLabelValues("failed").Inc()

		updated, markErr := w.manager.MarkRetryAttempt(ctx, record.ID, err)
		if markErr != nil {
			logger.Error().Err(markErr).Str("dlq_id", record.ID).Msg("Ошибка фиксации неудачного повтора")
			return
		}

		logger.Warn().
			Err(err).
			Str("dlq_id", record.ID).
			Str("event_id", record.EventID).
			Int("retry_count", updated.RetryCount).
			Str("status", updated.Status).
			Msg("Повтор сообщения из DLQ не удался")
		return
	}

	if err := w.manager.MarkCompleted(ctx, record.ID); err != nil {
		logger.Error().Err(err).Str("dlq_id", record.ID).Msg("Ошибка завершения записи DLQ")
		return
	}

	metrics.DlqRetries.WithLabelValues("ok").Inc()

	logger.Info().
		Str("dlq_id", record.ID).
		Str("event_id", record.EventID).
		Msg("Сообщение из DLQ обработано повторно")
}
