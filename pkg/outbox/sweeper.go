package outbox

import (
	"context"
	"time"

	"example.com/fulfillment-system/pkg/logger"
)

// Sweeper периодически удаляет отправленные записи outbox старше retention.
// Таблица outbox — транспорт, а не архив: история событий живёт в event store.
type Sweeper struct {
	repo      Repository
	interval  time.Duration
	retention time.Duration
}

// NewSweeper создаёт уборщик отправленных записей outbox.
func NewSweeper(repo Repository, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		repo:      repo,
		interval:  interval,
		retention: retention,
	}
}

// Start запускает периодическую уборку. Блокирует до отмены context.
func (s *Sweeper) Start(ctx context.Context) {
	logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("Запуск уборщика outbox")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Остановка уборщика outbox")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	deleted, err := s.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Ошибка уборки отправленных записей outbox")
		return
	}

	if deleted > 0 {
		logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Удалены отправленные записи outbox")
	}
}
