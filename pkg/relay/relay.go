// Package relay реализует публикующую половину паттерна Transactional Outbox.
// Relay потребляет change-stream таблицы outbox, публикует бизнес-сообщения
// в Kafka и помечает записи отправленными. Гарантия — at-least-once:
// дубликаты отсекает дедуп-реестр на стороне потребителей.
package relay

import (
	"context"
	"errors"
	"time"

	"example.com/fulfillment-system/pkg/cdc"
	"example.com/fulfillment-system/pkg/circuitbreaker"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
)

// ChangeSource — источник записей change-stream с явным подтверждением.
// Offset коммитится только после успешной публикации: незакоммиченная
// запись передоставляется брокером после рестарта.
type ChangeSource interface {
	FetchMessage(ctx context.Context) (*kafka.Message, error)
	CommitMessage(ctx context.Context, msg *kafka.Message) error
}

// Publisher — публикация бизнес-сообщений с подтверждением брокера.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// OutboxMarker — отметки статуса записей outbox.
type OutboxMarker interface {
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, sendErr error) error
}

// Config содержит настройки relay.
type Config struct {
	// MaxAttempts — попытки публикации одной записи до перехода к следующей.
	MaxAttempts int

	// RetryBackoff — базовая задержка между попытками публикации.
	RetryBackoff time.Duration
}

// DefaultConfig возвращает настройки relay по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Relay перекачивает записи outbox из change-stream в бизнес-топики.
type Relay struct {
	source  ChangeSource
	pub     Publisher
	marker  OutboxMarker
	breaker *circuitbreaker.Breaker
	cfg     Config
}

// New создаёт relay.
func New(source ChangeSource, pub Publisher, marker OutboxMarker, breaker *circuitbreaker.Breaker, cfg Config) *Relay {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}

	return &Relay{
		source:  source,
		pub:     pub,
		marker:  marker,
		breaker: breaker,
		cfg:     cfg,
	}
}

// Run запускает цикл relay. Блокирует до отмены context.
func (r *Relay) Run(ctx context.Context) error {
	logger.Info().Msg("Запуск CDC Relay")

	for {
		msg, err := r.source.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info().Msg("Остановка CDC Relay")
				return err
			}
			logger.Error().Err(err).Msg("Ошибка чтения change-stream")
			continue
		}

		if err := r.processRecord(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Offset не закоммичен: после рестарта или ребаланса запись
			// будет передоставлена и обработана заново
			logger.Error().
				Err(err).
				Int64("offset", msg.Offset).
				Msg("Запись change-stream не обработана, offset не подтверждён")
			continue
		}

		if err := r.source.CommitMessage(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("Ошибка коммита offset change-stream")
		}
	}
}

// processRecord обрабатывает одну запись change-stream.
// Возврат nil означает, что offset можно коммитить.
func (r *Relay) processRecord(ctx context.Context, msg *kafka.Message) error {
	record, err := cdc.Parse(msg.Value)
	if err != nil {
		// Повторная доставка нечитаемой записи ничего не изменит — пропускаем
		logger.Error().
			Err(err).
			Int64("offset", msg.Offset).
			Msg("Нечитаемая запись change-stream, пропускаем")
		metrics.RelaySkipped.Inc()
		return nil
	}

	if !record.IsInsert() || record.Row == nil {
		metrics.RelaySkipped.Inc()
		return nil
	}

	row := record.Row

	// Snapshot может содержать уже отправленные строки — публиковать нечего
	if row.Status != "" && row.Status != outbox.StatusPending {
		logger.Debug().
			Str("entry_id", row.ID).
			Str("status", row.Status).
			Msg("Строка outbox уже обработана, пропускаем")
		metrics.RelaySkipped.Inc()
		return nil
	}

	if err := r.publishWithRetry(ctx, row); err != nil {
		return err
	}

	// MarkSent идемпотентен: повторная обработка после рестарта — no-op
	if err := r.marker.MarkSent(ctx, row.ID); err != nil {
		return err
	}

	metrics.RelayPublished.WithLabelValues(row.Topic).Inc()

	logger.Info().
		Str("entry_id", row.ID).
		Str("topic", row.Topic).
		Str("aggregate_id", row.AggregateID).
		Msg("Сообщение outbox опубликовано")

	return nil
}

// publishWithRetry публикует сообщение с повторами и circuit breaker.
// Каждая неудачная попытка фиксируется в записи outbox; при исчерпании
// попыток запись переходит в FAILED и становится видна в admin API.
func (r *Relay) publishWithRetry(ctx context.Context, row *cdc.RowImage) error {
	out := &kafka.Message{
		Topic:   row.Topic,
		Key:     []byte(row.PartitionKey),
		Value:   row.Payload,
		Headers: row.Headers,
		Time:    time.Now(),
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.breaker.Execute(func() error {
			return r.pub.SendMessage(ctx, out)
		})
		if err == nil {
			return nil
		}

		lastErr = err
		metrics.RelayPublishErrors.Inc()

		if markErr := r.marker.MarkFailed(ctx, row.ID, err); markErr != nil {
			logger.Error().
				Err(markErr).
				Str("entry_id", row.ID).
				Msg("Ошибка фиксации неудачной попытки отправки")
		}

		logger.Warn().
			Err(err).
			Str("entry_id", row.ID).
			Int("attempt", attempt).
			Msg("Ошибка публикации сообщения outbox")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}

	return lastErr
}
