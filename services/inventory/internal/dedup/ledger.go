// Package dedup реализует реестр обработанных событий.
// Транспорт даёт at-least-once, реестр превращает его в exactly-once
// по эффекту: запись о событии вставляется в той же транзакции,
// что и бизнес-изменение, уникальный индекс отсекает дубликаты.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
)

// processedEventModel — GORM модель таблицы processed_events.
type processedEventModel struct {
	EventID       string    `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:idx_processed_event_group,priority:1"`
	ConsumerGroup string    `gorm:"column:consumer_group;type:varchar(128);not null;uniqueIndex:idx_processed_event_group,priority:2"`
	AggregateID   string    `gorm:"column:aggregate_id;type:varchar(36);not null"`
	EventType     string    `gorm:"column:event_type;type:varchar(128);not null"`
	ProcessedAt   time.Time `gorm:"column:processed_at;not null;index"`
}

// TableName возвращает имя таблицы.
func (processedEventModel) TableName() string {
	return "processed_events"
}

// Ledger — реестр обработанных событий одной consumer group.
// Redis служит быстрым фронтом: EXISTS отвечает без обращения к MySQL.
// Источник истины — уникальный индекс в БД; потеря ключей Redis безопасна.
type Ledger struct {
	db       *gorm.DB
	cache    *redis.Client
	group    string
	cacheTTL time.Duration
}

// NewLedger создаёт реестр для consumer group.
// cache может быть nil — тогда работает только путь через БД.
func NewLedger(db *gorm.DB, cache *redis.Client, group string, cacheTTL time.Duration) *Ledger {
	return &Ledger{
		db:       db,
		cache:    cache,
		group:    group,
		cacheTTL: cacheTTL,
	}
}

// IsDuplicate проверяет событие по быстрому фронту Redis.
// Ошибки Redis не фатальны: при недоступном кэше решает БД.
func (l *Ledger) IsDuplicate(ctx context.Context, eventID string) bool {
	if l.cache == nil {
		return false
	}

	exists, err := l.cache.Exists(ctx, l.cacheKey(eventID)).Result()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Redis недоступен, дедупликация через БД")
		return false
	}

	if exists > 0 {
		metrics.DedupHits.Inc()
		return true
	}

	return false
}

// TryClaimInTx атомарно занимает событие в рамках транзакции обработки.
// Возвращает (false, nil) для дубликата: это штатный случай, не ошибка.
// Откат транзакции освобождает событие для повторной обработки.
func (l *Ledger) TryClaimInTx(tx *gorm.DB, eventID, aggregateID, eventType string) (bool, error) {
	record := &processedEventModel{
		EventID:       eventID,
		ConsumerGroup: l.group,
		AggregateID:   aggregateID,
		EventType:     eventType,
		ProcessedAt:   time.Now().UTC(),
	}

	if err := tx.Create(record).Error; err != nil {
		if isDuplicateKeyError(err) {
			metrics.DedupHits.Inc()
			return false, nil
		}
		return false, fmt.Errorf("ошибка записи в реестр обработанных событий: %w", err)
	}

	return true, nil
}

// TryClaim занимает событие в собственной транзакции.
func (l *Ledger) TryClaim(ctx context.Context, eventID, aggregateID, eventType string) (bool, error) {
	var claimed bool

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimErr error
		claimed, claimErr = l.TryClaimInTx(tx, eventID, aggregateID, eventType)
		return claimErr
	})
	if err != nil {
		return false, err
	}

	return claimed, nil
}

// CacheSeen помечает событие в Redis после коммита транзакции.
// Вызов до коммита опасен: откат оставил бы ложный признак обработки.
func (l *Ledger) CacheSeen(ctx context.Context, eventID string) {
	if l.cache == nil {
		return
	}

	if err := l.cache.SetNX(ctx, l.cacheKey(eventID), 1, l.cacheTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка записи признака обработки в Redis")
	}
}

// PruneBefore удаляет записи реестра старше cutoff.
// Горизонт хранения должен превышать максимальную задержку передоставки.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("consumer_group = ? AND processed_at < ?", l.group, cutoff).
		Delete(&processedEventModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("ошибка очистки реестра обработанных событий: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (l *Ledger) cacheKey(eventID string) string {
	return "dedup:" + l.group + ":" + eventID
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
