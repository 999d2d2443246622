package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
)

// recordModel — GORM модель таблицы dlq_records.
type recordModel struct {
	ID            string     `gorm:"column:id;primaryKey;type:varchar(36)"`
	EventID       string     `gorm:"column:event_id;type:varchar(36);not null;index"`
	OriginalTopic string     `gorm:"column:original_topic;type:varchar(128);not null"`
	EventType     string     `gorm:"column:event_type;type:varchar(128);not null"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(36);not null"`
	Payload       []byte     `gorm:"column:payload;type:json;not null"`
	FailureReason string     `gorm:"column:failure_reason;type:text"`
	Status        string     `gorm:"column:status;type:varchar(24);not null;index:idx_dlq_status_retry,priority:1"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	MaxRetries    int        `gorm:"column:max_retries;not null"`
	NextRetryAt   *time.Time `gorm:"column:next_retry_at;index:idx_dlq_status_retry,priority:2"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы.
func (recordModel) TableName() string {
	return "dlq_records"
}

func (m *recordModel) toDomain() *Record {
	return &Record{
		ID:            m.ID,
		EventID:       m.EventID,
		OriginalTopic: m.OriginalTopic,
		EventType:     m.EventType,
		AggregateID:   m.AggregateID,
		Payload:       m.Payload,
		FailureReason: m.FailureReason,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		NextRetryAt:   m.NextRetryAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// Manager управляет записями DLQ.
type Manager struct {
	db          *gorm.DB
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewManager создаёт менеджер DLQ.
func NewManager(db *gorm.DB, maxRetries int, baseBackoff, maxBackoff time.Duration) *Manager {
	return &Manager{
		db:          db,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// RecordFailure сохраняет необработанное сообщение в DLQ.
// Первая попытка повтора назначается через базовую задержку.
func (m *Manager) RecordFailure(ctx context.Context, eventID, originalTopic, eventType, aggregateID string, payload []byte, failure error) (*Record, error) {
	now := time.Now().UTC()
	nextRetry := now.Add(Backoff(m.baseBackoff, m.maxBackoff, 0))

	model := &recordModel{
		ID:            uuid.New().String(),
		EventID:       eventID,
		OriginalTopic: originalTopic,
		EventType:     eventType,
		AggregateID:   aggregateID,
		Payload:       payload,
		FailureReason: failure.Error(),
		Status:        StatusPending,
		RetryCount:    0,
		MaxRetries:    m.maxRetries,
		NextRetryAt:   &nextRetry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("ошибка записи в DLQ: %w", err)
	}

	metrics.DlqRecorded.Inc()

	logger.Ctx(ctx).Warn().
		Str("dlq_id", model.ID).
		Str("event_id", eventID).
		Str("topic", originalTopic).
		Str("reason", failure.Error()).
		Msg("Сообщение записано в DLQ")

	return model.toDomain(), nil
}

// FindEligibleForRetry возвращает записи, готовые к повтору в момент now.
// Старые первыми: порядок внутри агрегата важнее скорости разбора очереди.
func (m *Manager) FindEligibleForRetry(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	var models []recordModel
	err := m.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", StatusPending, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска записей DLQ: %w", err)
	}

	result := make([]*Record, 0, len(models))
	for i := range models {
		result = append(result, models[i].toDomain())
	}

	return result, nil
}

// Claim переводит запись PENDING → PROCESSING.
// CAS по статусу защищает от двойного забора при нескольких воркерах.
func (m *Manager) Claim(ctx context.Context, id string) error {
	result := m.db.WithContext(ctx).
		Model(&recordModel{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":     StatusProcessing,
			"updated_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return fmt.Errorf("ошибка забора записи DLQ: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrAlreadyClaimed
	}

	return nil
}

// MarkRetryAttempt фиксирует неудачный повтор.
// Счётчик инкрементируется, следующий повтор назначается с экспоненциальной
// задержкой; при исчерпании попыток запись переходит в PERMANENT_FAILURE.
func (m *Manager) MarkRetryAttempt(ctx context.Context, id string, attemptErr error) (*Record, error) {
	var updated *Record

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model recordModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return fmt.Errorf("ошибка чтения записи DLQ: %w", err)
		}

		model.RetryCount++
		model.FailureReason = attemptErr.Error()
		model.UpdatedAt = time.Now().UTC()

		if model.RetryCount >= model.MaxRetries {
			model.Status = StatusPermanentFailure
			model.NextRetryAt = nil

			metrics.DlqPermanentFailures.Inc()

			logger.Ctx(ctx).Error().
				Str("dlq_id", model.ID).
				Str("event_id", model.EventID).
				Int("retry_count", model.RetryCount).
				Msg("Попытки повтора исчерпаны, запись переведена в PERMANENT_FAILURE")
		} else {
			model.Status = StatusPending
			next := time.Now().UTC().Add(Backoff(m.baseBackoff, m.maxBackoff, model.RetryCount))
			model.NextRetryAt = &next
		}

		updates := map[string]interface{}{
			"retry_count":    model.RetryCount,
			"failure_reason": model.FailureReason,
			"status":         model.Status,
			"next_retry_at":  model.NextRetryAt,
			"updated_at":     model.UpdatedAt,
		}

		if err := tx.Model(&recordModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("ошибка обновления записи DLQ: %w", err)
		}

		updated = model.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// MarkCompleted переводит запись в COMPLETED после успешного повтора.
func (m *Manager) MarkCompleted(ctx context.Context, id string) error {
	result := m.db.WithContext(ctx).
		Model(&recordModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        StatusCompleted,
			"next_retry_at": nil,
			"updated_at":    time.Now().UTC(),
		})

	if result.Error != nil {
		return fmt.Errorf("ошибка завершения записи DLQ: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// CountByStatus возвращает количество записей DLQ по статусам.
func (m *Manager) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var rows []statusCount
	err := m.db.WithContext(ctx).
		Model(&recordModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта записей DLQ: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
