package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment-system/pkg/logger"
)

// maxLastErrorLen — ограничение длины сохраняемого текста ошибки.
const maxLastErrorLen = 1000

type repository struct {
	db *gorm.DB
}

// NewRepository создаёт хранилище записей outbox.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Enqueue вставляет запись outbox в рамках транзакции вызывающей стороны.
func (r *repository) Enqueue(tx *gorm.DB, entry *Entry) error {
	prepare(entry)

	model, err := modelFromDomain(entry)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи outbox: %w", err)
	}

	if err := tx.Create(model).Error; err != nil {
		return fmt.Errorf("ошибка вставки записи outbox: %w", err)
	}

	return nil
}

// EnqueueIfAbsent вставляет запись, если correlationKey свободен.
// Дубликат по уникальному индексу — штатный случай: (false, nil).
func (r *repository) EnqueueIfAbsent(tx *gorm.DB, entry *Entry) (bool, error) {
	if entry.CorrelationKey == "" {
		return false, fmt.Errorf("EnqueueIfAbsent требует correlationKey")
	}

	prepare(entry)

	model, err := modelFromDomain(entry)
	if err != nil {
		return false, fmt.Errorf("ошибка сериализации записи outbox: %w", err)
	}

	if err := tx.Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			logger.Debug().
				Str("correlation_key", entry.CorrelationKey).
				Msg("Запись outbox уже существует, пропускаем")
			return false, nil
		}
		return false, fmt.Errorf("ошибка вставки записи outbox: %w", err)
	}

	return true, nil
}

// MarkSent переводит запись PENDING → SENT.
// Запись отсутствует или уже не PENDING — no-op: relay может обработать
// одну и ту же запись повторно после рестарта.
func (r *repository) MarkSent(ctx context.Context, id string) error {
	now := time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&entryModel{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":  StatusSent,
			"sent_at": now,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return fmt.Errorf("ошибка обновления статуса outbox: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		logger.Debug().
			Str("entry_id", id).
			Msg("Запись outbox уже отправлена или отсутствует")
	}

	return nil
}

// MarkFailed фиксирует неудачную попытку отправки.
// Счётчик попыток инкрементируется; при исчерпании запись переходит в FAILED.
func (r *repository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model entryModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status = ?", id, StatusPending).
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Запись уже отправлена или отсутствует — фиксировать нечего
				return nil
			}
			return fmt.Errorf("ошибка чтения записи outbox: %w", err)
		}

		model.RetryCount++
		model.LastError = truncateError(sendErr)

		status := model.Status
		if model.RetryCount >= model.MaxRetries {
			status = StatusFailed
			logger.Warn().
				Str("entry_id", id).
				Int("retry_count", model.RetryCount).
				Msg("Попытки отправки outbox исчерпаны, запись переведена в FAILED")
		}

		result := tx.Model(&entryModel{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"retry_count": model.RetryCount,
				"last_error":  model.LastError,
				"status":      status,
				"version":     gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("ошибка обновления записи outbox: %w", result.Error)
		}

		return nil
	})
}

// FindPending возвращает неотправленные записи, старые первыми.
func (r *repository) FindPending(ctx context.Context, limit int) ([]*Entry, error) {
	var models []entryModel
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска записей outbox: %w", err)
	}

	entries := make([]*Entry, 0, len(models))
	for i := range models {
		entry, err := models[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("ошибка десериализации записи outbox %s: %w", models[i].ID, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// CountByStatus возвращает количество записей по статусам.
func (r *repository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&entryModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта записей outbox: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}

// DeleteSentBefore удаляет отправленные записи старше cutoff.
// Единственная операция, затрагивающая записи после SENT.
func (r *repository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", StatusSent, cutoff).
		Delete(&entryModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("ошибка удаления отправленных записей outbox: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// prepare заполняет служебные поля перед вставкой.
func prepare(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	if entry.MaxRetries == 0 {
		entry.MaxRetries = 5
	}
	if entry.Version == 0 {
		entry.Version = 1
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// truncateError обрезает текст ошибки до размера колонки.
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}

// isDuplicateKeyError проверяет, является ли ошибка нарушением уникального индекса.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
