package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// instanceModel — GORM модель таблицы saga_instances.
// История шагов хранится JSON-колонкой: читается и пишется целиком.
type instanceModel struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	OrderID       string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex:idx_saga_order_type,priority:1"`
	ReservationID string    `gorm:"column:reservation_id;type:varchar(36)"`
	SagaType      string    `gorm:"column:saga_type;type:varchar(64);not null;uniqueIndex:idx_saga_order_type,priority:2"`
	Status        string    `gorm:"column:status;type:varchar(16);not null;index:idx_saga_status_updated,priority:1"`
	StepHistory   []byte    `gorm:"column:step_history;type:json"`
	FailureReason string    `gorm:"column:failure_reason;type:text"`
	Version       int       `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;index:idx_saga_status_updated,priority:2"`
}

// TableName возвращает имя таблицы.
func (instanceModel) TableName() string {
	return "saga_instances"
}

func (m *instanceModel) toDomain() (*Instance, error) {
	var history []StepEntry
	if len(m.StepHistory) > 0 {
		if err := json.Unmarshal(m.StepHistory, &history); err != nil {
			return nil, fmt.Errorf("ошибка десериализации истории шагов: %w", err)
		}
	}

	return &Instance{
		ID:            m.ID,
		OrderID:       m.OrderID,
		ReservationID: m.ReservationID,
		SagaType:      m.SagaType,
		Status:        m.Status,
		StepHistory:   history,
		FailureReason: m.FailureReason,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func modelFromDomain(s *Instance) (*instanceModel, error) {
	history, err := json.Marshal(s.StepHistory)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации истории шагов: %w", err)
	}

	return &instanceModel{
		ID:            s.ID,
		OrderID:       s.OrderID,
		ReservationID: s.ReservationID,
		SagaType:      s.SagaType,
		Status:        s.Status,
		StepHistory:   history,
		FailureReason: s.FailureReason,
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}, nil
}

// Repository — хранилище экземпляров саг.
type Repository interface {
	// Transaction выполняет fn в транзакции БД.
	// Оркестратор собирает в одну транзакцию заказ, сагу, событие и outbox.
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// CreateInTx вставляет сагу в рамках транзакции вызывающей стороны.
	CreateInTx(tx *gorm.DB, instance *Instance) error

	// GetByOrderID возвращает сагу выполнения заказа.
	GetByOrderID(ctx context.Context, orderID string) (*Instance, error)

	// UpdateInTx сохраняет сагу с проверкой версии.
	// Устаревшая версия — ErrSagaConcurrentUpdate, строка не изменяется.
	UpdateInTx(tx *gorm.DB, instance *Instance) error

	// FindIncomplete возвращает незавершённые саги, не обновлявшиеся
	// с указанного момента. Используется recovery-воркером.
	FindIncomplete(ctx context.Context, staleBefore time.Time, limit int) ([]*Instance, error)

	// FindAllIncomplete возвращает все незавершённые саги (admin API).
	FindAllIncomplete(ctx context.Context, limit int) ([]*Instance, error)
}

type sagaRepository struct {
	db *gorm.DB
}

// NewRepository создаёт хранилище саг.
func NewRepository(db *gorm.DB) Repository {
	return &sagaRepository{db: db}
}

// Transaction выполняет fn в транзакции БД.
func (r *sagaRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// CreateInTx вставляет сагу в рамках транзакции вызывающей стороны.
func (r *sagaRepository) CreateInTx(tx *gorm.DB, instance *Instance) error {
	model, err := modelFromDomain(instance)
	if err != nil {
		return err
	}

	if err := tx.Create(model).Error; err != nil {
		return fmt.Errorf("ошибка создания саги: %w", err)
	}

	return nil
}

// GetByOrderID возвращает сагу выполнения заказа.
func (r *sagaRepository) GetByOrderID(ctx context.Context, orderID string) (*Instance, error) {
	var model instanceModel
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND saga_type = ?", orderID, SagaTypeOrderFulfillment).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, fmt.Errorf("ошибка чтения саги: %w", err)
	}

	return model.toDomain()
}

// UpdateInTx сохраняет сагу с проверкой версии.
func (r *sagaRepository) UpdateInTx(tx *gorm.DB, instance *Instance) error {
	model, err := modelFromDomain(instance)
	if err != nil {
		return err
	}

	result := tx.Model(&instanceModel{}).
		Where("id = ? AND version = ?", instance.ID, instance.Version).
		Updates(map[string]interface{}{
			"reservation_id": model.ReservationID,
			"status":         model.Status,
			"step_history":   model.StepHistory,
			"failure_reason": model.FailureReason,
			"version":        instance.Version + 1,
			"updated_at":     model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("ошибка обновления саги: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrSagaConcurrentUpdate
	}

	instance.Version++
	return nil
}

// FindIncomplete возвращает зависшие незавершённые саги, старые первыми.
func (r *sagaRepository) FindIncomplete(ctx context.Context, staleBefore time.Time, limit int) ([]*Instance, error) {
	var models []instanceModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", incompleteStatuses(), staleBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска незавершённых саг: %w", err)
	}

	return toDomainList(models)
}

// FindAllIncomplete возвращает все незавершённые саги.
func (r *sagaRepository) FindAllIncomplete(ctx context.Context, limit int) ([]*Instance, error) {
	var models []instanceModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", incompleteStatuses()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска незавершённых саг: %w", err)
	}

	return toDomainList(models)
}

func incompleteStatuses() []string {
	return []string{StatusStarted, StatusInProgress, StatusCompensating}
}

func toDomainList(models []instanceModel) ([]*Instance, error) {
	result := make([]*Instance, 0, len(models))
	for i := range models {
		instance, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, instance)
	}
	return result, nil
}
