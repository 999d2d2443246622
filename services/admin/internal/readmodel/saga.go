// Package readmodel содержит read-only доступ admin API к таблицам
// других сервисов. Admin ничего не пишет и не импортирует внутренние
// пакеты сервисов: только собственные представления поверх общей БД.
package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrSagaNotFound — сага не найдена.
var ErrSagaNotFound = errors.New("сага не найдена")

// Статусы саги, в которых она считается незавершённой.
// Повторяют значения колонки status таблицы saga_instances.
func incompleteSagaStatuses() []string {
	return []string{"STARTED", "IN_PROGRESS", "COMPENSATING"}
}

// SagaStep — запись истории шагов саги.
type SagaStep struct {
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SagaInstance — представление саги для admin API.
type SagaInstance struct {
	ID            string
	OrderID       string
	ReservationID string
	SagaType      string
	Status        string
	StepHistory   []SagaStep
	FailureReason string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// sagaInstanceModel — read-only отображение таблицы saga_instances.
type sagaInstanceModel struct {
	ID            string    `gorm:"column:id"`
	OrderID       string    `gorm:"column:order_id"`
	ReservationID string    `gorm:"column:reservation_id"`
	SagaType      string    `gorm:"column:saga_type"`
	Status        string    `gorm:"column:status"`
	StepHistory   []byte    `gorm:"column:step_history"`
	FailureReason string    `gorm:"column:failure_reason"`
	Version       int       `gorm:"column:version"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName возвращает имя таблицы.
func (sagaInstanceModel) TableName() string {
	return "saga_instances"
}

func (m *sagaInstanceModel) toView() (*SagaInstance, error) {
	var history []SagaStep
	if len(m.StepHistory) > 0 {
		if err := json.Unmarshal(m.StepHistory, &history); err != nil {
			return nil, fmt.Errorf("ошибка десериализации истории шагов: %w", err)
		}
	}

	return &SagaInstance{
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

// SagaReader — read-only доступ к сагам выполнения заказов.
type SagaReader struct {
	db *gorm.DB
}

// NewSagaReader создаёт read-only доступ к сагам.
func NewSagaReader(db *gorm.DB) *SagaReader {
	return &SagaReader{db: db}
}

// GetByOrderID возвращает сагу заказа.
func (r *SagaReader) GetByOrderID(ctx context.Context, orderID string) (*SagaInstance, error) {
	var model sagaInstanceModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, fmt.Errorf("ошибка чтения саги: %w", err)
	}

	return model.toView()
}

// FindAllIncomplete возвращает незавершённые саги, старые первыми.
func (r *SagaReader) FindAllIncomplete(ctx context.Context, limit int) ([]*SagaInstance, error) {
	var models []sagaInstanceModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", incompleteSagaStatuses()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска незавершённых саг: %w", err)
	}

	result := make([]*SagaInstance, 0, len(models))
	for i := range models {
		view, err := models[i].toView()
		if err != nil {
			return nil, err
		}
		result = append(result, view)
	}

	return result, nil
}
