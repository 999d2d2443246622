// Package repository содержит хранилище заказов.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment-system/services/order/internal/domain"
)

// orderModel — GORM модель таблицы orders.
// Позиции хранятся JSON-колонкой: по ним нет запросов, нормализация не нужна.
type orderModel struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	CustomerID    string    `gorm:"column:customer_id;type:varchar(36);not null;index"`
	Items         []byte    `gorm:"column:items;type:json;not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	Currency      string    `gorm:"column:currency;type:varchar(3);not null"`
	Status        string    `gorm:"column:status;type:varchar(16);not null;index"`
	FailureReason string    `gorm:"column:failure_reason;type:text"`
	Version       int       `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы.
func (orderModel) TableName() string {
	return "orders"
}

func (m *orderModel) toDomain() (*domain.Order, error) {
	var items []domain.OrderItem
	if err := json.Unmarshal(m.Items, &items); err != nil {
		return nil, fmt.Errorf("ошибка десериализации позиций заказа: %w", err)
	}

	return &domain.Order{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		Items:         items,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Status:        m.Status,
		FailureReason: m.FailureReason,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func modelFromDomain(o *domain.Order) (*orderModel, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации позиций заказа: %w", err)
	}

	return &orderModel{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		Items:         items,
		Amount:        o.Amount,
		Currency:      o.Currency,
		Status:        o.Status,
		FailureReason: o.FailureReason,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}, nil
}

// OrderRepository — хранилище заказов.
// Изменения статуса выполняются внутри транзакций саги, поэтому
// пишущие методы принимают *gorm.DB вызывающей стороны.
type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	CreateInTx(tx *gorm.DB, order *domain.Order) error
	UpdateStatusInTx(tx *gorm.DB, order *domain.Order) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт хранилище заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// GetByID возвращает заказ по идентификатору.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model orderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("ошибка чтения заказа: %w", err)
	}

	return model.toDomain()
}

// CreateInTx вставляет заказ в рамках транзакции вызывающей стороны.
func (r *orderRepository) CreateInTx(tx *gorm.DB, order *domain.Order) error {
	model, err := modelFromDomain(order)
	if err != nil {
		return err
	}

	if err := tx.Create(model).Error; err != nil {
		return fmt.Errorf("ошибка создания заказа: %w", err)
	}

	return nil
}

// UpdateStatusInTx обновляет статус заказа с оптимистической блокировкой.
// Заказ с изменившейся версией не обновляется — вызывающая сторона
// перечитывает состояние и повторяет попытку.
func (r *orderRepository) UpdateStatusInTx(tx *gorm.DB, order *domain.Order) error {
	result := tx.Model(&orderModel{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":         order.Status,
			"failure_reason": order.FailureReason,
			"version":        order.Version + 1,
			"updated_at":     order.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("ошибка обновления заказа: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.ErrOrderConcurrentUpdate
	}

	order.Version++
	return nil
}
