// Package domain содержит доменную модель заказа.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Статусы заказа.
const (
	// StatusPending — заказ создан, ожидает резервирования товара.
	StatusPending = "PENDING"

	// StatusConfirmed — товар зарезервирован, заказ подтверждён.
	StatusConfirmed = "CONFIRMED"

	// StatusCancelled — заказ отменён пользователем до подтверждения.
	StatusCancelled = "CANCELLED"

	// StatusFailed — резервирование не удалось, заказ не выполнен.
	StatusFailed = "FAILED"
)

// Order — заказ покупателя.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem

	// Amount — сумма заказа в минорных единицах валюты (копейки).
	Amount   int64
	Currency string

	Status        string
	FailureReason string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ProductID string
	Quantity  int

	// Price — цена за единицу в минорных единицах.
	Price int64
}

// NewOrder создаёт заказ в статусе PENDING.
func NewOrder(customerID string, items []OrderItem, currency string) (*Order, error) {
	if customerID == "" {
		return nil, ErrEmptyCustomerID
	}

	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	var amount int64
	for _, item := range items {
		if item.ProductID == "" {
			return nil, ErrEmptyProductID
		}
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.Price < 0 {
			return nil, ErrInvalidPrice
		}
		amount += item.Price * int64(item.Quantity)
	}

	now := time.Now().UTC()

	return &Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Items:      items,
		Amount:     amount,
		Currency:   currency,
		Status:     StatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Confirm переводит заказ PENDING → CONFIRMED.
func (o *Order) Confirm() error {
	if o.Status != StatusPending {
		return ErrInvalidStatusTransition
	}

	o.Status = StatusConfirmed
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel переводит заказ PENDING → CANCELLED.
// Подтверждённый заказ отменить нельзя — резерв уже превращён в отгрузку.
func (o *Order) Cancel(reason string) error {
	if o.Status != StatusPending {
		return ErrOrderNotCancellable
	}

	o.Status = StatusCancelled
	o.FailureReason = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail переводит заказ PENDING → FAILED после неудачного резервирования.
func (o *Order) Fail(reason string) error {
	if o.Status != StatusPending {
		return ErrInvalidStatusTransition
	}

	o.Status = StatusFailed
	o.FailureReason = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal возвращает true для конечных статусов заказа.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusCancelled || o.Status == StatusFailed
}
