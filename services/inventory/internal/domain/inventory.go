// Package domain содержит доменную модель склада.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Статусы резерва.
const (
	// ReservationActive — товар удержан под заказ.
	ReservationActive = "RESERVED"

	// ReservationReleased — резерв снят, товар возвращён в доступный остаток.
	ReservationReleased = "RELEASED"
)

// Ошибки доменной модели склада.
var (
	ErrProductNotFound     = errors.New("товар не найден")
	ErrInsufficientStock   = errors.New("недостаточно товара на складе")
	ErrReservationNotFound = errors.New("резерв не найден")
	ErrAlreadyReserved     = errors.New("резерв по заказу уже существует")
)

// Stock — остаток товара на складе.
type Stock struct {
	ProductID string

	// Available — доступно к резервированию.
	Available int

	// Reserved — удержано под активные резервы.
	Reserved int

	UpdatedAt time.Time
}

// Reservation — резерв товара под заказ.
// На заказ существует не более одного резерва.
type Reservation struct {
	ID      string
	OrderID string
	Items   []ReservationItem
	Status  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationItem — зарезервированная позиция.
// Хранится в JSON-колонке резерва, теги фиксируют формат.
type ReservationItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// NewReservation создаёт активный резерв под заказ.
func NewReservation(orderID string, items []ReservationItem) *Reservation {
	now := time.Now().UTC()

	return &Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Items:     items,
		Status:    ReservationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive возвращает true для действующего резерва.
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// Release помечает резерв снятым.
func (r *Reservation) Release() {
	r.Status = ReservationReleased
	r.UpdatedAt = time.Now().UTC()
}
