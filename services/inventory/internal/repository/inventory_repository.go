// Package repository содержит хранилище остатков и резервов.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment-system/services/inventory/internal/domain"
)

// stockModel — GORM модель таблицы stock_items.
type stockModel struct {
	ProductID string    `gorm:"column:product_id;primaryKey;type:varchar(36)"`
	Available int       `gorm:"column:available;not null"`
	Reserved  int       `gorm:"column:reserved;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы.
func (stockModel) TableName() string {
	return "stock_items"
}

// reservationModel — GORM модель таблицы reservations.
// Уникальный индекс по order_id: на заказ существует не более одного резерва,
// повторная команда резервирования упирается в индекс, а не создаёт второй.
type reservationModel struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	OrderID   string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex:idx_reservation_order"`
	Items     []byte    `gorm:"column:items;type:json;not null"`
	Status    string    `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы.
func (reservationModel) TableName() string {
	return "reservations"
}

func (m *reservationModel) toDomain() (*domain.Reservation, error) {
	var items []domain.ReservationItem
	if err := json.Unmarshal(m.Items, &items); err != nil {
		return nil, fmt.Errorf("ошибка десериализации позиций резерва: %w", err)
	}

	return &domain.Reservation{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Items:     items,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// InventoryRepository — хранилище остатков и резервов.
type InventoryRepository interface {
	// Transaction выполняет fn в транзакции БД.
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// ReserveInTx резервирует позиции под заказ.
	// Нехватка товара — domain.ErrInsufficientStock: бизнес-отказ,
	// транзакция откатывается целиком. Существующий резерв заказа —
	// domain.ErrAlreadyReserved: команда пришла повторно с новым event ID.
	ReserveInTx(tx *gorm.DB, reservation *domain.Reservation) error

	// GetReservationInTx возвращает резерв заказа в текущей транзакции.
	GetReservationInTx(tx *gorm.DB, orderID string) (*domain.Reservation, error)

	// ReleaseInTx снимает резерв заказа и возвращает товар в остаток.
	// Отсутствующий или уже снятый резерв — no-op: команда снятия
	// может прийти повторно или раньше команды резервирования.
	ReleaseInTx(tx *gorm.DB, orderID string) (*domain.Reservation, error)

	// GetReservationByOrderID возвращает резерв заказа.
	GetReservationByOrderID(ctx context.Context, orderID string) (*domain.Reservation, error)

	// GetStock возвращает остаток товара.
	GetStock(ctx context.Context, productID string) (*domain.Stock, error)
}

type inventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository создаёт хранилище склада.
func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

// Transaction выполняет fn в транзакции БД.
func (r *inventoryRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// ReserveInTx резервирует позиции под заказ.
// Условие available >= quantity прямо в UPDATE исключает гонку двух
// конкурентных резервов одного товара.
func (r *inventoryRepository) ReserveInTx(tx *gorm.DB, reservation *domain.Reservation) error {
	// Проверка существующего резерва до изменения остатков: повторная
	// команда с новым event ID проходит мимо реестра дубликатов, но не
	// должна списать товар второй раз
	var existing int64
	if err := tx.Model(&reservationModel{}).Where("order_id = ?", reservation.OrderID).Count(&existing).Error; err != nil {
		return fmt.Errorf("ошибка проверки резерва заказа %s: %w", reservation.OrderID, err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyReserved, reservation.OrderID)
	}

	for _, item := range reservation.Items {
		result := tx.Model(&stockModel{}).
			Where("product_id = ? AND available >= ?", item.ProductID, item.Quantity).
			Updates(map[string]interface{}{
				"available":  gorm.Expr("available - ?", item.Quantity),
				"reserved":   gorm.Expr("reserved + ?", item.Quantity),
				"updated_at": time.Now().UTC(),
			})

		if result.Error != nil {
			return fmt.Errorf("ошибка резервирования товара %s: %w", item.ProductID, result.Error)
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&stockModel{}).Where("product_id = ?", item.ProductID).Count(&count).Error; err != nil {
				return fmt.Errorf("ошибка проверки товара %s: %w", item.ProductID, err)
			}

			if count == 0 {
				return fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
			}

			return fmt.Errorf("%w: %s", domain.ErrInsufficientStock, item.ProductID)
		}
	}

	items, err := json.Marshal(reservation.Items)
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиций резерва: %w", err)
	}

	model := &reservationModel{
		ID:        reservation.ID,
		OrderID:   reservation.OrderID,
		Items:     items,
		Status:    reservation.Status,
		CreatedAt: reservation.CreatedAt,
		UpdatedAt: reservation.UpdatedAt,
	}

	if err := tx.Create(model).Error; err != nil {
		return fmt.Errorf("ошибка создания резерва: %w", err)
	}

	return nil
}

// ReleaseInTx снимает резерв заказа.
func (r *inventoryRepository) ReleaseInTx(tx *gorm.DB, orderID string) (*domain.Reservation, error) {
	var model reservationModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Резерва нет: заказ отменён до резервирования или команда повторная
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения резерва: %w", err)
	}

	reservation, err := model.toDomain()
	if err != nil {
		return nil, err
	}

	if !reservation.IsActive() {
		return reservation, nil
	}

	for _, item := range reservation.Items {
		result := tx.Model(&stockModel{}).
			Where("product_id = ?", item.ProductID).
			Updates(map[string]interface{}{
				"available":  gorm.Expr("available + ?", item.Quantity),
				"reserved":   gorm.Expr("reserved - ?", item.Quantity),
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return nil, fmt.Errorf("ошибка возврата товара %s в остаток: %w", item.ProductID, result.Error)
		}
	}

	reservation.Release()

	result := tx.Model(&reservationModel{}).
		Where("id = ?", reservation.ID).
		Updates(map[string]interface{}{
			"status":     reservation.Status,
			"updated_at": reservation.UpdatedAt,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("ошибка обновления резерва: %w", result.Error)
	}

	return reservation, nil
}

// GetReservationInTx возвращает резерв заказа в текущей транзакции.
func (r *inventoryRepository) GetReservationInTx(tx *gorm.DB, orderID string) (*domain.Reservation, error) {
	var model reservationModel
	err := tx.Where("order_id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("ошибка чтения резерва: %w", err)
	}

	return model.toDomain()
}

// GetReservationByOrderID возвращает резерв заказа.
func (r *inventoryRepository) GetReservationByOrderID(ctx context.Context, orderID string) (*domain.Reservation, error) {
	var model reservationModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("ошибка чтения резерва: %w", err)
	}

	return model.toDomain()
}

// GetStock возвращает остаток товара.
func (r *inventoryRepository) GetStock(ctx context.Context, productID string) (*domain.Stock, error) {
	var model stockModel
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("ошибка чтения остатка: %w", err)
	}

	return &domain.Stock{
		ProductID: model.ProductID,
		Available: model.Available,
		Reserved:  model.Reserved,
		UpdatedAt: model.UpdatedAt,
	}, nil
}
