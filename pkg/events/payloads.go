package events

// Тела событий — контракт между сервисами Order и Inventory.
// Изменение полей требует увеличения schema_version в конверте.

// OrderCreatedPayload — тело события order.created.
// Inventory резервирует перечисленные позиции под заказ.
type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Items      []OrderItemData `json:"items"`
	Amount     int64           `json:"amount"`
	Currency   string          `json:"currency"`
}

// OrderItemData — позиция заказа.
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderCancelledPayload — тело события order.cancelled.
type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// InventoryReservedPayload — тело события inventory.reserved.
type InventoryReservedPayload struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

// ReservationFailedPayload — тело события inventory.reservation_failed.
type ReservationFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// InventoryReleasedPayload — тело события inventory.released.
type InventoryReleasedPayload struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

// OrderConfirmedPayload — тело события order.confirmed (event store).
type OrderConfirmedPayload struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

// OrderFailedPayload — тело события order.failed (event store).
type OrderFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
