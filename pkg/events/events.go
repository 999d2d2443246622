// Package events определяет доменные события системы фулфилмента
// и их маршрутизацию по топикам Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы доменных событий.
const (
	// EventOrderCreated — заказ создан, требуется резервирование товара.
	EventOrderCreated = "order.created"

	// EventOrderCancelled — заказ отменён пользователем до подтверждения.
	EventOrderCancelled = "order.cancelled"

	// EventOrderConfirmed — заказ подтверждён после успешного резервирования.
	EventOrderConfirmed = "order.confirmed"

	// EventOrderFailed — заказ не выполнен, резервирование не удалось.
	EventOrderFailed = "order.failed"

	// EventInventoryReserved — товар зарезервирован под заказ.
	EventInventoryReserved = "inventory.reserved"

	// EventInventoryReservationFailed — резервирование не удалось (нет товара).
	EventInventoryReservationFailed = "inventory.reservation_failed"

	// EventInventoryReleased — резерв снят при компенсации или отмене.
	EventInventoryReleased = "inventory.released"
)

// Топики Kafka для доменных событий.
const (
	TopicOrderCreated      = "order.created"
	TopicOrderCancelled    = "order.cancelled"
	TopicInventoryReserved = "inventory.reserved"
	TopicReservationFailed = "inventory.reservation-failed"
	TopicInventoryReleased = "inventory.released"

	// Топики change-stream, которые пишет внешний CDC агент.
	TopicOrderOutboxCDC     = "cdc.order.outbox"
	TopicInventoryOutboxCDC = "cdc.inventory.outbox"
)

// Envelope — конверт доменного события.
// Payload хранится как непрозрачный JSON: схема тела — забота владельца события.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope создаёт конверт события с новым event_id.
func NewEnvelope(eventType, aggregateID string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации payload события %s: %w", eventType, err)
	}

	return &Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: 1,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       body,
	}, nil
}

// Marshal сериализует конверт в JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", e.EventType, err)
	}
	return data, nil
}

// ParseEnvelope разбирает конверт события из JSON.
// Возвращает ошибку валидации, если обязательные поля отсутствуют —
// такое сообщение не подлежит повторной обработке.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("ошибка разбора конверта события: %w", err)
	}

	if e.EventID == "" {
		return nil, fmt.Errorf("конверт события без event_id")
	}

	if e.EventType == "" {
		return nil, fmt.Errorf("конверт события без event_type")
	}

	if e.AggregateID == "" {
		return nil, fmt.Errorf("конверт события без aggregate_id")
	}

	return &e, nil
}

// DecodePayload разбирает тело события в указанную структуру.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("ошибка разбора payload события %s: %w", e.EventType, err)
	}
	return nil
}

// Routing — явная таблица маршрутизации событий по топикам.
// Собирается на старте сервиса и передаётся компонентам, которые публикуют события.
type Routing struct {
	topics map[string]string
}

// NewRouting создаёт таблицу маршрутизации по умолчанию.
func NewRouting() *Routing {
	return &Routing{
		topics: map[string]string{
			EventOrderCreated:               TopicOrderCreated,
			EventOrderCancelled:             TopicOrderCancelled,
			EventInventoryReserved:          TopicInventoryReserved,
			EventInventoryReservationFailed: TopicReservationFailed,
			EventInventoryReleased:          TopicInventoryReleased,
		},
	}
}

// TopicFor возвращает топик для типа события.
// Неизвестный тип — ошибка конфигурации, а не повод молча терять событие.
func (r *Routing) TopicFor(eventType string) (string, error) {
	topic, ok := r.topics[eventType]
	if !ok {
		return "", fmt.Errorf("неизвестный тип события: %s", eventType)
	}
	return topic, nil
}

// Register добавляет или переопределяет маршрут для типа события.
func (r *Routing) Register(eventType, topic string) {
	r.topics[eventType] = topic
}
