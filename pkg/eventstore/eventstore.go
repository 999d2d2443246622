// Package eventstore реализует append-only журнал доменных событий.
// События никогда не обновляются и не удаляются; порядок внутри агрегата
// задаётся плотной нумерацией sequence_number без пропусков.
package eventstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Ошибки пакета eventstore.
var (
	// ErrSequenceConflict — конкурентная запись заняла следующий sequence_number.
	// Вызывающая сторона перечитывает состояние и повторяет попытку.
	ErrSequenceConflict = errors.New("конфликт нумерации событий агрегата")
)

// Event — событие журнала: факт, который уже произошёл.
type Event struct {
	// SequenceID — глобальный автоинкрементный идентификатор.
	SequenceID uint64

	// AggregateID — идентификатор агрегата (order_id).
	AggregateID string

	// EventType — тип события (order.created, order.confirmed).
	EventType string

	// Payload — тело события, непрозрачный JSON.
	Payload []byte

	// SchemaVersion — версия схемы payload.
	SchemaVersion int

	// SequenceNumber — номер события внутри агрегата, с единицы, без пропусков.
	SequenceNumber int

	CreatedAt time.Time
}

// Store — журнал событий. API намеренно не содержит update и delete.
type Store interface {
	// Append добавляет событие в собственной транзакции.
	Append(ctx context.Context, aggregateID, eventType string, payload []byte, schemaVersion int) (*Event, error)

	// AppendInTx добавляет событие в рамках транзакции вызывающей стороны.
	// Номер события вычисляется под блокировкой строк агрегата; нарушение
	// уникальности (aggregate_id, sequence_number) — ErrSequenceConflict.
	AppendInTx(tx *gorm.DB, aggregateID, eventType string, payload []byte, schemaVersion int) (*Event, error)

	// ReadOrdered возвращает все события агрегата по возрастанию sequence_number.
	ReadOrdered(ctx context.Context, aggregateID string) ([]*Event, error)
}
