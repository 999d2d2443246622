package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// eventModel — GORM модель таблицы domain_events.
type eventModel struct {
	SequenceID     uint64    `gorm:"column:sequence_id;primaryKey;autoIncrement"`
	AggregateID    string    `gorm:"column:aggregate_id;type:varchar(36);not null;uniqueIndex:idx_events_aggregate_seq,priority:1"`
	EventType      string    `gorm:"column:event_type;type:varchar(128);not null"`
	Payload        []byte    `gorm:"column:payload;type:json;not null"`
	SchemaVersion  int       `gorm:"column:schema_version;not null;default:1"`
	SequenceNumber int       `gorm:"column:sequence_number;not null;uniqueIndex:idx_events_aggregate_seq,priority:2"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

// TableName возвращает имя таблицы.
func (eventModel) TableName() string {
	return "domain_events"
}

func (m *eventModel) toDomain() *Event {
	return &Event{
		SequenceID:     m.SequenceID,
		AggregateID:    m.AggregateID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		SchemaVersion:  m.SchemaVersion,
		SequenceNumber: m.SequenceNumber,
		CreatedAt:      m.CreatedAt,
	}
}

type store struct {
	db *gorm.DB
}

// NewStore создаёт журнал событий поверх GORM.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

// Append добавляет событие в собственной транзакции.
func (s *store) Append(ctx context.Context, aggregateID, eventType string, payload []byte, schemaVersion int) (*Event, error) {
	var event *Event

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var appendErr error
		event, appendErr = s.AppendInTx(tx, aggregateID, eventType, payload, schemaVersion)
		return appendErr
	})
	if err != nil {
		return nil, err
	}

	return event, nil
}

// AppendInTx добавляет событие в рамках транзакции вызывающей стороны.
// Следующий номер вычисляется через SELECT MAX(sequence_number) FOR UPDATE:
// блокировка строк агрегата сериализует конкурентные append внутри агрегата,
// уникальный индекс (aggregate_id, sequence_number) страхует от гонки
// двух транзакций, не увидевших строк друг друга.
func (s *store) AppendInTx(tx *gorm.DB, aggregateID, eventType string, payload []byte, schemaVersion int) (*Event, error) {
	if aggregateID == "" {
		return nil, fmt.Errorf("не указан aggregate_id")
	}

	var maxSeq struct {
		Max int
	}
	err := tx.Model(&eventModel{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("COALESCE(MAX(sequence_number), 0) as max").
		Where("aggregate_id = ?", aggregateID).
		Scan(&maxSeq).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения номера последнего события: %w", err)
	}

	model := &eventModel{
		AggregateID:    aggregateID,
		EventType:      eventType,
		Payload:        payload,
		SchemaVersion:  schemaVersion,
		SequenceNumber: maxSeq.Max + 1,
		CreatedAt:      time.Now().UTC(),
	}

	if err := tx.Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrSequenceConflict
		}
		return nil, fmt.Errorf("ошибка записи события: %w", err)
	}

	return model.toDomain(), nil
}

// ReadOrdered возвращает все события агрегата по возрастанию sequence_number.
func (s *store) ReadOrdered(ctx context.Context, aggregateID string) ([]*Event, error) {
	var models []eventModel
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("sequence_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения событий агрегата: %w", err)
	}

	result := make([]*Event, 0, len(models))
	for i := range models {
		result = append(result, models[i].toDomain())
	}

	return result, nil
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
