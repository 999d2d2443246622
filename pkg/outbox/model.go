package outbox

import (
	"database/sql"
	"encoding/json"
	"time"
)

// entryModel — GORM модель таблицы outbox_entries.
// correlation_key объявлен как sql.NullString: NULL значения не участвуют
// в уникальном индексе, пустой ключ не блокирует обычные Enqueue.
type entryModel struct {
	ID             string         `gorm:"column:id;primaryKey;type:varchar(36)"`
	AggregateType  string         `gorm:"column:aggregate_type;type:varchar(64);not null"`
	AggregateID    string         `gorm:"column:aggregate_id;type:varchar(36);not null;index"`
	EventType      string         `gorm:"column:event_type;type:varchar(128);not null"`
	Topic          string         `gorm:"column:topic;type:varchar(128);not null"`
	PartitionKey   string         `gorm:"column:partition_key;type:varchar(128);not null"`
	Payload        []byte         `gorm:"column:payload;type:json;not null"`
	Headers        []byte         `gorm:"column:headers;type:json"`
	CorrelationKey sql.NullString `gorm:"column:correlation_key;type:varchar(191);uniqueIndex:idx_outbox_correlation_key"`
	Status         string         `gorm:"column:status;type:varchar(16);not null;default:PENDING;index:idx_outbox_status_created,priority:1"`
	SentAt         *time.Time     `gorm:"column:sent_at"`
	RetryCount     int            `gorm:"column:retry_count;not null;default:0"`
	MaxRetries     int            `gorm:"column:max_retries;not null;default:5"`
	LastError      string         `gorm:"column:last_error;type:text"`
	Version        int            `gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index:idx_outbox_status_created,priority:2"`
}

// TableName возвращает имя таблицы.
func (entryModel) TableName() string {
	return "outbox_entries"
}

// toDomain конвертирует модель в доменную запись.
func (m *entryModel) toDomain() (*Entry, error) {
	var headers map[string]string
	if len(m.Headers) > 0 {
		if err := json.Unmarshal(m.Headers, &headers); err != nil {
			return nil, err
		}
	}

	return &Entry{
		ID:             m.ID,
		AggregateType:  m.AggregateType,
		AggregateID:    m.AggregateID,
		EventType:      m.EventType,
		Topic:          m.Topic,
		PartitionKey:   m.PartitionKey,
		Payload:        m.Payload,
		Headers:        headers,
		CorrelationKey: m.CorrelationKey.String,
		Status:         m.Status,
		SentAt:         m.SentAt,
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		LastError:      m.LastError,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// modelFromDomain конвертирует доменную запись в модель.
func modelFromDomain(e *Entry) (*entryModel, error) {
	var headers []byte
	if len(e.Headers) > 0 {
		data, err := json.Marshal(e.Headers)
		if err != nil {
			return nil, err
		}
		headers = data
	}

	correlationKey := sql.NullString{}
	if e.CorrelationKey != "" {
		correlationKey = sql.NullString{String: e.CorrelationKey, Valid: true}
	}

	return &entryModel{
		ID:             e.ID,
		AggregateType:  e.AggregateType,
		AggregateID:    e.AggregateID,
		EventType:      e.EventType,
		Topic:          e.Topic,
		PartitionKey:   e.PartitionKey,
		Payload:        e.Payload,
		Headers:        headers,
		CorrelationKey: correlationKey,
		Status:         e.Status,
		SentAt:         e.SentAt,
		RetryCount:     e.RetryCount,
		MaxRetries:     e.MaxRetries,
		LastError:      e.LastError,
		Version:        e.Version,
		CreatedAt:      e.CreatedAt,
	}, nil
}
