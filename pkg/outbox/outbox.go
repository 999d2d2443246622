// Package outbox реализует паттерн Transactional Outbox.
// Доменная транзакция и запись исходящего сообщения коммитятся атомарно,
// публикацию в брокер выполняет CDC Relay, читающий change-stream таблицы.
package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Статусы записи outbox.
// Переходы: PENDING → SENT, PENDING → FAILED. Других переходов нет.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// Ошибки пакета outbox.
var (
	// ErrEntryNotFound — запись не найдена.
	ErrEntryNotFound = errors.New("запись outbox не найдена")
)

// Entry — запись таблицы outbox: исходящее сообщение,
// зафиксированное в той же транзакции, что и доменное изменение.
type Entry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Headers       map[string]string

	// CorrelationKey — ключ идемпотентности для EnqueueIfAbsent.
	// Пустой ключ не участвует в уникальном индексе.
	CorrelationKey string

	Status     string
	SentAt     *time.Time
	RetryCount int
	MaxRetries int
	LastError  string
	Version    int
	CreatedAt  time.Time
}

// IsPending возвращает true, если запись ещё не отправлена.
func (e *Entry) IsPending() bool {
	return e.Status == StatusPending
}

// RetriesExhausted возвращает true, если попытки отправки исчерпаны.
func (e *Entry) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// Repository — хранилище записей outbox.
type Repository interface {
	// Enqueue вставляет запись в рамках транзакции вызывающей стороны.
	// Никакого сетевого I/O: откат транзакции откатывает и запись.
	Enqueue(tx *gorm.DB, entry *Entry) error

	// EnqueueIfAbsent вставляет запись, если correlationKey ещё не занят.
	// Возвращает (false, nil) при дубликате — это штатный случай, не ошибка.
	EnqueueIfAbsent(tx *gorm.DB, entry *Entry) (bool, error)

	// MarkSent переводит запись PENDING → SENT.
	// Отсутствующая или уже отправленная запись — no-op (идемпотентность relay).
	MarkSent(ctx context.Context, id string) error

	// MarkFailed фиксирует неудачную попытку отправки.
	// При исчерпании попыток запись переходит в FAILED.
	MarkFailed(ctx context.Context, id string, sendErr error) error

	// FindPending возвращает неотправленные записи, старые первыми.
	FindPending(ctx context.Context, limit int) ([]*Entry, error)

	// CountByStatus возвращает количество записей по статусам.
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// DeleteSentBefore удаляет отправленные записи старше cutoff.
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
