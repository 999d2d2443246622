// Package dlq реализует хранимую Dead Letter Queue с повторами.
// Ядовитые сообщения не блокируют партицию: они сохраняются в БД
// и повторяются с экспоненциальной задержкой до исчерпания попыток.
package dlq

import (
	"errors"
	"time"
)

// Статусы записи DLQ.
const (
	// StatusPending — запись ждёт повторной обработки.
	StatusPending = "PENDING"

	// StatusProcessing — запись взята воркером; защита от двойного забора.
	StatusProcessing = "PROCESSING"

	// StatusCompleted — повторная обработка удалась.
	StatusCompleted = "COMPLETED"

	// StatusPermanentFailure — попытки исчерпаны, требуется вмешательство.
	StatusPermanentFailure = "PERMANENT_FAILURE"
)

// Ошибки пакета dlq.
var (
	// ErrRecordNotFound — запись DLQ не найдена.
	ErrRecordNotFound = errors.New("запись DLQ не найдена")

	// ErrAlreadyClaimed — запись уже взята другим воркером.
	ErrAlreadyClaimed = errors.New("запись DLQ уже взята в обработку")
)

// Record — запись DLQ: сообщение, которое не удалось обработать.
type Record struct {
	ID            string
	EventID       string
	OriginalTopic string
	EventType     string
	AggregateID   string
	Payload       []byte
	FailureReason string
	Status        string
	RetryCount    int
	MaxRetries    int

	// NextRetryAt — момент, раньше которого запись не берётся в повтор.
	// nil означает «можно сразу».
	NextRetryAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Eligible возвращает true, если запись готова к повтору в момент now.
func (r *Record) Eligible(now time.Time) bool {
	if r.Status != StatusPending {
		return false
	}
	return r.NextRetryAt == nil || !r.NextRetryAt.After(now)
}

// Backoff вычисляет экспоненциальную задержку для номера попытки:
// base, base*2, base*4... с ограничением max.
func Backoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	// Сдвиг больше 62 переполнил бы int64
	if retryCount > 62 {
		return max
	}

	delay := base << uint(retryCount)
	if delay > max || delay <= 0 {
		return max
	}

	return delay
}
