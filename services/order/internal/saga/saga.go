// Package saga реализует оркестрацию процесса выполнения заказа.
// Оркестратор управляет распределённой транзакцией заказ + резервирование:
// команды уходят через outbox, ответы приходят событиями Inventory,
// неудача компенсируется снятием резерва.
package saga

import (
	"time"

	"github.com/google/uuid"
)

// SagaTypeOrderFulfillment — сага выполнения заказа:
// резервирование товара (удалённый шаг) → подтверждение заказа (локальный шаг).
const SagaTypeOrderFulfillment = "ORDER_FULFILLMENT"

// Статусы саги.
const (
	// StatusStarted — сага создана, команды ещё не отправлены.
	StatusStarted = "STARTED"

	// StatusInProgress — команда резервирования отправлена, ждём ответ.
	StatusInProgress = "IN_PROGRESS"

	// StatusCompensating — прямой путь провалился, выполняются компенсации.
	StatusCompensating = "COMPENSATING"

	// StatusCompleted — сага завершена успешно.
	StatusCompleted = "COMPLETED"

	// StatusFailed — сага завершена компенсацией.
	StatusFailed = "FAILED"
)

// Шаги саги выполнения заказа.
const (
	StepReserveInventory = "reserve_inventory"
	StepConfirmOrder     = "confirm_order"
	StepReleaseInventory = "release_inventory"
	StepFailOrder        = "fail_order"
)

// Исходы шагов в истории.
const (
	OutcomeDispatched  = "dispatched"
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeCompensated = "compensated"
)

// StepEntry — запись истории шагов: что произошло и когда.
type StepEntry struct {
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Instance — экземпляр саги.
// Version обеспечивает оптимистическую блокировку: consumer ответов
// и recovery-воркер могут обновлять сагу конкурентно.
type Instance struct {
	ID      string
	OrderID string

	// ReservationID — идентификатор резерва Inventory; заполняется
	// из ответа и нужен компенсации для снятия резерва.
	ReservationID string

	SagaType      string
	Status        string
	StepHistory   []StepEntry
	FailureReason string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewInstance создаёт сагу выполнения заказа в статусе STARTED.
func NewInstance(orderID string) *Instance {
	now := time.Now().UTC()

	return &Instance{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		SagaType:  SagaTypeOrderFulfillment,
		Status:    StatusStarted,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecordStep добавляет запись в историю шагов.
func (s *Instance) RecordStep(step, outcome, detail string) {
	s.StepHistory = append(s.StepHistory, StepEntry{
		Step:      step,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// MarkInProgress переводит сагу STARTED → IN_PROGRESS.
func (s *Instance) MarkInProgress() error {
	if s.Status != StatusStarted {
		return ErrInvalidSagaTransition
	}

	s.Status = StatusInProgress
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted переводит сагу IN_PROGRESS → COMPLETED.
func (s *Instance) MarkCompleted() error {
	if s.Status != StatusInProgress {
		return ErrInvalidSagaTransition
	}

	s.Status = StatusCompleted
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompensating переводит сагу в режим компенсации.
func (s *Instance) MarkCompensating(reason string) error {
	if s.Status != StatusStarted && s.Status != StatusInProgress {
		return ErrInvalidSagaTransition
	}

	s.Status = StatusCompensating
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed переводит сагу COMPENSATING → FAILED.
func (s *Instance) MarkFailed() error {
	if s.Status != StatusCompensating {
		return ErrInvalidSagaTransition
	}

	s.Status = StatusFailed
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal возвращает true для завершённых саг.
func (s *Instance) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}
