package saga

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
)

// RecoveryWorker перезапускает зависшие саги после падения сервиса.
// Восстановление — чистая функция сохранённого состояния: воркер читает
// незавершённые саги и заново отправляет команды через outbox.
// Ключи идемпотентности отсекают повторные команды.
type RecoveryWorker struct {
	sagas        Repository
	orchestrator *Orchestrator

	interval     time.Duration
	stuckTimeout time.Duration
	batch        int
}

// NewRecoveryWorker создаёт recovery-воркер саг.
func NewRecoveryWorker(sagas Repository, orchestrator *Orchestrator, interval, stuckTimeout time.Duration, batch int) *RecoveryWorker {
	return &RecoveryWorker{
		sagas:        sagas,
		orchestrator: orchestrator,
		interval:     interval,
		stuckTimeout: stuckTimeout,
		batch:        batch,
	}
}

// Start запускает периодическое восстановление. Блокирует до отмены context.
func (w *RecoveryWorker) Start(ctx context.Context) {
	logger.Info().
		Dur("interval", w.interval).
		Dur("stuck_timeout", w.stuckTimeout).
		Msg("Запуск recovery-воркера саг")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Остановка recovery-воркера саг")
			return
		case <-ticker.C:
			w.recoverStuck(ctx)
		}
	}
}

func (w *RecoveryWorker) recoverStuck(ctx context.Context) {
	staleBefore := time.Now().UTC().Add(-w.stuckTimeout)

	stuck, err := w.sagas.FindIncomplete(ctx, staleBefore, w.batch)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка поиска зависших саг")
		return
	}

	for _, instance := range stuck {
		if err := w.recover(ctx, instance); err != nil {
			if errors.Is(err, ErrSagaConcurrentUpdate) {
				// Кто-то другой уже двигает сагу — не мешаем
				continue
			}
			logger.Error().
				Err(err).
				Str("saga_id", instance.ID).
				Str("order_id", instance.OrderID).
				Msg("Ошибка восстановления саги")
			continue
		}

		metrics.SagaRecovered.Inc()

		logger.Info().
			Str("saga_id", instance.ID).
			Str("order_id", instance.OrderID).
			Str("status", instance.Status).
			Msg("Сага перезапущена")
	}
}

// recover повторно отправляет команду, соответствующую статусу саги.
func (w *RecoveryWorker) recover(ctx context.Context, instance *Instance) error {
	switch instance.Status {
	case StatusStarted, StatusInProgress:
		return w.redriveReservation(ctx, instance)
	case StatusCompensating:
		return w.redriveCompensation(ctx, instance)
	default:
		return nil
	}
}

// redriveReservation заново кладёт команду резервирования в outbox.
// Если исходная команда уже там, EnqueueIfAbsent ничего не делает,
// а недоставленную запись дотолкает relay.
func (w *RecoveryWorker) redriveReservation(ctx context.Context, instance *Instance) error {
	order, err := w.orchestrator.GetOrder(ctx, instance.OrderID)
	if err != nil {
		return err
	}

	env, err := events.NewEnvelope(events.EventOrderCreated, order.ID, events.OrderCreatedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      itemsPayload(order.Items),
		Amount:     order.Amount,
		Currency:   order.Currency,
	})
	if err != nil {
		return err
	}

	instance.RecordStep(StepReserveInventory, OutcomeDispatched, "перезапуск после таймаута")

	return w.orchestrator.sagas.Transaction(ctx, func(tx *gorm.DB) error {
		if err := w.orchestrator.enqueueEvent(tx, env, reserveKey(order.ID)); err != nil {
			return err
		}

		return w.orchestrator.sagas.UpdateInTx(tx, instance)
	})
}

// redriveCompensation доводит компенсацию до конца: команда снятия
// резерва в outbox, сага в FAILED.
func (w *RecoveryWorker) redriveCompensation(ctx context.Context, instance *Instance) error {
	env, err := events.NewEnvelope(events.EventOrderCancelled, instance.OrderID, events.OrderCancelledPayload{
		OrderID: instance.OrderID,
		Reason:  instance.FailureReason,
	})
	if err != nil {
		return err
	}

	instance.RecordStep(StepReleaseInventory, OutcomeDispatched, "перезапуск после таймаута")
	if err := instance.MarkFailed(); err != nil {
		return err
	}

	return w.orchestrator.sagas.Transaction(ctx, func(tx *gorm.DB) error {
		if err := w.orchestrator.enqueueEvent(tx, env, releaseKey(instance.OrderID)); err != nil {
			return err
		}

		return w.orchestrator.sagas.UpdateInTx(tx, instance)
	})
}
