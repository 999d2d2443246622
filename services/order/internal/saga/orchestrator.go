package saga

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
	"example.com/fulfillment-system/services/order/internal/repository"
)

// conflictRetries — попытки повтора при конкурентном обновлении саги.
const conflictRetries = 3

const aggregateTypeOrder = "order"

// Orchestrator управляет сагой выполнения заказа.
// Каждый переход — одна транзакция БД: заказ, сага, событие журнала
// и запись outbox коммитятся атомарно. Сетевого I/O внутри транзакций нет,
// публикацию выполняет CDC Relay.
type Orchestrator struct {
	sagas   Repository
	orders  repository.OrderRepository
	outbox  outbox.Repository
	store   eventstore.Store
	routing *events.Routing

	outboxMaxRetries int
}

// NewOrchestrator создаёт оркестратор саги выполнения заказа.
func NewOrchestrator(
	sagas Repository,
	orders repository.OrderRepository,
	outboxRepo outbox.Repository,
	store eventstore.Store,
	routing *events.Routing,
	outboxMaxRetries int,
) *Orchestrator {
	return &Orchestrator{
		sagas:            sagas,
		orders:           orders,
		outbox:           outboxRepo,
		store:            store,
		routing:          routing,
		outboxMaxRetries: outboxMaxRetries,
	}
}

// StartOrderSaga создаёт заказ и запускает сагу его выполнения.
// Одна транзакция: заказ + сага + событие OrderCreated + команда
// резервирования в outbox. Ключ идемпотентности reserve:<orderID>
// гарантирует единственную команду даже при повторном запуске.
func (o *Orchestrator) StartOrderSaga(ctx context.Context, customerID string, items []domain.OrderItem, currency string) (*domain.Order, error) {
	order, err := domain.NewOrder(customerID, items, currency)
	if err != nil {
		return nil, err
	}

	instance := NewInstance(order.ID)
	instance.RecordStep(StepReserveInventory, OutcomeDispatched, "")
	if err := instance.MarkInProgress(); err != nil {
		return nil, err
	}

	env, err := events.NewEnvelope(events.EventOrderCreated, order.ID, events.OrderCreatedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      itemsPayload(order.Items),
		Amount:     order.Amount,
		Currency:   order.Currency,
	})
	if err != nil {
		return nil, err
	}

	err = o.sagas.Transaction(ctx, func(tx *gorm.DB) error {
		if err := o.orders.CreateInTx(tx, order); err != nil {
			return err
		}

		if err := o.sagas.CreateInTx(tx, instance); err != nil {
			return err
		}

		if _, err := o.store.AppendInTx(tx, order.ID, env.EventType, env.Payload, env.SchemaVersion); err != nil {
			return err
		}

		return o.enqueueEvent(tx, env, reserveKey(order.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка запуска саги заказа: %w", err)
	}

	metrics.SagaStarted.Inc()
	metrics.OutboxEnqueued.WithLabelValues(env.EventType).Inc()

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("saga_id", instance.ID).
		Msg("Сага выполнения заказа запущена")

	return order, nil
}

// HandleReservationSuccess обрабатывает успешное резервирование.
// Сага переходит в COMPLETED, заказ подтверждается, в журнал пишется
// OrderConfirmed. Повторная доставка ответа — no-op: сага уже в
// терминальном статусе.
func (o *Orchestrator) HandleReservationSuccess(ctx context.Context, orderID, reservationID string) error {
	return o.retryOnConflict(ctx, func() error {
		instance, err := o.sagas.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if instance.IsTerminal() {
			return o.releaseLateReservation(ctx, instance, orderID, reservationID)
		}

		order, err := o.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		if err := order.Confirm(); err != nil {
			return err
		}

		instance.ReservationID = reservationID
		instance.RecordStep(StepReserveInventory, OutcomeSucceeded, "")
		instance.RecordStep(StepConfirmOrder, OutcomeSucceeded, "")
		if err := instance.MarkCompleted(); err != nil {
			return err
		}

		env, err := events.NewEnvelope(events.EventOrderConfirmed, orderID, events.OrderConfirmedPayload{
			OrderID:       orderID,
			ReservationID: reservationID,
		})
		if err != nil {
			return err
		}

		err = o.sagas.Transaction(ctx, func(tx *gorm.DB) error {
			if err := o.orders.UpdateStatusInTx(tx, order); err != nil {
				return err
			}

			if err := o.sagas.UpdateInTx(tx, instance); err != nil {
				return err
			}

			_, err := o.store.AppendInTx(tx, orderID, env.EventType, env.Payload, env.SchemaVersion)
			return err
		})
		if err != nil {
			return err
		}

		metrics.SagaCompleted.Inc()

		logger.Ctx(ctx).Info().
			Str("order_id", orderID).
			Str("reservation_id", reservationID).
			Msg("Сага завершена, заказ подтверждён")

		return nil
	})
}

// releaseLateReservation обрабатывает ответ резервирования, пришедший
// после завершения саги. Для COMPLETED это дубликат ответа — no-op.
// Топики order.created и order.cancelled независимы: отмена могла обогнать
// команду резервирования, и резерв появился уже после провала саги.
// Такой резерв нельзя молча проигнорировать — команда его снятия уходит
// через outbox, иначе товар останется удержан навсегда.
func (o *Orchestrator) releaseLateReservation(ctx context.Context, instance *Instance, orderID, reservationID string) error {
	if instance.Status != StatusFailed || reservationID == "" || instance.ReservationID != "" {
		logger.Ctx(ctx).Debug().
			Str("order_id", orderID).
			Str("status", instance.Status).
			Msg("Сага уже завершена, ответ резервирования проигнорирован")
		return nil
	}

	instance.ReservationID = reservationID
	instance.RecordStep(StepReleaseInventory, OutcomeDispatched, "резерв подтверждён после завершения саги")

	releaseEnv, err := events.NewEnvelope(events.EventOrderCancelled, orderID, events.OrderCancelledPayload{
		OrderID: orderID,
		Reason:  instance.FailureReason,
	})
	if err != nil {
		return err
	}

	err = o.sagas.Transaction(ctx, func(tx *gorm.DB) error {
		if err := o.sagas.UpdateInTx(tx, instance); err != nil {
			return err
		}

		return o.enqueueEvent(tx, releaseEnv, releaseKey(orderID))
	})
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Warn().
		Str("order_id", orderID).
		Str("reservation_id", reservationID).
		Msg("Резерв подтверждён после завершения саги, отправлена команда снятия")

	return nil
}

// HandleReservationFailure обрабатывает неудачу резервирования.
// Бизнес-отказ Inventory — это событие, а не инфраструктурная ошибка:
// сага компенсируется и завершается в FAILED, заказ переходит в FAILED.
// Если резерв успел появиться, команда его снятия уходит через outbox.
func (o *Orchestrator) HandleReservationFailure(ctx context.Context, orderID, reason string) error {
	return o.retryOnConflict(ctx, func() error {
		instance, err := o.sagas.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if instance.IsTerminal() {
			logger.Ctx(ctx).Debug().
				Str("order_id", orderID).
				Msg("Сага уже завершена, отказ резервирования проигнорирован")
			return nil
		}

		order, err := o.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		if err := order.Fail(reason); err != nil {
			return err
		}

		instance.RecordStep(StepReserveInventory, OutcomeFailed, reason)
		if err := instance.MarkCompensating(reason); err != nil {
			return err
		}

		var releaseEnv *events.Envelope
		if instance.ReservationID != "" {
			releaseEnv, err = events.NewEnvelope(events.EventOrderCancelled, orderID, events.OrderCancelledPayload{
				OrderID: orderID,
				Reason:  reason,
			})
			if err != nil {
				return err
			}
			instance.RecordStep(StepReleaseInventory, OutcomeDispatched, "")
		}

		instance.RecordStep(StepFailOrder, OutcomeCompensated, reason)
		if err := instance.MarkFailed(); err != nil {
			return err
		}

		failEnv, err := events.NewEnvelope(events.EventOrderFailed, orderID, events.OrderFailedPayload{
			OrderID: orderID,
			Reason:  reason,
		})
		if err != nil {
			return err
		}

		err = o.sagas.Transaction(ctx, func(tx *gorm.DB) error {
			if err := o.orders.UpdateStatusInTx(tx, order); err != nil {
				return err
			}

			if err := o.sagas.UpdateInTx(tx, instance); err != nil {
				return err
			}

			if _, err := o.store.AppendInTx(tx, orderID, failEnv.EventType, failEnv.Payload, failEnv.SchemaVersion); err != nil {
				return err
			}

			if releaseEnv != nil {
				return o.enqueueEvent(tx, releaseEnv, releaseKey(orderID))
			}

			return nil
		})
		if err != nil {
			return err
		}

		metrics.SagaFailed.Inc()

		logger.Ctx(ctx).Warn().
			Str("order_id", orderID).
			Str("reason", reason).
			Msg("Сага завершена компенсацией")

		return nil
	})
}

// CancelOrder отменяет заказ по инициативе пользователя.
// Отменить можно только PENDING заказ. Команда отмены уходит через outbox:
// Inventory снимет резерв, если он уже успел появиться.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, reason string) error {
	return o.retryOnConflict(ctx, func() error {
		order, err := o.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		if err := order.Cancel(reason); err != nil {
			return err
		}

		instance, err := o.sagas.GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if !instance.IsTerminal() {
			if err := instance.MarkCompensating(reason); err != nil {
				return err
			}
			instance.RecordStep(StepReleaseInventory, OutcomeDispatched, reason)
			if err := instance.MarkFailed(); err != nil {
				return err
			}
		}

		env, err := events.NewEnvelope(events.EventOrderCancelled, orderID, events.OrderCancelledPayload{
			OrderID: orderID,
			Reason:  reason,
		})
		if err != nil {
			return err
		}

		err = o.sagas.Transaction(ctx, func(tx *gorm.DB) error {
			if err := o.orders.UpdateStatusInTx(tx, order); err != nil {
				return err
			}

			if err := o.sagas.UpdateInTx(tx, instance); err != nil {
				return err
			}

			if _, err := o.store.AppendInTx(tx, orderID, env.EventType, env.Payload, env.SchemaVersion); err != nil {
				return err
			}

			return o.enqueueEvent(tx, env, cancelKey(orderID))
		})
		if err != nil {
			return err
		}

		logger.Ctx(ctx).Info().
			Str("order_id", orderID).
			Msg("Заказ отменён")

		return nil
	})
}

// GetOrder возвращает заказ по идентификатору.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return o.orders.GetByID(ctx, orderID)
}

// enqueueEvent кладёт событие в outbox с ключом идемпотентности.
// Дубликат по ключу — штатный случай (повторный запуск, recovery).
func (o *Orchestrator) enqueueEvent(tx *gorm.DB, env *events.Envelope, correlationKey string) error {
	topic, err := o.routing.TopicFor(env.EventType)
	if err != nil {
		return err
	}

	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	_, err = o.outbox.EnqueueIfAbsent(tx, &outbox.Entry{
		AggregateType:  aggregateTypeOrder,
		AggregateID:    env.AggregateID,
		EventType:      env.EventType,
		Topic:          topic,
		PartitionKey:   env.AggregateID,
		Payload:        payload,
		Headers:        map[string]string{kafka.HeaderEventID: env.EventID},
		CorrelationKey: correlationKey,
		MaxRetries:     o.outboxMaxRetries,
	})
	return err
}

// retryOnConflict повторяет fn при конкурентном обновлении саги или заказа.
func (o *Orchestrator) retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrSagaConcurrentUpdate) && !errors.Is(err, domain.ErrOrderConcurrentUpdate) {
			return err
		}

		logger.Ctx(ctx).Debug().
			Int("attempt", attempt+1).
			Msg("Конкурентное обновление саги, повтор")
	}

	return err
}

func itemsPayload(items []domain.OrderItem) []events.OrderItemData {
	result := make([]events.OrderItemData, 0, len(items))
	for _, item := range items {
		result = append(result, events.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return result
}

func reserveKey(orderID string) string { return "reserve:" + orderID }
func releaseKey(orderID string) string { return "release:" + orderID }
func cancelKey(orderID string) string  { return "cancel:" + orderID }
