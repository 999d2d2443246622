// Package consumer обрабатывает команды сервиса заказов.
// Обработка идемпотентна: транспорт даёт at-least-once, реестр
// обработанных событий отсекает дубликаты внутри той же транзакции,
// в которой меняется склад.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/dlq"
	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/inventory/internal/domain"
	"example.com/fulfillment-system/services/inventory/internal/repository"
)

const aggregateTypeInventory = "inventory"

// errAlreadyProcessed прерывает транзакцию обработки дубликата.
// Наружу не выходит: дубликат — штатный no-op.
var errAlreadyProcessed = errors.New("событие уже обработано")

// DedupLedger — реестр обработанных событий (см. пакет dedup).
type DedupLedger interface {
	IsDuplicate(ctx context.Context, eventID string) bool
	TryClaimInTx(tx *gorm.DB, eventID, aggregateID, eventType string) (bool, error)
	CacheSeen(ctx context.Context, eventID string)
}

// FailureSink — приёмник необработанных сообщений (см. пакет dlq).
type FailureSink interface {
	RecordFailure(ctx context.Context, eventID, originalTopic, eventType, aggregateID string, payload []byte, failure error) (*dlq.Record, error)
}

// Handler обрабатывает события заказов.
type Handler struct {
	repo    repository.InventoryRepository
	ledger  DedupLedger
	outbox  outbox.Repository
	store   eventstore.Store
	routing *events.Routing
	dlq     FailureSink

	outboxMaxRetries int
}

// NewHandler создаёт обработчик событий заказов.
func NewHandler(
	repo repository.InventoryRepository,
	ledger DedupLedger,
	outboxRepo outbox.Repository,
	store eventstore.Store,
	routing *events.Routing,
	dlqManager FailureSink,
	outboxMaxRetries int,
) *Handler {
	return &Handler{
		repo:             repo,
		ledger:           ledger,
		outbox:           outboxRepo,
		store:            store,
		routing:          routing,
		dlq:              dlqManager,
		outboxMaxRetries: outboxMaxRetries,
	}
}

// HandleOrderCreated обрабатывает команду резервирования (order.created).
func (h *Handler) HandleOrderCreated(ctx context.Context, msg *kafka.Message) error {
	env, ok := h.parse(ctx, msg)
	if !ok {
		return nil
	}

	if err := h.ProcessOrderCreated(ctx, env); err != nil {
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}

	metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "ok").Inc()
	return nil
}

// HandleOrderCancelled обрабатывает команду снятия резерва (order.cancelled).
func (h *Handler) HandleOrderCancelled(ctx context.Context, msg *kafka.Message) error {
	env, ok := h.parse(ctx, msg)
	if !ok {
		return nil
	}

	if err := h.ProcessOrderCancelled(ctx, env); err != nil {
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}

	metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "ok").Inc()
	return nil
}

// ProcessOrderCreated резервирует товар под заказ.
// Одна транзакция: запись реестра + изменение остатков + резерв +
// событие журнала + ответ в outbox. Бизнес-отказ (нет товара) — не ошибка
// обработки: он превращается в событие reservation_failed и коммитится.
func (h *Handler) ProcessOrderCreated(ctx context.Context, env *events.Envelope) error {
	if h.ledger.IsDuplicate(ctx, env.EventID) {
		return nil
	}

	var payload events.OrderCreatedPayload
	if err := env.DecodePayload(&payload); err != nil {
		// Нечитаемый payload: передоставка не поможет, отбрасываем
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", env.EventID).
			Msg("Нечитаемый payload команды резервирования, событие отброшено")
		return nil
	}

	items := make([]domain.ReservationItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, domain.ReservationItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	reservation := domain.NewReservation(payload.OrderID, items)
	reservationID := reservation.ID

	err := h.repo.Transaction(ctx, func(tx *gorm.DB) error {
		claimed, err := h.ledger.TryClaimInTx(tx, env.EventID, env.AggregateID, env.EventType)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyProcessed
		}

		reserveErr := h.repo.ReserveInTx(tx, reservation)
		if reserveErr != nil {
			if errors.Is(reserveErr, domain.ErrAlreadyReserved) {
				// Команда пришла повторно с новым event ID (повторный
				// прогон outbox, ручной redrive). Товар уже удержан —
				// подтверждаем существующий резерв, а не падаем в DLQ
				existing, getErr := h.repo.GetReservationInTx(tx, payload.OrderID)
				if getErr != nil {
					return getErr
				}
				if !existing.IsActive() {
					return h.replyFailure(tx, payload.OrderID, "резерв заказа уже снят")
				}
				reservationID = existing.ID
				return h.replySuccess(tx, payload.OrderID, existing.ID)
			}
			if isBusinessFailure(reserveErr) {
				// Отказ — событие, а не откат: заявка реестра и ответ
				// коммитятся, оркестратор запустит компенсацию
				return h.replyFailure(tx, payload.OrderID, reserveErr.Error())
			}
			return reserveErr
		}

		return h.replySuccess(tx, payload.OrderID, reservation.ID)
	})
	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			logger.Ctx(ctx).Debug().
				Str("event_id", env.EventID).
				Msg("Дубликат команды резервирования, пропускаем")
			return nil
		}
		return fmt.Errorf("ошибка обработки команды резервирования: %w", err)
	}

	h.ledger.CacheSeen(ctx, env.EventID)

	logger.Ctx(ctx).Info().
		Str("order_id", payload.OrderID).
		Str("reservation_id", reservationID).
		Msg("Команда резервирования обработана")

	return nil
}

// ProcessOrderCancelled снимает резерв заказа.
// Резерва может не быть: заказ отменён до обработки резервирования.
func (h *Handler) ProcessOrderCancelled(ctx context.Context, env *events.Envelope) error {
	if h.ledger.IsDuplicate(ctx, env.EventID) {
		return nil
	}

	var payload events.OrderCancelledPayload
	if err := env.DecodePayload(&payload); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", env.EventID).
			Msg("Нечитаемый payload команды отмены, событие отброшено")
		return nil
	}

	var released *domain.Reservation

	err := h.repo.Transaction(ctx, func(tx *gorm.DB) error {
		claimed, err := h.ledger.TryClaimInTx(tx, env.EventID, env.AggregateID, env.EventType)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyProcessed
		}

		released, err = h.repo.ReleaseInTx(tx, payload.OrderID)
		if err != nil {
			return err
		}

		if released == nil {
			// Резерва не было — подтверждать нечего
			return nil
		}

		return h.replyReleased(tx, payload.OrderID, released.ID)
	})
	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			logger.Ctx(ctx).Debug().
				Str("event_id", env.EventID).
				Msg("Дубликат команды отмены, пропускаем")
			return nil
		}
		return fmt.Errorf("ошибка обработки команды отмены: %w", err)
	}

	h.ledger.CacheSeen(ctx, env.EventID)

	logger.Ctx(ctx).Info().
		Str("order_id", payload.OrderID).
		Bool("released", released != nil).
		Msg("Команда отмены обработана")

	return nil
}

// WithStoredDLQ оборачивает обработчик записью в хранимую DLQ.
// Ошибка обработки не блокирует партицию: сообщение сохраняется в БД,
// воркер повторов вернётся к нему с экспоненциальной задержкой.
func (h *Handler) WithStoredDLQ(next kafka.MessageHandler) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		err := next(ctx, msg)
		if err == nil {
			return nil
		}

		env, parseErr := events.ParseEnvelope(msg.Value)
		if parseErr != nil {
			logger.Ctx(ctx).Error().
				Err(parseErr).
				Str("topic", msg.Topic).
				Msg("Нечитаемое сообщение не записано в DLQ, отброшено")
			return nil
		}

		if _, recordErr := h.dlq.RecordFailure(ctx, env.EventID, msg.Topic, env.EventType, env.AggregateID, msg.Value, err); recordErr != nil {
			// Не удалось сохранить в DLQ — не коммитим, пусть передоставит брокер
			logger.Ctx(ctx).Error().Err(recordErr).Msg("Ошибка записи в DLQ")
			return recordErr
		}

		return nil
	}
}

// RetryFromDLQ повторно обрабатывает запись DLQ.
// Используется воркером повторов как RetryFunc.
func (h *Handler) RetryFromDLQ(ctx context.Context, record *dlq.Record) error {
	env, err := events.ParseEnvelope(record.Payload)
	if err != nil {
		return fmt.Errorf("нечитаемый payload записи DLQ: %w", err)
	}

	switch env.EventType {
	case events.EventOrderCreated:
		return h.ProcessOrderCreated(ctx, env)
	case events.EventOrderCancelled:
		return h.ProcessOrderCancelled(ctx, env)
	default:
		return fmt.Errorf("неизвестный тип события в DLQ: %s", env.EventType)
	}
}

func (h *Handler) parse(ctx context.Context, msg *kafka.Message) (*events.Envelope, bool) {
	env, err := events.ParseEnvelope(msg.Value)
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", msg.Topic).
			Msg("Нечитаемый конверт события, сообщение отброшено")
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "malformed").Inc()
		return nil, false
	}

	return env, true
}

func (h *Handler) replySuccess(tx *gorm.DB, orderID, reservationID string) error {
	env, err := events.NewEnvelope(events.EventInventoryReserved, orderID, events.InventoryReservedPayload{
		OrderID:       orderID,
		ReservationID: reservationID,
	})
	if err != nil {
		return err
	}

	return h.enqueueReply(tx, env, "reply-reserve:"+orderID)
}

func (h *Handler) replyFailure(tx *gorm.DB, orderID, reason string) error {
	env, err := events.NewEnvelope(events.EventInventoryReservationFailed, orderID, events.ReservationFailedPayload{
		OrderID: orderID,
		Reason:  reason,
	})
	if err != nil {
		return err
	}

	return h.enqueueReply(tx, env, "reply-reserve:"+orderID)
}

func (h *Handler) replyReleased(tx *gorm.DB, orderID, reservationID string) error {
	env, err := events.NewEnvelope(events.EventInventoryReleased, orderID, events.InventoryReleasedPayload{
		OrderID:       orderID,
		ReservationID: reservationID,
	})
	if err != nil {
		return err
	}

	return h.enqueueReply(tx, env, "reply-release:"+orderID)
}

// enqueueReply пишет ответ в outbox и журнал событий в текущей транзакции.
func (h *Handler) enqueueReply(tx *gorm.DB, env *events.Envelope, correlationKey string) error {
	if _, err := h.store.AppendInTx(tx, env.AggregateID, env.EventType, env.Payload, env.SchemaVersion); err != nil {
		return err
	}

	topic, err := h.routing.TopicFor(env.EventType)
	if err != nil {
		return err
	}

	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	_, err = h.outbox.EnqueueIfAbsent(tx, &outbox.Entry{
		AggregateType:  aggregateTypeInventory,
		AggregateID:    env.AggregateID,
		EventType:      env.EventType,
		Topic:          topic,
		PartitionKey:   env.AggregateID,
		Payload:        payload,
		Headers:        map[string]string{kafka.HeaderEventID: env.EventID},
		CorrelationKey: correlationKey,
		MaxRetries:     h.outboxMaxRetries,
	})
	return err
}

func isBusinessFailure(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrProductNotFound)
}
