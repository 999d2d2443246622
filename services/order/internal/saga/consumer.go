package saga

import (
	"context"

	"golang.org/x/sync/errgroup"

	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
)

// ReplyHandler обрабатывает ответы Inventory на команды саги.
// Ответы коррелируются с сагой по order_id (aggregate_id конверта).
type ReplyHandler struct {
	orchestrator *Orchestrator
}

// NewReplyHandler создаёт обработчик ответов Inventory.
func NewReplyHandler(orchestrator *Orchestrator) *ReplyHandler {
	return &ReplyHandler{orchestrator: orchestrator}
}

// HandleReserved обрабатывает событие inventory.reserved.
func (h *ReplyHandler) HandleReserved(ctx context.Context, msg *kafka.Message) error {
	env, err := events.ParseEnvelope(msg.Value)
	if err != nil {
		// Нечитаемое сообщение: повторная доставка ничего не изменит
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", msg.Topic).
			Msg("Нечитаемый ответ резервирования, сообщение отброшено")
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "malformed").Inc()
		return nil
	}

	var payload events.InventoryReservedPayload
	if err := env.DecodePayload(&payload); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", env.EventID).
			Msg("Нечитаемый payload ответа резервирования, сообщение отброшено")
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "malformed").Inc()
		return nil
	}

	if err := h.orchestrator.HandleReservationSuccess(ctx, payload.OrderID, payload.ReservationID); err != nil {
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}

	metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "ok").Inc()
	return nil
}

// HandleReservationFailed обрабатывает событие inventory.reservation_failed.
func (h *ReplyHandler) HandleReservationFailed(ctx context.Context, msg *kafka.Message) error {
	env, err := events.ParseEnvelope(msg.Value)
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", msg.Topic).
			Msg("Нечитаемый отказ резервирования, сообщение отброшено")
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "malformed").Inc()
		return nil
	}

	var payload events.ReservationFailedPayload
	if err := env.DecodePayload(&payload); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", env.EventID).
			Msg("Нечитаемый payload отказа резервирования, сообщение отброшено")
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "malformed").Inc()
		return nil
	}

	if err := h.orchestrator.HandleReservationFailure(ctx, payload.OrderID, payload.Reason); err != nil {
		metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}

	metrics.ConsumerProcessed.WithLabelValues(msg.Topic, "ok").Inc()
	return nil
}

// RunReplyConsumers запускает потребителей ответов Inventory.
// Блокирует до отмены context или фатальной ошибки одного из потребителей.
func RunReplyConsumers(ctx context.Context, handler *ReplyHandler, reserved, failed *kafka.Consumer, maxRetries int) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return reserved.ConsumeWithRetry(groupCtx, handler.HandleReserved, maxRetries)
	})

	group.Go(func() error {
		return failed.ConsumeWithRetry(groupCtx, handler.HandleReservationFailed, maxRetries)
	})

	return group.Wait()
}
