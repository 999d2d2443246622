// Package handler содержит HTTP API admin-сервиса: обзор журнала
// событий, незавершённых саг, DLQ и состояния outbox.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fulfillment-system/pkg/dlq"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/services/admin/internal/readmodel"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// EventReader читает журнал событий агрегата.
type EventReader interface {
	ReadOrdered(ctx context.Context, aggregateID string) ([]*eventstore.Event, error)
}

// SagaReader читает саги выполнения заказов.
type SagaReader interface {
	GetByOrderID(ctx context.Context, orderID string) (*readmodel.SagaInstance, error)
	FindAllIncomplete(ctx context.Context, limit int) ([]*readmodel.SagaInstance, error)
}

// DlqReader читает записи DLQ.
type DlqReader interface {
	FindEligibleForRetry(ctx context.Context, now time.Time, limit int) ([]*dlq.Record, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// OutboxReader читает состояние таблицы outbox.
type OutboxReader interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Handler — HTTP обработчики admin API.
type Handler struct {
	events EventReader
	sagas  SagaReader
	dlq    DlqReader
	outbox OutboxReader
}

// NewRouter создаёт gin-роутер admin API.
// authMiddleware применяется ко всем маршрутам /api/v1.
func NewRouter(events EventReader, sagas SagaReader, dlqReader DlqReader, outboxReader OutboxReader, serviceName string, authMiddleware gin.HandlerFunc) *gin.Engine {
	h := &Handler{
		events: events,
		sagas:  sagas,
		dlq:    dlqReader,
		outbox: outboxReader,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	api := router.Group("/api/v1")
	api.Use(authMiddleware)
	{
		api.GET("/aggregates/:id/events", h.listAggregateEvents)
		api.GET("/sagas/incomplete", h.listIncompleteSagas)
		api.GET("/sagas/:orderID", h.getSaga)
		api.GET("/dlq/eligible", h.listEligibleDlq)
		api.GET("/dlq/stats", h.dlqStats)
		api.GET("/outbox/stats", h.outboxStats)
	}

	return router
}

// listAggregateEvents возвращает журнал событий агрегата в порядке записи.
func (h *Handler) listAggregateEvents(c *gin.Context) {
	aggregateID := c.Param("id")

	records, err := h.events.ReadOrdered(c.Request.Context(), aggregateID)
	if err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения журнала событий")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, record := range records {
		out = append(out, gin.H{
			"sequence_number": record.SequenceNumber,
			"event_type":      record.EventType,
			"schema_version":  record.SchemaVersion,
			"payload":         json.RawMessage(record.Payload),
			"created_at":      record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "events": out})
}

func (h *Handler) listIncompleteSagas(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	instances, err := h.sagas.FindAllIncomplete(c.Request.Context(), limit)
	if err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения незавершённых саг")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	out := make([]gin.H, 0, len(instances))
	for _, instance := range instances {
		out = append(out, sagaView(instance))
	}

	c.JSON(http.StatusOK, gin.H{"sagas": out})
}

func (h *Handler) getSaga(c *gin.Context) {
	instance, err := h.sagas.GetByOrderID(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		if errors.Is(err, readmodel.ErrSagaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "сага не найдена"})
			return
		}

		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения саги")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	c.JSON(http.StatusOK, sagaView(instance))
}

func (h *Handler) listEligibleDlq(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	records, err := h.dlq.FindEligibleForRetry(c.Request.Context(), time.Now().UTC(), limit)
	if err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения DLQ")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, record := range records {
		out = append(out, gin.H{
			"id":             record.ID,
			"event_id":       record.EventID,
			"original_topic": record.OriginalTopic,
			"event_type":     record.EventType,
			"aggregate_id":   record.AggregateID,
			"failure_reason": record.FailureReason,
			"status":         record.Status,
			"retry_count":    record.RetryCount,
			"max_retries":    record.MaxRetries,
			"next_retry_at":  record.NextRetryAt,
			"created_at":     record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": out})
}

func (h *Handler) dlqStats(c *gin.Context) {
	counts, err := h.dlq.CountByStatus(c.Request.Context())
	if err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения статистики DLQ")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *Handler) outboxStats(c *gin.Context) {
	counts, err := h.outbox.CountByStatus(c.Request.Context())
	if err != nil {
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения статистики outbox")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func sagaView(instance *readmodel.SagaInstance) gin.H {
	return gin.H{
		"id":             instance.ID,
		"order_id":       instance.OrderID,
		"reservation_id": instance.ReservationID,
		"saga_type":      instance.SagaType,
		"status":         instance.Status,
		"step_history":   instance.StepHistory,
		"failure_reason": instance.FailureReason,
		"version":        instance.Version,
		"created_at":     instance.CreatedAt,
		"updated_at":     instance.UpdatedAt,
	}
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultListLimit))

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный параметр limit"})
		return 0, false
	}

	return limit, true
}
