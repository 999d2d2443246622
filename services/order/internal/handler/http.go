// Package handler содержит HTTP API сервиса заказов.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/services/order/internal/domain"
	"example.com/fulfillment-system/services/order/internal/saga"
)

// createOrderRequest — запрос создания заказа.
type createOrderRequest struct {
	CustomerID string             `json:"customer_id" binding:"required"`
	Currency   string             `json:"currency" binding:"required,len=3"`
	Items      []orderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	Price     int64  `json:"price" binding:"gte=0"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// Handler — HTTP обработчики сервиса заказов.
type Handler struct {
	orchestrator *saga.Orchestrator
}

// NewRouter создаёт gin-роутер сервиса заказов.
func NewRouter(orchestrator *saga.Orchestrator, serviceName string) *gin.Engine {
	h := &Handler{orchestrator: orchestrator}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestContext())

	api := router.Group("/api/v1")
	{
		api.POST("/orders", h.createOrder)
		api.GET("/orders/:id", h.getOrder)
		api.POST("/orders/:id/cancel", h.cancelOrder)
	}

	return router
}

// requestContext кладёт trace_id и correlation_id в context запроса.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-Id", traceID)
		c.Next()
	}
}

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	ctx := logger.WithCorrelationID(c.Request.Context(), req.CustomerID)

	order, err := h.orchestrator.StartOrderSaga(ctx, req.CustomerID, items, req.Currency)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка создания заказа")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"order_id": order.ID,
		"status":   order.Status,
		"amount":   order.Amount,
		"currency": order.Currency,
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orchestrator.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "заказ не найден"})
			return
		}

		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка чтения заказа")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":       order.ID,
		"customer_id":    order.CustomerID,
		"status":         order.Status,
		"amount":         order.Amount,
		"currency":       order.Currency,
		"failure_reason": order.FailureReason,
		"created_at":     order.CreatedAt,
		"updated_at":     order.UpdatedAt,
	})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	// Тело запроса опционально
	var req cancelOrderRequest
	_ = c.ShouldBindJSON(&req)

	if req.Reason == "" {
		req.Reason = "отменён пользователем"
	}

	err := h.orchestrator.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "заказ не найден"})
		case errors.Is(err, domain.ErrOrderNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": "заказ нельзя отменить в текущем статусе"})
		default:
			logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка отмены заказа")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "внутренняя ошибка"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "status": domain.StatusCancelled})
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrEmptyCustomerID) ||
		errors.Is(err, domain.ErrEmptyItems) ||
		errors.Is(err, domain.ErrEmptyProductID) ||
		errors.Is(err, domain.ErrInvalidQuantity) ||
		errors.Is(err, domain.ErrInvalidPrice)
}
