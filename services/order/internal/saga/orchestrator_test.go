package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
)

type orchestratorMocks struct {
	sagas  *mockSagaRepository
	orders *mockOrderRepository
	outbox *mockOutboxRepository
	store  *mockEventStore
}

func newTestOrchestrator() (*Orchestrator, *orchestratorMocks) {
	m := &orchestratorMocks{
		sagas:  new(mockSagaRepository),
		orders: new(mockOrderRepository),
		outbox: new(mockOutboxRepository),
		store:  new(mockEventStore),
	}

	o := NewOrchestrator(m.sagas, m.orders, m.outbox, m.store, events.NewRouting(), 5)
	return o, m
}

func testItems() []domain.OrderItem {
	return []domain.OrderItem{{ProductID: "product-1", Quantity: 2, Price: 500}}
}

func anyEvent() *eventstore.Event {
	return &eventstore.Event{SequenceNumber: 1}
}

func TestStartOrderSaga(t *testing.T) {
	o, m := newTestOrchestrator()

	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.orders.On("CreateInTx", mock.Anything, mock.Anything).Return(nil)
	m.sagas.On("CreateInTx", mock.Anything, mock.MatchedBy(func(s *Instance) bool {
		return s.Status == StatusInProgress && len(s.StepHistory) == 1 &&
			s.StepHistory[0].Step == StepReserveInventory &&
			s.StepHistory[0].Outcome == OutcomeDispatched
	})).Return(nil)
	m.store.On("AppendInTx", mock.Anything, mock.Anything, events.EventOrderCreated, mock.Anything, 1).
		Return(anyEvent(), nil)
	m.outbox.On("EnqueueIfAbsent", mock.Anything, mock.MatchedBy(func(e *outbox.Entry) bool {
		return e.CorrelationKey == "reserve:"+e.AggregateID &&
			e.Topic == events.TopicOrderCreated &&
			e.PartitionKey == e.AggregateID
	})).Return(true, nil)

	order, err := o.StartOrderSaga(context.Background(), "customer-1", testItems(), "RUB")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, order.Status)

	m.sagas.AssertExpectations(t)
	m.orders.AssertExpectations(t)
	m.store.AssertExpectations(t)
	m.outbox.AssertExpectations(t)
}

func TestStartOrderSaga_InvalidOrder(t *testing.T) {
	o, m := newTestOrchestrator()

	_, err := o.StartOrderSaga(context.Background(), "", testItems(), "RUB")

	assert.ErrorIs(t, err, domain.ErrEmptyCustomerID)
	m.sagas.AssertNotCalled(t, "Transaction", mock.Anything)
}

func TestHandleReservationSuccess(t *testing.T) {
	o, m := newTestOrchestrator()

	instance := NewInstance("order-1")
	instance.RecordStep(StepReserveInventory, OutcomeDispatched, "")
	require.NoError(t, instance.MarkInProgress())

	order := &domain.Order{ID: "order-1", Status: domain.StatusPending, Version: 1}

	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)
	m.orders.On("GetByID", mock.Anything, "order-1").Return(order, nil)
	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.orders.On("UpdateStatusInTx", mock.Anything, order).Return(nil)
	m.sagas.On("UpdateInTx", mock.Anything, instance).Return(nil)
	m.store.On("AppendInTx", mock.Anything, "order-1", events.EventOrderConfirmed, mock.Anything, 1).
		Return(anyEvent(), nil)

	err := o.HandleReservationSuccess(context.Background(), "order-1", "res-1")

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, instance.Status)
	assert.Equal(t, "res-1", instance.ReservationID)
	assert.Equal(t, domain.StatusConfirmed, order.Status)
	m.sagas.AssertExpectations(t)
}

func TestHandleReservationSuccess_TerminalSaga(t *testing.T) {
	o, m := newTestOrchestrator()

	instance := NewInstance("order-1")
	instance.Status = StatusCompleted

	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)

	// Повторная доставка ответа — no-op
	err := o.HandleReservationSuccess(context.Background(), "order-1", "res-1")

	require.NoError(t, err)
	m.orders.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	m.sagas.AssertNotCalled(t, "UpdateInTx", mock.Anything, mock.Anything)
}

func TestHandleReservationSuccess_LateReplyAfterFailure(t *testing.T) {
	o, m := newTestOrchestrator()

	// Отмена обогнала команду резервирования: сага уже FAILED,
	// но резерв в Inventory появился. Ответ не должен пропасть —
	// уходит команда снятия резерва.
	instance := NewInstance("order-1")
	instance.Status = StatusFailed
	instance.FailureReason = "передумал"

	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)
	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.sagas.On("UpdateInTx", mock.Anything, instance).Return(nil)
	m.outbox.On("EnqueueIfAbsent", mock.Anything, mock.MatchedBy(func(e *outbox.Entry) bool {
		return e.CorrelationKey == "release:order-1" &&
			e.Topic == events.TopicOrderCancelled
	})).Return(true, nil)

	err := o.HandleReservationSuccess(context.Background(), "order-1", "res-1")

	require.NoError(t, err)
	assert.Equal(t, "res-1", instance.ReservationID)
	m.outbox.AssertExpectations(t)
	m.sagas.AssertExpectations(t)
	m.orders.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestHandleReservationSuccess_LateDuplicateAfterFailure(t *testing.T) {
	o, m := newTestOrchestrator()

	// Резерв уже известен саге: команда снятия отправлена раньше,
	// повторный ответ — no-op
	instance := NewInstance("order-1")
	instance.Status = StatusFailed
	instance.ReservationID = "res-1"

	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)

	err := o.HandleReservationSuccess(context.Background(), "order-1", "res-1")

	require.NoError(t, err)
	m.outbox.AssertNotCalled(t, "EnqueueIfAbsent", mock.Anything, mock.Anything)
	m.sagas.AssertNotCalled(t, "UpdateInTx", mock.Anything, mock.Anything)
}

func TestHandleReservationFailure(t *testing.T) {
	o, m := newTestOrchestrator()

	instance := NewInstance("order-1")
	require.NoError(t, instance.MarkInProgress())

	order := &domain.Order{ID: "order-1", Status: domain.StatusPending, Version: 1}

	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)
	m.orders.On("GetByID", mock.Anything, "order-1").Return(order, nil)
	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.orders.On("UpdateStatusInTx", mock.Anything, order).Return(nil)
	m.sagas.On("UpdateInTx", mock.Anything, instance).Return(nil)
	m.store.On("AppendInTx", mock.Anything, "order-1", events.EventOrderFailed, mock.Anything, 1).
		Return(anyEvent(), nil)

	err := o.HandleReservationFailure(context.Background(), "order-1", "нет товара")

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, instance.Status)
	assert.Equal(t, "нет товара", instance.FailureReason)
	assert.Equal(t, domain.StatusFailed, order.Status)

	// Резерва не было — команда снятия не отправлялась
	m.outbox.AssertNotCalled(t, "EnqueueIfAbsent", mock.Anything, mock.Anything)
}

func TestHandleReservationFailure_WithReservation(t *testing.T) {
	o, m := newTestOrchestrator()

	instance := NewInstance("order-1")
	require.NoError(t, instance.MarkInProgress())
	instance.ReservationID = "res-1"

	order := &domain.Order{ID: "order-1", Status: domain.StatusPending, Version: 1}

	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)
	m.orders.On("GetByID", mock.Anything, "order-1").Return(order, nil)
	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.orders.On("UpdateStatusInTx", mock.Anything, order).Return(nil)
	m.sagas.On("UpdateInTx", mock.Anything, instance).Return(nil)
	m.store.On("AppendInTx", mock.Anything, "order-1", events.EventOrderFailed, mock.Anything, 1).
		Return(anyEvent(), nil)
	m.outbox.On("EnqueueIfAbsent", mock.Anything, mock.Anything).Return(true, nil)

	err := o.HandleReservationFailure(context.Background(), "order-1", "нет товара")

	require.NoError(t, err)
	m.outbox.AssertCalled(t, "EnqueueIfAbsent", mock.Anything, mock.Anything)
}

func TestHandleReservationSuccess_ConcurrentUpdateRetries(t *testing.T) {
	o, m := newTestOrchestrator()

	makeInstance := func() *Instance {
		instance := NewInstance("order-1")
		require.NoError(t, instance.MarkInProgress())
		return instance
	}

	// Каждая попытка перечитывает сагу и заказ заново, поэтому мок отдаёт
	// свежие экземпляры: повторный Confirm() на том же заказе был бы
	// недопустимым переходом статуса
	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(makeInstance(), nil).Once()
	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(makeInstance(), nil).Once()
	m.orders.On("GetByID", mock.Anything, "order-1").
		Return(&domain.Order{ID: "order-1", Status: domain.StatusPending, Version: 1}, nil).Once()
	m.orders.On("GetByID", mock.Anything, "order-1").
		Return(&domain.Order{ID: "order-1", Status: domain.StatusPending, Version: 1}, nil).Once()
	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.orders.On("UpdateStatusInTx", mock.Anything, mock.Anything).Return(nil)
	m.sagas.On("UpdateInTx", mock.Anything, mock.Anything).Return(ErrSagaConcurrentUpdate).Once()
	m.sagas.On("UpdateInTx", mock.Anything, mock.Anything).Return(nil).Once()
	m.store.On("AppendInTx", mock.Anything, "order-1", events.EventOrderConfirmed, mock.Anything, 1).
		Return(anyEvent(), nil)

	err := o.HandleReservationSuccess(context.Background(), "order-1", "res-1")

	require.NoError(t, err)
	m.sagas.AssertNumberOfCalls(t, "GetByOrderID", 2)
}

func TestCancelOrder(t *testing.T) {
	o, m := newTestOrchestrator()

	instance := NewInstance("order-1")
	require.NoError(t, instance.MarkInProgress())

	order := &domain.Order{ID: "order-1", Status: domain.StatusPending, Version: 1}

	m.orders.On("GetByID", mock.Anything, "order-1").Return(order, nil)
	m.sagas.On("GetByOrderID", mock.Anything, "order-1").Return(instance, nil)
	m.sagas.On("Transaction", mock.Anything).Return(nil)
	m.orders.On("UpdateStatusInTx", mock.Anything, order).Return(nil)
	m.sagas.On("UpdateInTx", mock.Anything, instance).Return(nil)
	m.store.On("AppendInTx", mock.Anything, "order-1", events.EventOrderCancelled, mock.Anything, 1).
		Return(anyEvent(), nil)
	m.outbox.On("EnqueueIfAbsent", mock.Anything, mock.Anything).Return(true, nil)

	err := o.CancelOrder(context.Background(), "order-1", "передумал")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Equal(t, StatusFailed, instance.Status)
}

func TestCancelOrder_ConfirmedOrder(t *testing.T) {
	o, m := newTestOrchestrator()

	order := &domain.Order{ID: "order-1", Status: domain.StatusConfirmed, Version: 2}
	m.orders.On("GetByID", mock.Anything, "order-1").Return(order, nil)

	err := o.CancelOrder(context.Background(), "order-1", "поздно")

	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
	m.sagas.AssertNotCalled(t, "Transaction", mock.Anything)
}
