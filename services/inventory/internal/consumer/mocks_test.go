package consumer

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/dlq"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/inventory/internal/domain"
)

// ============================================================================
// Моки для тестов обработчика событий заказов
// ============================================================================

type mockInventoryRepository struct {
	mock.Mock
}

func (m *mockInventoryRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	args := m.Called(ctx)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

func (m *mockInventoryRepository) ReserveInTx(tx *gorm.DB, reservation *domain.Reservation) error {
	args := m.Called(tx, reservation)
	return args.Error(0)
}

func (m *mockInventoryRepository) ReleaseInTx(tx *gorm.DB, orderID string) (*domain.Reservation, error) {
	args := m.Called(tx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockInventoryRepository) GetReservationInTx(tx *gorm.DB, orderID string) (*domain.Reservation, error) {
	args := m.Called(tx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockInventoryRepository) GetReservationByOrderID(ctx context.Context, orderID string) (*domain.Reservation, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockInventoryRepository) GetStock(ctx context.Context, productID string) (*domain.Stock, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stock), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) IsDuplicate(ctx context.Context, eventID string) bool {
	args := m.Called(ctx, eventID)
	return args.Bool(0)
}

func (m *mockLedger) TryClaimInTx(tx *gorm.DB, eventID, aggregateID, eventType string) (bool, error) {
	args := m.Called(tx, eventID, aggregateID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) CacheSeen(ctx context.Context, eventID string) {
	m.Called(ctx, eventID)
}

type mockFailureSink struct {
	mock.Mock
}

func (m *mockFailureSink) RecordFailure(ctx context.Context, eventID, originalTopic, eventType, aggregateID string, payload []byte, failure error) (*dlq.Record, error) {
	args := m.Called(ctx, eventID, originalTopic, eventType, aggregateID, payload, failure)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dlq.Record), args.Error(1)
}

type mockOutboxRepository struct {
	mock.Mock
}

func (m *mockOutboxRepository) Enqueue(tx *gorm.DB, entry *outbox.Entry) error {
	args := m.Called(tx, entry)
	return args.Error(0)
}

func (m *mockOutboxRepository) EnqueueIfAbsent(tx *gorm.DB, entry *outbox.Entry) (bool, error) {
	args := m.Called(tx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *mockOutboxRepository) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOutboxRepository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	args := m.Called(ctx, id, sendErr)
	return args.Error(0)
}

func (m *mockOutboxRepository) FindPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Entry), args.Error(1)
}

func (m *mockOutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *mockOutboxRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Append(ctx context.Context, aggregateID, eventType string, payload []byte, schemaVersion int) (*eventstore.Event, error) {
	args := m.Called(ctx, aggregateID, eventType, payload, schemaVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventstore.Event), args.Error(1)
}

func (m *mockEventStore) AppendInTx(tx *gorm.DB, aggregateID, eventType string, payload []byte, schemaVersion int) (*eventstore.Event, error) {
	args := m.Called(tx, aggregateID, eventType, payload, schemaVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventstore.Event), args.Error(1)
}

func (m *mockEventStore) ReadOrdered(ctx context.Context, aggregateID string) ([]*eventstore.Event, error) {
	args := m.Called(ctx, aggregateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*eventstore.Event), args.Error(1)
}
