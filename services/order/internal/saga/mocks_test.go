package saga

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
)

// ============================================================================
// Моки для тестов оркестратора
// ============================================================================

type mockSagaRepository struct {
	mock.Mock
}

func (m *mockSagaRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	args := m.Called(ctx)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

func (m *mockSagaRepository) CreateInTx(tx *gorm.DB, instance *Instance) error {
	args := m.Called(tx, instance)
	return args.Error(0)
}

func (m *mockSagaRepository) GetByOrderID(ctx context.Context, orderID string) (*Instance, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Instance), args.Error(1)
}

func (m *mockSagaRepository) UpdateInTx(tx *gorm.DB, instance *Instance) error {
	args := m.Called(tx, instance)
	return args.Error(0)
}

func (m *mockSagaRepository) FindIncomplete(ctx context.Context, staleBefore time.Time, limit int) ([]*Instance, error) {
	args := m.Called(ctx, staleBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Instance), args.Error(1)
}

func (m *mockSagaRepository) FindAllIncomplete(ctx context.Context, limit int) ([]*Instance, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Instance), args.Error(1)
}

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) CreateInTx(tx *gorm.DB, order *domain.Order) error {
	args := m.Called(tx, order)
	return args.Error(0)
}

func (m *mockOrderRepository) UpdateStatusInTx(tx *gorm.DB, order *domain.Order) error {
	args := m.Called(tx, order)
	return args.Error(0)
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
