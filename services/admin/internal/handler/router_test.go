package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment-system/pkg/dlq"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/services/admin/internal/readmodel"
)

type mockEventReader struct {
	mock.Mock
}

func (m *mockEventReader) ReadOrdered(ctx context.Context, aggregateID string) ([]*eventstore.Event, error) {
	args := m.Called(ctx, aggregateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*eventstore.Event), args.Error(1)
}

type mockSagaReader struct {
	mock.Mock
}

func (m *mockSagaReader) GetByOrderID(ctx context.Context, orderID string) (*readmodel.SagaInstance, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*readmodel.SagaInstance), args.Error(1)
}

func (m *mockSagaReader) FindAllIncomplete(ctx context.Context, limit int) ([]*readmodel.SagaInstance, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*readmodel.SagaInstance), args.Error(1)
}

type mockDlqReader struct {
	mock.Mock
}

func (m *mockDlqReader) FindEligibleForRetry(ctx context.Context, now time.Time, limit int) ([]*dlq.Record, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*dlq.Record), args.Error(1)
}

func (m *mockDlqReader) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

type mockOutboxReader struct {
	mock.Mock
}

func (m *mockOutboxReader) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

type routerMocks struct {
	events *mockEventReader
	sagas  *mockSagaReader
	dlq    *mockDlqReader
	outbox *mockOutboxReader
}

func setupRouter(t *testing.T) (*gin.Engine, *routerMocks) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mocks := &routerMocks{
		events: &mockEventReader{},
		sagas:  &mockSagaReader{},
		dlq:    &mockDlqReader{},
		outbox: &mockOutboxReader{},
	}

	noAuth := func(c *gin.Context) { c.Next() }
	router := NewRouter(mocks.events, mocks.sagas, mocks.dlq, mocks.outbox, "admin-service-test", noAuth)

	return router, mocks
}

func TestListAggregateEvents(t *testing.T) {
	router, mocks := setupRouter(t)

	mocks.events.On("ReadOrdered", mock.Anything, "order-1").Return([]*eventstore.Event{
		{
			AggregateID:    "order-1",
			EventType:      "order.created",
			Payload:        []byte(`{"order_id":"order-1"}`),
			SchemaVersion:  1,
			SequenceNumber: 1,
		},
		{
			AggregateID:    "order-1",
			EventType:      "order.confirmed",
			Payload:        []byte(`{"order_id":"order-1"}`),
			SchemaVersion:  1,
			SequenceNumber: 2,
		},
	}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/aggregates/order-1/events", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AggregateID string `json:"aggregate_id"`
		Events      []struct {
			SequenceNumber uint64 `json:"sequence_number"`
			EventType      string `json:"event_type"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "order-1", resp.AggregateID)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, uint64(1), resp.Events[0].SequenceNumber)
	assert.Equal(t, "order.confirmed", resp.Events[1].EventType)
}

func TestListIncompleteSagas(t *testing.T) {
	router, mocks := setupRouter(t)

	mocks.sagas.On("FindAllIncomplete", mock.Anything, 100).Return([]*readmodel.SagaInstance{
		{
			ID:       "saga-1",
			OrderID:  "order-1",
			SagaType: "ORDER_FULFILLMENT",
			Status:   "IN_PROGRESS",
			Version:  2,
		},
	}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/incomplete", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "saga-1")
	assert.Contains(t, w.Body.String(), "IN_PROGRESS")
}

func TestListIncompleteSagasBadLimit(t *testing.T) {
	router, mocks := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/incomplete?limit=0", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mocks.sagas.AssertNotCalled(t, "FindAllIncomplete", mock.Anything, mock.Anything)
}

func TestGetSagaNotFound(t *testing.T) {
	router, mocks := setupRouter(t)

	mocks.sagas.On("GetByOrderID", mock.Anything, "missing").Return(nil, readmodel.ErrSagaNotFound)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/missing", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEligibleDlq(t *testing.T) {
	router, mocks := setupRouter(t)

	mocks.dlq.On("FindEligibleForRetry", mock.Anything, mock.Anything, 10).Return([]*dlq.Record{
		{
			ID:            "dlq-1",
			EventID:       "evt-1",
			OriginalTopic: "order.created",
			EventType:     "order.created",
			AggregateID:   "order-1",
			FailureReason: "ошибка резервирования",
			Status:        dlq.StatusPending,
			RetryCount:    1,
			MaxRetries:    3,
		},
	}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/eligible?limit=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dlq-1")
	assert.Contains(t, w.Body.String(), dlq.StatusPending)
}

func TestDlqStats(t *testing.T) {
	router, mocks := setupRouter(t)

	mocks.dlq.On("CountByStatus", mock.Anything).Return(map[string]int64{
		dlq.StatusPending:          3,
		dlq.StatusPermanentFailure: 1,
	}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dlq/stats", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Counts map[string]int64 `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Counts[dlq.StatusPending])
}

func TestOutboxStatsError(t *testing.T) {
	router, mocks := setupRouter(t)

	mocks.outbox.On("CountByStatus", mock.Anything).Return(nil, errors.New("недоступна БД"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/stats", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
