package relay

import (
	"context"

	"github.com/stretchr/testify/mock"

	"example.com/fulfillment-system/pkg/kafka"
)

// ============================================================================
// Моки для тестов relay
// ============================================================================

type mockChangeSource struct {
	mock.Mock
}

func (m *mockChangeSource) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kafka.Message), args.Error(1)
}

func (m *mockChangeSource) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockOutboxMarker struct {
	mock.Mock
}

func (m *mockOutboxMarker) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOutboxMarker) MarkFailed(ctx context.Context, id string, sendErr error) error {
	args := m.Called(ctx, id, sendErr)
	return args.Error(0)
}
