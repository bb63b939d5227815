package workers

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"chat-relay/observability"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPersistenceQueue_Submit_Drops_When_Full(t *testing.T) {
	req := require.New(t)
	monitor := observability.NewMonitor(slog.Default())

	// Given a queue holding a single entry
	queue := NewPersistenceQueue(slog.Default(), 1, monitor)
	req.True(queue.Submit(domain.NewConversation{UserID: "u1", RoomID: "main", Message: "first"}))

	// When a second conversation arrives before any worker drained it
	accepted := queue.Submit(domain.NewConversation{UserID: "u1", RoomID: "main", Message: "second"})

	// Then it is dropped without blocking
	req.False(accepted)
	req.Equal(1, queue.Len())
	req.Equal(uint64(1), monitor.Snapshot().PersistDropped)
}

func TestPersistenceWorker_Appends_Submitted_Conversations(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockIPersistenceGateway(ctrl)
	monitor := observability.NewMonitor(slog.Default())

	want := domain.NewConversation{UserID: "u1", RoomID: "main", Message: "hi"}
	stored := make(chan domain.NewConversation, 1)
	gateway.EXPECT().
		AppendConversation(gomock.Any(), want).
		DoAndReturn(func(ctx context.Context, c domain.NewConversation) (domain.Conversation, error) {
			stored <- c
			return domain.Conversation{ID: uuid.New(), UserID: c.UserID, RoomID: c.RoomID, Message: c.Message}, nil
		})

	queue := NewPersistenceQueue(slog.Default(), 4, monitor)
	worker := NewPersistenceWorker(slog.Default(), queue, gateway, time.Second, monitor)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// When a conversation is submitted
	req.True(queue.Submit(want))

	// Then the worker hands it to the gateway
	select {
	case got := <-stored:
		req.Equal(want, got)
	case <-time.After(time.Second):
		req.FailNow("conversation never persisted")
	}
	req.Eventually(func() bool { return monitor.Snapshot().Persisted == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	req.ErrorIs(<-done, context.Canceled)
}

func TestPersistenceWorker_Keeps_Running_After_A_Failed_Append(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockIPersistenceGateway(ctrl)
	monitor := observability.NewMonitor(slog.Default())

	// Given a gateway failing the first append only
	second := make(chan struct{})
	gomock.InOrder(
		gateway.EXPECT().AppendConversation(gomock.Any(), gomock.Any()).
			Return(domain.Conversation{}, errors.New("disk full")),
		gateway.EXPECT().AppendConversation(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, c domain.NewConversation) (domain.Conversation, error) {
				close(second)
				return domain.Conversation{ID: uuid.New()}, nil
			}),
	)

	queue := NewPersistenceQueue(slog.Default(), 4, monitor)
	worker := NewPersistenceWorker(slog.Default(), queue, gateway, time.Second, monitor)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	queue.Submit(domain.NewConversation{UserID: "u1", RoomID: "main", Message: "lost"})
	queue.Submit(domain.NewConversation{UserID: "u1", RoomID: "main", Message: "kept"})

	select {
	case <-second:
	case <-time.After(time.Second):
		req.FailNow("worker stopped after the failure")
	}
	req.Eventually(func() bool {
		s := monitor.Snapshot()
		return s.PersistFailed == 1 && s.Persisted == 1
	}, time.Second, 5*time.Millisecond)
}
