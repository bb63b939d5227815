package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

var (
	_ contract.ConversationSubmitter = (*PersistenceQueue)(nil)
	_ contract.Worker                = (*PersistenceWorker)(nil)
)

// PersistenceQueue decouples the sessions from the persistence gateway.
// Relaying never waits for storage: when the queue is full the conversation is dropped.
type PersistenceQueue struct {
	log     *slog.Logger
	entries chan domain.NewConversation
	monitor *observability.Monitor
}

func NewPersistenceQueue(log *slog.Logger, capacity int, monitor *observability.Monitor) *PersistenceQueue {
	return &PersistenceQueue{
		log:     log,
		entries: make(chan domain.NewConversation, max(capacity, 1)),
		monitor: monitor,
	}
}

func (q *PersistenceQueue) Submit(conversation domain.NewConversation) bool {
	select {
	case q.entries <- conversation:
		return true
	default:
		q.monitor.PersistDropped()
		q.log.Warn("Persistence queue full, conversation dropped",
			"room_id", conversation.RoomID, "user_id", conversation.UserID)
		return false
	}
}

func (q *PersistenceQueue) Len() int { return len(q.entries) }

func (q *PersistenceQueue) Cap() int { return cap(q.entries) }

// PersistenceWorker drains the queue into the gateway. Several workers may share one queue.
type PersistenceWorker struct {
	log     *slog.Logger
	queue   *PersistenceQueue
	gateway contract.IPersistenceGateway
	timeout time.Duration
	monitor *observability.Monitor
}

func NewPersistenceWorker(
	log *slog.Logger,
	queue *PersistenceQueue,
	gateway contract.IPersistenceGateway,
	timeout time.Duration,
	monitor *observability.Monitor,
) *PersistenceWorker {
	return &PersistenceWorker{
		log:     log,
		queue:   queue,
		gateway: gateway,
		timeout: timeout,
		monitor: monitor,
	}
}

func (w *PersistenceWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping persistence worker", "pending", w.queue.Len())
			return ctx.Err()
		case conversation := <-w.queue.entries:
			w.store(ctx, conversation)
		}
	}
}

// store never fails the worker: a rejected append is logged and counted.
func (w *PersistenceWorker) store(ctx context.Context, conversation domain.NewConversation) {
	storeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	saved, err := w.gateway.AppendConversation(storeCtx, conversation)
	if err != nil {
		w.monitor.PersistFailed()
		w.log.Error("Failed to persist conversation",
			"room_id", conversation.RoomID, "user_id", conversation.UserID, "error", err)
		return
	}
	w.monitor.Persisted()
	w.log.Debug("Conversation persisted", "id", saved.ID, "room_id", saved.RoomID)
}
