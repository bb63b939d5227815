//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/search"
	"context"
	"reflect"

	"github.com/coder/websocket"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Outbound is the handle the registry pushes payloads into.
// Deliver must never block.
type Outbound interface {
	Deliver(payload domain.ChatPayload) error
}

type RegistryStats struct {
	Sessions          int    `json:"sessions"`
	Rooms             int    `json:"rooms"`
	DroppedDeliveries uint64 `json:"dropped_deliveries"`
}

type IRegistry interface {
	Connect(ctx context.Context, out Outbound) (domain.SessionID, error)
	Disconnect(ctx context.Context, id domain.SessionID) error
	Join(ctx context.Context, id domain.SessionID, room domain.RoomName) error
	Broadcast(ctx context.Context, room domain.RoomName, payload domain.ChatPayload, exclude domain.SessionID) error
	ListRooms(ctx context.Context) ([]domain.RoomName, error)
	Members(ctx context.Context, room domain.RoomName) ([]domain.SessionID, error)
	Stats(ctx context.Context) (RegistryStats, error)
}

// Conn is the subset of *websocket.Conn a session relies on.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

type IPersistenceGateway interface {
	FindUser(ctx context.Context, id string) (domain.User, error)
	FindRoom(ctx context.Context, id string) (domain.Room, error)
	AppendConversation(ctx context.Context, conversation domain.NewConversation) (domain.Conversation, error)
}

// ConversationSubmitter hands conversations over to background persistence.
// Submit never blocks and reports whether the entry was accepted.
type ConversationSubmitter interface {
	Submit(conversation domain.NewConversation) bool
}

// Censor rewrites forbidden words in a message value.
type Censor interface {
	Censor(original string) string
}

type IChatService interface {
	IPersistenceGateway
	CreateUser(ctx context.Context, user domain.NewUser) (domain.User, error)
	GetConversations(ctx context.Context, roomID string, cursor *string) ([]domain.Conversation, *string, error)
	GetRooms(ctx context.Context) ([]domain.RoomResponse, error)
	Search(ctx context.Context, query search.Query) ([]domain.Conversation, error)
}
