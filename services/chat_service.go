package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/search"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var _ contract.IChatService = (*ChatService)(nil)

// ChatService is the persistence gateway of the relay and backs the HTTP API.
type ChatService struct {
	log           *slog.Logger
	validate      *validator.Validate
	users         repositories.IUserRepository
	rooms         repositories.IRoomRepository
	conversations repositories.IConversationRepository
}

func NewChatService(
	log *slog.Logger,
	users repositories.IUserRepository,
	rooms repositories.IRoomRepository,
	conversations repositories.IConversationRepository,
) *ChatService {
	return &ChatService{
		log:           log,
		validate:      validator.New(),
		users:         users,
		rooms:         rooms,
		conversations: conversations,
	}
}

func (s *ChatService) CreateUser(_ context.Context, user domain.NewUser) (domain.User, error) {
	if err := s.validate.Struct(user); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", errors.ErrInvalidUser, err)
	}
	return s.users.Create(user)
}

func (s *ChatService) FindUser(_ context.Context, id string) (domain.User, error) {
	return s.users.Get(id)
}

func (s *ChatService) FindRoom(_ context.Context, id string) (domain.Room, error) {
	return s.rooms.Find(id)
}

// AppendConversation stores the conversation, refreshes its room and indexes it.
// Once the record is stored the call succeeds: room and index failures are only logged.
func (s *ChatService) AppendConversation(ctx context.Context, newConversation domain.NewConversation) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, err
	}
	conversation := domain.Conversation{
		ID:        uuid.New(),
		Message:   newConversation.Message,
		UserID:    newConversation.UserID,
		RoomID:    newConversation.RoomID,
		Lang:      detectLang(newConversation.Message),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.conversations.Store(conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("failed to store conversation: %w", err)
	}
	if _, err := s.rooms.Touch(conversation.RoomID, conversation.Message, conversation.UserID, conversation.CreatedAt); err != nil {
		s.log.Error("Failed to update room", "room_id", conversation.RoomID, "error", err)
	}
	if err := s.conversations.Index(conversation); err != nil {
		s.log.Error("Failed to index conversation", "id", conversation.ID, "error", err)
	}
	return conversation, nil
}

func (s *ChatService) GetConversations(_ context.Context, roomID string, cursor *string) ([]domain.Conversation, *string, error) {
	return s.conversations.GetConversations(roomID, cursor)
}

// GetRooms returns every stored room with the users who posted in it.
func (s *ChatService) GetRooms(_ context.Context) ([]domain.RoomResponse, error) {
	rooms, err := s.rooms.List()
	if err != nil {
		return nil, err
	}
	responses := make([]domain.RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		users, err := s.users.GetMany(room.ParticipantIDs)
		if err != nil {
			return nil, err
		}
		responses = append(responses, domain.RoomResponse{Room: room, Users: lo.Ternary(users == nil, []domain.User{}, users)})
	}
	return responses, nil
}

func (s *ChatService) Search(ctx context.Context, query search.Query) ([]domain.Conversation, error) {
	if query.Empty() {
		return nil, errors.ErrEmptySearch
	}
	return s.conversations.Search(ctx, query)
}

// detectLang keeps the ISO 639-1 code only when the detection is reliable.
func detectLang(message string) string {
	info := whatlanggo.Detect(message)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
