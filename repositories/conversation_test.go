package repositories

import (
	"chat-relay/domain"
	"chat-relay/domain/search"
	"chat-relay/errors"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func conversationAt(room, user, message string, at time.Time) domain.Conversation {
	return domain.Conversation{
		ID:        uuid.New(),
		UserID:    user,
		RoomID:    room,
		Message:   message,
		Lang:      "en",
		CreatedAt: at.UTC(),
	}
}

func TestConversationRepository_Store_And_Get_Sorted(t *testing.T) {
	req := require.New(t)
	repo := newConversationRepository(t, nil)
	at := time.Now().UTC()

	// Given conversations stored out of order
	stored := []domain.Conversation{
		conversationAt("main", "bob", "second", at.Add(time.Minute)),
		conversationAt("main", "alice", "first", at),
		conversationAt("main", "clara", "third", at.Add(2*time.Minute)),
	}
	for _, c := range stored {
		req.NoError(repo.Store(c))
	}

	// When fetching the room
	fetched, cursor, err := repo.GetConversations("main", nil)

	// Then they come back newest first, with nothing left to page
	req.NoError(err)
	req.Nil(cursor)
	req.Equal([]domain.Conversation{stored[2], stored[0], stored[1]}, fetched)
}

func TestConversationRepository_Pagination(t *testing.T) {
	req := require.New(t)
	repo := newConversationRepository(t, lo.ToPtr(2))
	at := time.Now().UTC()

	for i := 1; i <= 5; i++ {
		req.NoError(repo.Store(conversationAt("war-room", "alice", fmt.Sprintf("Message %d", i), at.Add(time.Duration(i)*time.Minute))))
	}

	// --- PAGE 1 ---
	page1, cursor1, err := repo.GetConversations("war-room", nil)
	req.NoError(err)
	req.Len(page1, 2)
	req.Equal("Message 5", page1[0].Message)
	req.Equal("Message 4", page1[1].Message)
	req.NotNil(cursor1)

	// --- PAGE 2 ---
	page2, cursor2, err := repo.GetConversations("war-room", cursor1)
	req.NoError(err)
	req.Len(page2, 2)
	req.Equal("Message 3", page2[0].Message)
	req.Equal("Message 2", page2[1].Message)
	req.NotNil(cursor2)

	// --- PAGE 3 ---
	page3, cursor3, err := repo.GetConversations("war-room", cursor2)
	req.NoError(err)
	req.Len(page3, 1)
	req.Equal("Message 1", page3[0].Message)
	req.Nil(cursor3)
}

func TestConversationRepository_Rooms_Sharing_A_Prefix_Stay_Apart(t *testing.T) {
	req := require.New(t)
	repo := newConversationRepository(t, nil)
	at := time.Now().UTC()

	req.NoError(repo.Store(conversationAt("a", "alice", "in a", at)))
	req.NoError(repo.Store(conversationAt("a:1", "bob", "in a:1", at.Add(time.Second))))

	fetched, _, err := repo.GetConversations("a", nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("in a", fetched[0].Message)
}

func TestConversationRepository_Unknown_Room_Is_Empty(t *testing.T) {
	req := require.New(t)
	repo := newConversationRepository(t, nil)

	fetched, cursor, err := repo.GetConversations("nowhere", nil)

	req.NoError(err)
	req.Empty(fetched)
	req.Nil(cursor)
}

func TestConversationRepository_Search(t *testing.T) {
	ctx := context.Background()
	repo := newConversationRepository(t, nil)
	at := time.Now().UTC()

	indexed := []domain.Conversation{
		conversationAt("ops", "alice", "Deploy planned on friday", at),
		conversationAt("main", "bob", "no deploy on friday please", at.Add(time.Minute)),
		conversationAt("main", "clara", "lunch anyone?", at.Add(2*time.Minute)),
	}
	for _, c := range indexed {
		require.NoError(t, repo.Store(c))
		require.NoError(t, repo.Index(c))
	}

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "All rooms newest first", input: "deploy", want: []string{"bob", "alice"}},
		{name: "Scoped to a room", input: "deploy --room ops", want: []string{"alice"}},
		{name: "Limited", input: "friday --limit 1", want: []string{"bob"}},
		{name: "No match", input: "kubernetes", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)

			results, err := repo.Search(ctx, search.NewSearchQuery(tt.input))

			req.NoError(err)
			req.Equal(tt.want, lo.Map(results, func(c domain.Conversation, _ int) string { return c.UserID }))
		})
	}
}

func TestConversationRepository_Search_Requires_Terms(t *testing.T) {
	req := require.New(t)
	repo := newConversationRepository(t, nil)

	_, err := repo.Search(context.Background(), search.NewSearchQuery("--room ops"))

	req.ErrorIs(err, errors.ErrEmptySearch)
}
