package e2e

import (
	"chat-relay/domain"
	"chat-relay/infrastructure/grpc/server"
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type testRelaySuite struct {
	BaseRelaySuite
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, &testRelaySuite{})
}

func (s *testRelaySuite) TestFullRelayFlow() {
	room := "e2e-" + uuid.NewString()[:8]
	username := "alice-" + uuid.NewString()[:8]

	// --- STEP 0: HEALTH ---
	s.Run("Step 0: Relay reports SERVING", func() {
		s.WithHealth("Checking relay health", func(ctx context.Context, client grpc_health_v1.HealthClient) {
			resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: server.RelayService})
			s.Require().NoError(err)
			s.Require().Equal(grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
		})
	})

	// --- STEP 1: USER ---
	s.Run("Step 1: Create the sender", func() {
		var user domain.User
		code := s.PostJSON("/users/create", domain.NewUser{Username: username, Nickname: "Alice"}, &user)
		s.Require().Equal(http.StatusOK, code)
		s.Require().Equal("Alice", user.Nickname)
	})

	// --- STEP 2: RELAY ---
	s.Run("Step 2: Two sessions share a room", func() {
		alice := s.Dial("Alice joins", url.Values{"room": {room}, "user_id": {username}})
		aliceID := s.Next(alice, domain.Connect).ID

		bob := s.Dial("Bob joins", url.Values{"room": {room}})
		bobID := s.Next(bob, domain.Connect).ID
		s.Require().NotEqual(aliceID, bobID)

		s.Send(alice, domain.ChatPayload{Type: domain.Text, Values: []string{"hello ", "bob"}, RoomID: room, UserID: username})
		got := s.Next(bob, domain.Text)
		s.Require().Equal([]string{"hello ", "bob"}, got.Values)
		s.Require().Equal(room, got.RoomID)
		s.Require().Equal(aliceID, got.ID)
	})

	// --- STEP 3: HISTORY ---
	s.Run("Step 3: The message lands in the room history", func() {
		s.Require().Eventually(func() bool {
			var conversations []domain.Conversation
			code := s.GetJSON("/conversations/"+room, &conversations)
			return code == http.StatusOK && len(conversations) == 1 && conversations[0].Message == "hello bob"
		}, 5*time.Second, 100*time.Millisecond)
	})
}

func (s *testRelaySuite) TestUnknownRoomHasNoHistory() {
	t := s.T()
	s.header(t, "Unknown room")
	code := s.GetJSON("/conversations/missing-"+uuid.NewString(), nil)
	s.Require().Equal(http.StatusNotFound, code)
}

