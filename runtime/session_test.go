package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type frame struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// fakeConn is an in-memory websocket. Frames pushed on inbound are returned by Read,
// payloads written by the session land on written.
type fakeConn struct {
	inbound   chan frame
	written   chan []byte
	answer    bool
	pings     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
	closeCode atomic.Int32
}

func newFakeConn(answerPings bool) *fakeConn {
	return &fakeConn{
		inbound: make(chan frame, 16),
		written: make(chan []byte, 64),
		answer:  answerPings,
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.typ, f.data, f.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Write(ctx context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case c.written <- append([]byte(nil), p...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.pings.Add(1)
	if c.answer {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.closeOnce.Do(func() {
		c.closeCode.Store(int32(code))
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) send(t *testing.T, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	c.inbound <- frame{typ: websocket.MessageText, data: data}
}

func (c *fakeConn) sendRaw(data string) {
	c.inbound <- frame{typ: websocket.MessageText, data: []byte(data)}
}

// drain collects every payload written during d.
func (c *fakeConn) drain(t *testing.T, d time.Duration) []domain.ChatPayload {
	t.Helper()
	var payloads []domain.ChatPayload
	deadline := time.After(d)
	for {
		select {
		case data := <-c.written:
			payload, err := domain.ParsePayload(data)
			require.NoError(t, err)
			payloads = append(payloads, payload)
		case <-deadline:
			return payloads
		}
	}
}

// waitFor returns the first written payload of the given type.
func (c *fakeConn) waitFor(t *testing.T, chatType domain.ChatType) domain.ChatPayload {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.written:
			payload, err := domain.ParsePayload(data)
			require.NoError(t, err)
			if payload.Type == chatType {
				return payload
			}
		case <-timeout:
			require.FailNow(t, "payload never written", chatType.String())
		}
	}
}

func ofType(payloads []domain.ChatPayload, chatType domain.ChatType) []domain.ChatPayload {
	var out []domain.ChatPayload
	for _, p := range payloads {
		if p.Type == chatType {
			out = append(out, p)
		}
	}
	return out
}

func testSessionConfig() SessionConfig {
	config := DefaultSessionConfig()
	config.WriteTimeout = time.Second
	config.ConnectTimeout = time.Second
	return config
}

type acceptAll struct{}

func (acceptAll) Submit(domain.NewConversation) bool { return true }

type runningSession struct {
	session *Session
	conn    *fakeConn
	done    chan error
}

func startSession(t *testing.T, registry *Registry, conn *fakeConn, submitter contract.ConversationSubmitter, config SessionConfig, opts ...SessionOption) runningSession {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	session := NewSession(log, conn, registry, submitter, config, opts...)
	done := make(chan error, 1)
	go func() { done <- session.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		<-done
	})
	require.Eventually(t, func() bool { return session.State() == domain.Active }, 2*time.Second, 5*time.Millisecond)
	return runningSession{session: session, conn: conn, done: done}
}

func TestSession_Text_Is_Relayed_To_Others_And_Persisted(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := startRegistry(t, RegistryConfig{})

	// Given A and B in room main
	submitted := make(chan domain.NewConversation, 1)
	submitter := mocks.NewMockConversationSubmitter(ctrl)
	submitter.EXPECT().Submit(gomock.Any()).DoAndReturn(func(c domain.NewConversation) bool {
		submitted <- c
		return true
	}).Times(1)
	a := startSession(t, registry, newFakeConn(true), submitter, testSessionConfig())
	b := startSession(t, registry, newFakeConn(true), submitter, testSessionConfig())
	a.conn.drain(t, 50*time.Millisecond)
	b.conn.drain(t, 50*time.Millisecond)

	// When A sends a text
	a.conn.send(t, map[string]any{"chat_type": "TEXT", "value": []string{"hi"}, "room_id": "main", "user_id": "u1", "id": 999})

	// Then B receives it stamped with A's id
	received := b.conn.waitFor(t, domain.Text)
	req.Equal([]string{"hi"}, received.Values)
	req.Equal(a.session.ID(), received.ID)
	req.Equal("u1", received.UserID)
	req.Empty(ofType(b.conn.drain(t, 100*time.Millisecond), domain.Text))

	// And A receives nothing back
	req.Empty(ofType(a.conn.drain(t, 100*time.Millisecond), domain.Text))

	// And the conversation is handed over for persistence
	select {
	case c := <-submitted:
		req.Equal(domain.NewConversation{UserID: "u1", RoomID: "main", Message: "hi"}, c)
	case <-time.After(time.Second):
		req.Fail("conversation never submitted")
	}
}

func TestSession_Typing_Is_Relayed_Without_Persistence(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := startRegistry(t, RegistryConfig{})

	// Given a submitter that must never be called
	submitter := mocks.NewMockConversationSubmitter(ctrl)
	a := startSession(t, registry, newFakeConn(true), submitter, testSessionConfig())
	b := startSession(t, registry, newFakeConn(true), submitter, testSessionConfig())

	a.conn.send(t, map[string]any{"chat_type": "TYPING", "value": []string{}, "room_id": "main", "user_id": "u1"})

	typing := b.conn.waitFor(t, domain.Typing)
	req.Equal(a.session.ID(), typing.ID)
}

func TestSession_Malformed_Frame_Keeps_Session_Active(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := startRegistry(t, RegistryConfig{})
	a := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())
	b := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())

	// When A sends garbage, then an unknown kind
	a.conn.sendRaw("{not json")
	a.conn.sendRaw(`{"chat_type":"SHOUT"}`)

	// Then A is still active and still a member
	a.conn.send(t, map[string]any{"chat_type": "TYPING"})
	b.conn.waitFor(t, domain.Typing)
	req.Equal(domain.Active, a.session.State())
	members, err := registry.Members(ctx, domain.DefaultRoom)
	req.NoError(err)
	req.Contains(members, a.session.ID())
}

func TestSession_Client_Kinds_Other_Than_Typing_And_Text_Are_Ignored(t *testing.T) {
	req := require.New(t)
	registry := startRegistry(t, RegistryConfig{})
	a := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())
	b := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())
	b.conn.drain(t, 50*time.Millisecond)

	a.conn.send(t, map[string]any{"chat_type": "DISCONNECT", "value": []string{"fake"}})
	a.conn.send(t, map[string]any{"chat_type": "CONNECT", "value": []string{"fake"}})

	payloads := b.conn.drain(t, 150*time.Millisecond)
	req.Empty(ofType(payloads, domain.Disconnect))
	req.Empty(ofType(payloads, domain.Connect))
}

func TestSession_Close_Frame_Disconnects_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := startRegistry(t, RegistryConfig{})
	a := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())
	b := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())
	b.conn.drain(t, 50*time.Millisecond)
	idA := a.session.ID()

	// When A's client sends a close frame
	a.conn.inbound <- frame{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}

	// Then Serve returns and the session is closed
	select {
	case err := <-a.done:
		req.NoError(err)
		a.done <- err
	case <-time.After(2 * time.Second):
		req.FailNow("session did not stop")
	}
	req.Equal(domain.Closed, a.session.State())

	// And B receives exactly one DISCONNECT for A
	disconnects := ofType(b.conn.drain(t, 150*time.Millisecond), domain.Disconnect)
	req.Len(disconnects, 1)
	req.Equal(idA, disconnects[0].ID)
	members, err := registry.Members(ctx, domain.DefaultRoom)
	req.NoError(err)
	req.NotContains(members, idA)

	// And nothing more can be delivered to A
	req.ErrorIs(a.session.Deliver(domain.ChatPayload{Type: domain.Text}), errors.ErrSessionClosed)
}

func TestSession_Heartbeat_Timeout_Removes_Silent_Client(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := startRegistry(t, RegistryConfig{})

	// Given a client that never answers pings nor sends anything
	config := testSessionConfig()
	config.HeartbeatInterval = 20 * time.Millisecond
	config.ClientTimeout = 60 * time.Millisecond
	silent := startSession(t, registry, newFakeConn(false), acceptAll{}, config)
	id := silent.session.ID()

	// Then the connection is closed even though the socket looks open
	select {
	case <-silent.conn.closed:
	case <-time.After(2 * time.Second):
		req.FailNow("silent session was never closed")
	}
	req.Eventually(func() bool { return silent.session.State() == domain.Closed }, time.Second, 5*time.Millisecond)
	req.Equal(int32(websocket.StatusGoingAway), silent.conn.closeCode.Load())

	// And the registry forgot it
	members, err := registry.Members(ctx, domain.DefaultRoom)
	req.NoError(err)
	req.NotContains(members, id)
}

func TestSession_Heartbeat_Answered_Pings_Keep_Session_Alive(t *testing.T) {
	req := require.New(t)
	registry := startRegistry(t, RegistryConfig{})

	config := testSessionConfig()
	config.HeartbeatInterval = 20 * time.Millisecond
	config.ClientTimeout = 60 * time.Millisecond
	s := startSession(t, registry, newFakeConn(true), acceptAll{}, config)

	time.Sleep(300 * time.Millisecond)

	req.Equal(domain.Active, s.session.State())
	req.GreaterOrEqual(s.conn.pings.Load(), int32(5))
}

func TestSession_Registry_Unavailable_Goes_Straight_To_Closed(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)

	// Given a registry that cannot acknowledge Connect
	registry := mocks.NewMockIRegistry(ctrl)
	registry.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(domain.NoSession, errors.ErrRegistryUnavailable)
	conn := newFakeConn(true)
	session := NewSession(slog.Default(), conn, registry, acceptAll{}, testSessionConfig())

	// When the session is served
	err := session.Serve(context.Background())

	// Then it never became active and the socket is closed
	req.ErrorIs(err, errors.ErrRegistryUnavailable)
	req.Equal(domain.Closed, session.State())
	req.Equal(int32(websocket.StatusTryAgainLater), conn.closeCode.Load())
	req.ErrorIs(session.Deliver(domain.ChatPayload{}), errors.ErrSessionClosed)
}

func TestSession_Joins_Requested_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := startRegistry(t, RegistryConfig{})
	inMain := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())

	s := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig(), WithRoom("lobby"))

	req.Eventually(func() bool { return s.session.Room() == "lobby" }, time.Second, 5*time.Millisecond)
	lobby, err := registry.Members(ctx, "lobby")
	req.NoError(err)
	req.Equal([]domain.SessionID{s.session.ID()}, lobby)

	// And texts sent in the lobby do not reach main
	s.conn.send(t, map[string]any{"chat_type": "TEXT", "value": []string{"psst"}, "room_id": "lobby"})
	req.Empty(ofType(inMain.conn.drain(t, 150*time.Millisecond), domain.Text))
}

func TestSession_Censors_Text_Before_Relay(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := startRegistry(t, RegistryConfig{})

	censor := mocks.NewMockCensor(ctrl)
	censor.EXPECT().Censor("badger").Return("******").AnyTimes()
	submitted := make(chan domain.NewConversation, 1)
	submitter := mocks.NewMockConversationSubmitter(ctrl)
	submitter.EXPECT().Submit(gomock.Any()).DoAndReturn(func(c domain.NewConversation) bool {
		submitted <- c
		return true
	})

	a := startSession(t, registry, newFakeConn(true), submitter, testSessionConfig(), WithCensor(censor))
	b := startSession(t, registry, newFakeConn(true), submitter, testSessionConfig())

	a.conn.send(t, map[string]any{"chat_type": "TEXT", "value": []string{"badger"}, "room_id": "main", "user_id": "u1"})

	req.Equal([]string{"******"}, b.conn.waitFor(t, domain.Text).Values)
	select {
	case c := <-submitted:
		req.Equal("******", c.Message)
	case <-time.After(time.Second):
		req.Fail("conversation never submitted")
	}
}

func TestSession_Resolves_Display_Name(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := startRegistry(t, RegistryConfig{})

	gateway := mocks.NewMockIPersistenceGateway(ctrl)
	gateway.EXPECT().FindUser(gomock.Any(), "alice").Return(domain.User{ID: "alice", Nickname: "Al"}, nil)

	s := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig(), WithUser(gateway, "alice"))

	req.Eventually(func() bool { return s.session.Name() == "Al" }, time.Second, 5*time.Millisecond)
}

func TestSession_Rate_Limit_Drops_Excess_Frames(t *testing.T) {
	req := require.New(t)
	registry := startRegistry(t, RegistryConfig{})

	config := testSessionConfig()
	config.RateLimit = 1
	config.RateBurst = 1
	a := startSession(t, registry, newFakeConn(true), acceptAll{}, config)
	b := startSession(t, registry, newFakeConn(true), acceptAll{}, testSessionConfig())

	for i := 0; i < 3; i++ {
		a.conn.send(t, map[string]any{"chat_type": "TYPING"})
	}

	req.Len(ofType(b.conn.drain(t, 200*time.Millisecond), domain.Typing), 1)
}
